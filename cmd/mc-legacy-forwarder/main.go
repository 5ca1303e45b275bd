package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/itzg/go-flagsfiller"
	"github.com/itzg/mc-legacy-forwarder/server"
	"github.com/sirupsen/logrus"
)

var versionFlag = flag.Bool("version", false, "Output version and exit")

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func showVersion() {
	fmt.Printf("%v, commit %v, built at %v", version, commit, date)
}

func main() {
	var cliConfig server.Config
	filler := flagsfiller.New(flagsfiller.WithEnv(""))
	err := filler.Fill(flag.CommandLine, &cliConfig)
	if err != nil {
		logrus.WithError(err).Fatal("Unable to setup flags")
	}

	flag.Parse()

	if *versionFlag {
		showVersion()
		os.Exit(0)
	}

	if err := server.ConfigureLogging(cliConfig.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}

	loader := server.NewConfigLoader(&cliConfig)
	config, err := loader.Load()
	if err != nil {
		if errors.Is(err, server.ErrCreatedDefaultConfig) {
			logrus.Info(err.Error())
			os.Exit(0)
		}
		logrus.WithError(err).Fatal("Could not load configuration")
	}
	if err := server.ConfigureLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Fatal("Invalid log level")
	}
	logrus.WithField("config", config).Debug("Using configuration")

	if config.CpuProfile != "" {
		cpuProfileFile, err := os.Create(config.CpuProfile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to create cpu profile file")
		}
		//goland:noinspection GoUnhandledErrorResult
		defer cpuProfileFile.Close()

		logrus.WithField("file", config.CpuProfile).Info("Starting cpu profiling")
		err = pprof.StartCPUProfile(cpuProfileFile)
		if err != nil {
			logrus.WithError(err).Fatal("trying to start cpu profile")
		}
		defer pprof.StopCPUProfile()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s, err := server.NewServer(ctx, config, loader)
	if err != nil {
		logrus.WithError(err).Fatal("Could not setup server")
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	done := make(chan struct{})
	go func() {
		s.Run()
		close(done)
	}()

	for {
		select {
		case sig := <-c:
			switch sig {
			case syscall.SIGHUP:
				logrus.Info("Received SIGHUP, reloading config")
				s.ReloadConfig()

			default:
				logrus.WithField("signal", sig).Info("Stopping")
				cancel()
			}

		case addr := <-s.ListenAddr():
			logrus.WithField("listen", addr).
				WithField("backend", config.Backend).
				Info("Ready to translate player info forwarding")

		case <-done:
			return
		}
	}
}
