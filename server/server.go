package server

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
)

type Server struct {
	ctx              context.Context
	config           *Config
	loader           *ConfigLoader
	connector        *Connector
	reloadConfigChan chan struct{}
	configChanges    chan *Config
	listenAddr       chan net.Addr
}

// NewServer validates config and prepares everything needed to accept connections. loader may be nil
// when there is no config file to reload.
func NewServer(ctx context.Context, config *Config, loader *ConfigLoader) (*Server, error) {
	snapshot, err := NewSnapshot(config)
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	warnIfUntrusted(snapshot)

	if config.ConnectionRateLimit < 1 {
		config.ConnectionRateLimit = 1
	}

	metricsBuilder := NewMetricsBuilder(config.MetricsBackend, &config.MetricsBackendConfig)
	connector := NewConnector(ctx, metricsBuilder.BuildConnectorMetrics(), snapshot)

	if config.Webhook.Url != "" {
		logrus.WithField("url", config.Webhook.Url).
			WithField("require-user", config.Webhook.RequireUser).
			Info("Using webhook for connection status notifications")
		connector.UseConnectionNotifier(
			NewWebhookNotifier(config.Webhook.Url, config.Webhook.RequireUser))
	}

	s := &Server{
		ctx:              ctx,
		config:           config,
		loader:           loader,
		connector:        connector,
		reloadConfigChan: make(chan struct{}),
		configChanges:    make(chan *Config),
		listenAddr:       make(chan net.Addr, 1),
	}

	if config.ConfigWatch && loader != nil {
		err := loader.WatchForChanges(ctx, func(changed *Config) {
			select {
			case s.configChanges <- changed:
			case <-ctx.Done():
			}
		})
		if err != nil {
			return nil, fmt.Errorf("could not watch for changes to config file: %w", err)
		}
	}

	if config.ApiBinding != "" {
		StartApiServer(ctx, config.ApiBinding, connector)
	}

	err = metricsBuilder.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not start metrics reporter: %w", err)
	}

	return s, nil
}

func warnIfUntrusted(snapshot *Snapshot) {
	if snapshot.TrustGate.AllowsAll() {
		logrus.Warn("No trusted addresses are configured, so connections from any address are accepted. " +
			"Only do this when the listen address is unreachable from anywhere but the proxy.")
	}
}

// ReloadConfig indicates that an external request, such as a SIGHUP,
// is requesting the config file to be reloaded, if enabled
func (s *Server) ReloadConfig() {
	select {
	case s.reloadConfigChan <- struct{}{}:
	case <-s.ctx.Done():
	}
}

// AcceptConnection provides a way to externally supply a connection to consume
// Note that this will skip rate limiting.
func (s *Server) AcceptConnection(conn net.Conn) {
	s.connector.AcceptConnection(conn)
}

// ListenAddr returns the bound listen address once Run has started listening
func (s *Server) ListenAddr() <-chan net.Addr {
	return s.listenAddr
}

// Run will run the server until the context is done or a fatal error occurs, so this should be
// in a go routine.
func (s *Server) Run() {
	addr, err := s.connector.StartAcceptingConnections(
		s.config.Listen,
		s.config.ConnectionRateLimit,
	)
	if err != nil {
		logrus.WithError(err).Error("Could not start accepting connections")
		return
	}
	s.listenAddr <- addr

	for {
		select {
		case <-s.reloadConfigChan:
			if s.loader == nil {
				logrus.Debug("No config file to reload")
				continue
			}
			config, err := s.loader.Reload()
			if err != nil {
				logrus.WithError(err).
					Error("Could not re-read the config file")
				continue
			}
			s.applyConfig(config)

		case config := <-s.configChanges:
			s.applyConfig(config)

		case <-s.ctx.Done():
			logrus.Info("Server Stopping. Waiting for connections to complete...")
			s.connector.WaitForConnections()
			logrus.Info("Stopped")
			return
		}
	}
}

// applyConfig rebuilds the snapshot for new sessions. A config that fails validation leaves the current one in place.
func (s *Server) applyConfig(config *Config) {
	snapshot, err := NewSnapshot(config)
	if err != nil {
		logrus.WithError(err).Error("Ignoring invalid configuration")
		return
	}
	warnIfUntrusted(snapshot)

	if err := ConfigureLogging(config.LogLevel); err != nil {
		logrus.WithError(err).Warn("Keeping the current log level")
	}
	if config.Listen != s.config.Listen {
		logrus.WithField("listen", config.Listen).Warn("A changed listen address is only applied after a restart")
	}

	s.connector.UpdateSnapshot(snapshot)
	logrus.WithField("backend", snapshot.Backend).Info("Applied configuration to new connections")
}
