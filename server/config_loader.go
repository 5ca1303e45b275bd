package server

import (
	"bytes"
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const debounceConfigRereadDuration = time.Second * 5

// ErrCreatedDefaultConfig is returned by Load after a default config file was written in place of a missing one
var ErrCreatedDefaultConfig = errors.New("created default config file")

// ConfigFileSchema declares the keys of the TOML config file. Keys that are left out keep the
// value given by flags or the environment.
type ConfigFileSchema struct {
	BindAddress       *string   `toml:"bind_address" comment:"The address this proxy will listen on"`
	BackendAddress    *string   `toml:"backend_address" comment:"The address of the backend server, which must have legacy (BungeeCord) forwarding enabled"`
	ForwardingSecret  *string   `toml:"forwarding_secret" comment:"The modern forwarding secret, alternatively set the FORWARDING_SECRET environment variable"`
	ForwardingLayout  *string   `toml:"forwarding_layout" comment:"Layout of the signed player info: timestamped or velocity"`
	ForwardingTimeout *string   `toml:"forwarding_timeout" comment:"How long to wait for the proxy to send the signed player info"`
	ForwardingMaxAge  *string   `toml:"forwarding_max_age" comment:"Reject player info signed longer ago than this, 0s disables the check"`
	TrustedAddresses  *[]string `toml:"trusted_addresses" comment:"The proxy addresses allowed to connect, keep this empty to allow all connections"`
	LegacyProperties  *string   `toml:"legacy_properties" comment:"How profile properties are passed to the backend: json or none"`
	PlayersAllowDeny  *string   `toml:"players_allow_deny" comment:"Optional path to a JSON file with player allowlists and denylists"`
	UseProxyProtocol  *bool     `toml:"use_proxy_protocol" comment:"Send a PROXY protocol v2 header to the backend"`
	LogLevel          *string   `toml:"log_level" comment:"The logging verbosity, one of: off, error, warn, info, debug or trace"`
}

// ConfigLoader layers the optional TOML config file over the configuration given by flags and environment
type ConfigLoader struct {
	fileName string
	base     Config
}

func NewConfigLoader(base *Config) *ConfigLoader {
	return &ConfigLoader{
		fileName: base.ConfigFile,
		base:     *base,
	}
}

func (l *ConfigLoader) isEnabled() bool {
	return l.fileName != ""
}

// Load reads the config file. When it does not exist yet, a default one is written and
// ErrCreatedDefaultConfig is returned so the user can edit it before starting again.
func (l *ConfigLoader) Load() (*Config, error) {
	if !l.isEnabled() {
		config := l.base
		return &config, nil
	}

	logrus.WithField("configFile", l.fileName).Debug("Loading config file")

	schema, readErr := l.readFile()
	if readErr != nil {
		if errors.Is(readErr, fs.ErrNotExist) {
			logrus.WithField("configFile", l.fileName).Info("Could not find config file, creating default config")
			if err := WriteDefaultConfigFile(l.fileName, &l.base); err != nil {
				return nil, err
			}
			return nil, errors.Wrapf(ErrCreatedDefaultConfig, "please edit %s and restart", l.absFileName())
		}
		return nil, readErr
	}

	return l.apply(schema)
}

// Reload re-reads an existing config file
func (l *ConfigLoader) Reload() (*Config, error) {
	if !l.isEnabled() {
		config := l.base
		return &config, nil
	}

	schema, err := l.readFile()
	if err != nil {
		return nil, err
	}
	logrus.WithField("configFile", l.fileName).Info("Re-loading config file")
	return l.apply(schema)
}

func (l *ConfigLoader) apply(schema *ConfigFileSchema) (*Config, error) {
	config := l.base
	if err := applyConfigFile(&config, schema); err != nil {
		return nil, errors.Wrapf(err, "invalid value in %s", l.fileName)
	}
	return &config, nil
}

// WatchForChanges calls onChange with the merged configuration each time the file settles after being written
func (l *ConfigLoader) WatchForChanges(ctx context.Context, onChange func(config *Config)) error {
	if !l.isEnabled() {
		return errors.New("config file needs to be specified first")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "Could not create a watcher")
	}

	err = watcher.Add(l.fileName)
	if err != nil {
		_ = watcher.Close()
		return errors.Wrap(err, "Could not watch the config file")
	}

	go func() {
		logrus.WithField("file", l.fileName).Info("Watching config file")

		debounceTimerChan := make(<-chan time.Time)
		var debounceTimer *time.Timer

		//goland:noinspection GoUnhandledErrorResult
		defer watcher.Close()
		for {
			select {

			case event, ok := <-watcher.Events:
				if !ok {
					logrus.Debug("Watcher events channel closed")
					return
				}
				logrus.
					WithField("file", event.Name).
					WithField("op", event.Op).
					Trace("fs event received")
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					if debounceTimer == nil {
						debounceTimer = time.NewTimer(debounceConfigRereadDuration)
					} else {
						debounceTimer.Reset(debounceConfigRereadDuration)
					}
					debounceTimerChan = debounceTimer.C
					logrus.WithField("delay", debounceConfigRereadDuration).Debug("Will re-read config file after delay")
				}

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logrus.WithError(err).Warn("Config file watcher failed")

			case <-debounceTimerChan:
				config, readErr := l.Reload()
				if readErr != nil {
					logrus.
						WithError(readErr).
						WithField("configFile", l.fileName).
						Error("Could not re-read the config file")
					continue
				}
				onChange(config)

			case <-ctx.Done():
				return
			}
		}
	}()

	return nil
}

func (l *ConfigLoader) readFile() (*ConfigFileSchema, error) {
	content, err := os.ReadFile(l.fileName)
	if err != nil {
		return nil, errors.Wrap(err, "Could not load the config file")
	}

	var schema ConfigFileSchema
	decoder := toml.NewDecoder(bytes.NewReader(content)).DisallowUnknownFields()
	if err := decoder.Decode(&schema); err != nil {
		var strictErr *toml.StrictMissingError
		if errors.As(err, &strictErr) {
			return nil, errors.Errorf("Unknown keys in the config file:\n%s", strictErr.String())
		}
		return nil, errors.Wrap(err, "Could not parse the config file")
	}
	return &schema, nil
}

func (l *ConfigLoader) absFileName() string {
	abs, err := filepath.Abs(l.fileName)
	if err != nil {
		return l.fileName
	}
	return abs
}

func applyConfigFile(config *Config, schema *ConfigFileSchema) error {
	if schema.BindAddress != nil {
		config.Listen = *schema.BindAddress
	}
	if schema.BackendAddress != nil {
		config.Backend = *schema.BackendAddress
	}
	// an empty secret in the file falls back to flags and the environment
	if schema.ForwardingSecret != nil && *schema.ForwardingSecret != "" {
		config.Forwarding.Secret = *schema.ForwardingSecret
	}
	if schema.ForwardingLayout != nil {
		config.Forwarding.Layout = *schema.ForwardingLayout
	}
	if schema.ForwardingTimeout != nil {
		timeout, err := time.ParseDuration(*schema.ForwardingTimeout)
		if err != nil {
			return errors.Wrap(err, "forwarding_timeout")
		}
		config.Forwarding.Timeout = timeout
	}
	if schema.ForwardingMaxAge != nil {
		maxAge, err := time.ParseDuration(*schema.ForwardingMaxAge)
		if err != nil {
			return errors.Wrap(err, "forwarding_max_age")
		}
		config.Forwarding.MaxAge = maxAge
	}
	if schema.TrustedAddresses != nil {
		config.TrustedAddresses = append([]string(nil), *schema.TrustedAddresses...)
	}
	if schema.LegacyProperties != nil {
		config.LegacyProperties = *schema.LegacyProperties
	}
	if schema.PlayersAllowDeny != nil {
		config.PlayersAllowDeny = *schema.PlayersAllowDeny
	}
	if schema.UseProxyProtocol != nil {
		config.UseProxyProtocol = *schema.UseProxyProtocol
	}
	if schema.LogLevel != nil {
		if _, err := ParseLogLevel(*schema.LogLevel); err != nil {
			return errors.Wrap(err, "log_level")
		}
		config.LogLevel = *schema.LogLevel
	}
	return nil
}

// WriteDefaultConfigFile writes a commented config file holding the values of defaults, leaving the secret empty
func WriteDefaultConfigFile(fileName string, defaults *Config) error {
	emptySecret := ""
	trusted := append([]string{}, defaults.TrustedAddresses...)
	timeout := defaults.Forwarding.Timeout.String()
	maxAge := defaults.Forwarding.MaxAge.String()

	schema := &ConfigFileSchema{
		BindAddress:       &defaults.Listen,
		BackendAddress:    &defaults.Backend,
		ForwardingSecret:  &emptySecret,
		ForwardingLayout:  &defaults.Forwarding.Layout,
		ForwardingTimeout: &timeout,
		ForwardingMaxAge:  &maxAge,
		TrustedAddresses:  &trusted,
		LegacyProperties:  &defaults.LegacyProperties,
		PlayersAllowDeny:  &defaults.PlayersAllowDeny,
		UseProxyProtocol:  &defaults.UseProxyProtocol,
		LogLevel:          &defaults.LogLevel,
	}

	content, err := toml.Marshal(schema)
	if err != nil {
		return errors.Wrap(err, "Could not encode the default config")
	}

	err = os.WriteFile(fileName, content, 0600)
	if err != nil {
		return errors.Wrap(err, "Could not write the default config file")
	}
	return nil
}
