package server

import (
	"fmt"
	"time"
)

type WebhookConfig struct {
	Url         string `usage:"If set, a POST request that contains connection status notifications will be sent to this HTTP address"`
	RequireUser bool   `default:"false" usage:"Indicates if the webhook will only be called for login sessions rather than just server list/ping"`
}

type ForwardingConfig struct {
	Secret     string        `usage:"The modern forwarding secret shared with the proxy. It is HIGHLY recommended to pass as an environment variable."`
	SecretFile string        `usage:"Path to a file containing the forwarding secret"`
	Layout     string        `default:"timestamped" usage:"Layout of the signed player info: timestamped,velocity"`
	Timeout    time.Duration `default:"5s" usage:"How long to wait for the proxy to answer the player info request"`
	MaxAge     time.Duration `default:"0s" usage:"Reject player info signed longer ago than this. Only applies to the timestamped layout, 0 disables"`
}

type Config struct {
	Listen              string   `default:"127.0.0.1:45565" usage:"The [host:port] bound to listen for proxy connections"`
	Backend             string   `default:"127.0.0.1:35565" usage:"The [host:port] of the backend server expecting legacy forwarding"`
	Forwarding          ForwardingConfig
	TrustedAddresses    []string `usage:"Zero or more proxy IP addresses allowed to connect. Keep empty to allow all connections, which is insecure"`
	LegacyProperties    string   `default:"json" usage:"How player profile properties are added to the legacy handshake: json,none"`
	PlayersAllowDeny    string   `usage:"Path to a JSON file of global and per server player allowlists and denylists"`
	UseProxyProtocol    bool     `default:"false" usage:"Send PROXY protocol to the backend server"`
	ConnectionRateLimit int      `default:"20" usage:"Max number of connections to allow per second"`
	LogLevel            string   `default:"info" usage:"Logging verbosity: off,error,warn,info,debug,trace"`
	ConfigFile          string   `default:"mc-legacy-forwarder.toml" usage:"Path to the TOML config file, created with defaults when missing. Set empty to only use flags and environment"`
	ConfigWatch         bool     `usage:"Watch the config file for changes and apply them to new connections"`
	ApiBinding          string   `usage:"The [host:port] bound for servicing API requests"`
	CpuProfile          string   `usage:"Enables CPU profiling and writes to given path"`

	MetricsBackend       string `default:"discard" usage:"Backend to use for metrics exposure/publishing: discard,expvar,influxdb,prometheus"`
	MetricsBackendConfig MetricsBackendConfig

	Webhook WebhookConfig `usage:"Webhook configuration"`
}

// String masks the forwarding secret so the config can be logged
func (c Config) String() string {
	masked := c
	if masked.Forwarding.Secret != "" {
		masked.Forwarding.Secret = "***"
	}
	if masked.MetricsBackendConfig.Influxdb.Password != "" {
		masked.MetricsBackendConfig.Influxdb.Password = "***"
	}
	type plain Config
	return fmt.Sprintf("%+v", plain(masked))
}
