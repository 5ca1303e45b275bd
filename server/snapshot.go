package server

import (
	"os"
	"strings"
	"time"

	"github.com/itzg/mc-legacy-forwarder/forwarding"
	"github.com/pkg/errors"
)

// Snapshot is the read only view of the configuration a session runs with. A new one is built on
// every reload and sessions keep the one they were accepted with.
type Snapshot struct {
	Backend           string
	TrustGate         *TrustGate
	Verifier          *forwarding.Verifier
	Encoder           *forwarding.LegacyEncoder
	ForwardingTimeout time.Duration
	PlayerAccess      *AllowDenyConfig
	UseProxyProtocol  bool
}

func NewSnapshot(config *Config) (*Snapshot, error) {
	if config.Backend == "" {
		return nil, errors.New("backend address is required")
	}

	secret, err := resolveSecret(&config.Forwarding)
	if err != nil {
		return nil, err
	}

	layout, err := forwarding.ParseLayout(config.Forwarding.Layout)
	if err != nil {
		return nil, err
	}
	if config.Forwarding.MaxAge < 0 {
		return nil, errors.Errorf("forwarding max age cannot be negative: %s", config.Forwarding.MaxAge)
	}

	propertyEncoder, err := forwarding.PropertyEncoderFor(config.LegacyProperties)
	if err != nil {
		return nil, err
	}

	trustGate, err := NewTrustGate(config.TrustedAddresses)
	if err != nil {
		return nil, err
	}

	var playerAccess *AllowDenyConfig
	if config.PlayersAllowDeny != "" {
		playerAccess, err = ParseAllowDenyConfig(config.PlayersAllowDeny)
		if err != nil {
			return nil, err
		}
	}

	timeout := config.Forwarding.Timeout
	if timeout <= 0 {
		timeout = defaultForwardingTimeout
	}

	return &Snapshot{
		Backend:   config.Backend,
		TrustGate: trustGate,
		Verifier: forwarding.NewVerifier(secret,
			forwarding.WithLayout(layout),
			forwarding.WithMaxAge(config.Forwarding.MaxAge)),
		Encoder:           forwarding.NewLegacyEncoder(propertyEncoder),
		ForwardingTimeout: timeout,
		PlayerAccess:      playerAccess,
		UseProxyProtocol:  config.UseProxyProtocol,
	}, nil
}

func resolveSecret(config *ForwardingConfig) ([]byte, error) {
	if config.Secret != "" {
		return []byte(config.Secret), nil
	}
	if config.SecretFile != "" {
		content, err := os.ReadFile(config.SecretFile)
		if err != nil {
			return nil, errors.Wrap(err, "could not read forwarding secret file")
		}
		secret := strings.TrimSpace(string(content))
		if secret == "" {
			return nil, errors.Wrapf(ErrNoSecret, "%s is empty", config.SecretFile)
		}
		return []byte(secret), nil
	}
	return nil, ErrNoSecret
}
