package forwarding

import "github.com/pkg/errors"

var (
	// ErrForwardingUnsupported is returned when the upstream answered the player info request
	// with the wrong message id or reported that it does not understand the channel
	ErrForwardingUnsupported        = errors.New("upstream does not support modern forwarding")
	ErrUnsupportedForwardingVersion = errors.New("unsupported forwarding version")
	// ErrInvalidSignature deliberately carries no detail about what did not match
	ErrInvalidSignature   = errors.New("invalid forwarding signature")
	ErrStaleForwarding    = errors.New("forwarding payload is too old")
	ErrForwardingTimeout  = errors.New("timed out waiting for forwarding response")
	ErrMalformedPayload   = errors.New("malformed forwarding payload")
	ErrAlreadyVerified    = errors.New("forwarding already verified for this session")
	ErrUnknownLayout      = errors.New("unknown forwarding layout")
	ErrUnknownPropertyEnc = errors.New("unknown legacy property encoding")
)
