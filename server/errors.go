package server

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/itzg/mc-legacy-forwarder/forwarding"
	"github.com/pkg/errors"
)

var (
	// ErrConnectionRejected is reported for peers outside the trusted set. The connection is closed without a reply.
	ErrConnectionRejected = errors.New("connection rejected")
	ErrProtocolViolation  = errors.New("protocol violation")
	// ErrBackendUnreachable never carries backend details back to the upstream
	ErrBackendUnreachable = errors.New("backend unreachable")
	ErrPlayerDenied       = errors.New("player denied by allow/deny lists")
	ErrNoSecret           = errors.New("no forwarding secret provided, set it in the config file, with -forwarding-secret or in the FORWARDING_SECRET environment variable")
)

func protocolViolation(err error, msg string) error {
	return fmt.Errorf("%w: %s: %w", ErrProtocolViolation, msg, err)
}

// isIoError reports errors that come from the sockets themselves rather than from what the peer sent
func isIoError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// errorType maps a session error onto the "type" label of the errors metric
func errorType(err error) string {
	switch {
	case errors.Is(err, ErrConnectionRejected):
		return "untrusted"
	case errors.Is(err, ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, forwarding.ErrForwardingUnsupported):
		return "forwarding_unsupported"
	case errors.Is(err, forwarding.ErrUnsupportedForwardingVersion):
		return "forwarding_version"
	case errors.Is(err, forwarding.ErrForwardingTimeout):
		return "forwarding_timeout"
	case errors.Is(err, forwarding.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, forwarding.ErrStaleForwarding):
		return "stale_forwarding"
	case errors.Is(err, forwarding.ErrMalformedPayload):
		return "malformed_forwarding"
	case errors.Is(err, ErrPlayerDenied):
		return "player_denied"
	case errors.Is(err, ErrBackendUnreachable):
		return "backend_failed"
	case isIoError(err):
		return "io"
	default:
		return "other"
	}
}
