package forwarding

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/itzg/mc-legacy-forwarder/mcproto"
	"github.com/pkg/errors"
)

// Channel is the login plugin channel the proxy answers with the signed player info
const Channel = "velocity:player_info"

const (
	ForwardingVersionModern       = 1
	MaxSupportedForwardingVersion = ForwardingVersionModern
)

const signatureLength = sha256.Size

// Layout selects how the signed player info is arranged inside the plugin response data.
type Layout int

const (
	// LayoutTimestamped is VarInt version, HMAC, then a signed section that starts with
	// a millisecond timestamp
	LayoutTimestamped Layout = iota
	// LayoutVelocity is HMAC, then a signed section that starts with the VarInt version, as sent by Velocity
	LayoutVelocity
)

func (l Layout) String() string {
	switch l {
	case LayoutTimestamped:
		return "timestamped"
	case LayoutVelocity:
		return "velocity"
	default:
		return fmt.Sprintf("unknown(%d)", int(l))
	}
}

func ParseLayout(s string) (Layout, error) {
	switch strings.ToLower(s) {
	case "timestamped", "":
		return LayoutTimestamped, nil
	case "velocity":
		return LayoutVelocity, nil
	default:
		return 0, errors.Wrapf(ErrUnknownLayout, "%q", s)
	}
}

type Property struct {
	Name      string
	Value     string
	Signature *string
}

// Payload is the player identity vouched for by the proxy
type Payload struct {
	Version int
	// Timestamp is the zero time for LayoutVelocity payloads
	Timestamp     time.Time
	ClientAddress string
	PlayerUuid    uuid.UUID
	Username      string
	Properties    []Property
}

type VerifierOption func(v *Verifier)

// WithLayout overrides the default LayoutTimestamped
func WithLayout(layout Layout) VerifierOption {
	return func(v *Verifier) {
		v.layout = layout
	}
}

// WithMaxAge enables stale payload rejection. Payloads whose timestamp is more than maxAge away
// from the current time, in either direction, are rejected. Zero disables the check.
func WithMaxAge(maxAge time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.maxAge = maxAge
	}
}

func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

// Verifier checks signed player info against a shared secret. It holds no per-session state and is
// safe for concurrent use.
type Verifier struct {
	secret []byte
	layout Layout
	maxAge time.Duration
	now    func() time.Time
}

func NewVerifier(secret []byte, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		secret: append([]byte(nil), secret...),
		layout: LayoutTimestamped,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *Verifier) Layout() Layout {
	return v.layout
}

// Verify authenticates data, the body of a successful login plugin response, and decodes the payload.
// The signature is always checked before any decoded field is trusted.
func (v *Verifier) Verify(data []byte) (*Payload, error) {
	var version int
	var mac, signed []byte

	switch v.layout {
	case LayoutTimestamped:
		buffer := bytes.NewReader(data)
		var err error
		version, err = mcproto.ReadVarInt(buffer)
		if err != nil {
			return nil, errors.Wrap(ErrMalformedPayload, "missing version")
		}
		if version != ForwardingVersionModern {
			return nil, errors.Wrapf(ErrUnsupportedForwardingVersion, "version %d", version)
		}
		rest := data[len(data)-buffer.Len():]
		if len(rest) < signatureLength {
			return nil, errors.Wrap(ErrMalformedPayload, "missing signature")
		}
		mac, signed = rest[:signatureLength], rest[signatureLength:]

	case LayoutVelocity:
		if len(data) < signatureLength {
			return nil, errors.Wrap(ErrMalformedPayload, "missing signature")
		}
		mac, signed = data[:signatureLength], data[signatureLength:]

	default:
		return nil, errors.Wrapf(ErrUnknownLayout, "%d", int(v.layout))
	}

	if !hmac.Equal(mac, v.sign(signed)) {
		return nil, ErrInvalidSignature
	}

	payload, err := decodeSigned(v.layout, signed)
	if err != nil {
		return nil, err
	}
	if v.layout == LayoutVelocity {
		if payload.Version != ForwardingVersionModern {
			return nil, errors.Wrapf(ErrUnsupportedForwardingVersion, "version %d", payload.Version)
		}
	} else {
		payload.Version = version
	}

	if v.maxAge > 0 && v.layout == LayoutTimestamped {
		age := v.now().Sub(payload.Timestamp)
		if age > v.maxAge || age < -v.maxAge {
			return nil, errors.Wrapf(ErrStaleForwarding, "created %s ago", age)
		}
	}

	return payload, nil
}

func (v *Verifier) sign(signed []byte) []byte {
	h := hmac.New(sha256.New, v.secret)
	h.Write(signed)
	return h.Sum(nil)
}

func decodeSigned(layout Layout, signed []byte) (*Payload, error) {
	buffer := bytes.NewReader(signed)
	payload := &Payload{}

	wrap := func(err error, field string) error {
		return errors.Wrapf(ErrMalformedPayload, "%s: %v", field, err)
	}

	if layout == LayoutVelocity {
		version, err := mcproto.ReadVarInt(buffer)
		if err != nil {
			return nil, wrap(err, "version")
		}
		payload.Version = version
	} else {
		timestamp, err := mcproto.ReadLong(buffer)
		if err != nil {
			return nil, wrap(err, "timestamp")
		}
		payload.Timestamp = time.UnixMilli(timestamp)
	}

	var err error
	payload.ClientAddress, err = mcproto.ReadString(buffer, mcproto.MaxStringLength)
	if err != nil {
		return nil, wrap(err, "client address")
	}
	payload.PlayerUuid, err = mcproto.ReadUuid(buffer)
	if err != nil {
		return nil, wrap(err, "player uuid")
	}
	payload.Username, err = mcproto.ReadString(buffer, mcproto.MaxUsernameLength)
	if err != nil {
		return nil, wrap(err, "username")
	}

	count, err := mcproto.ReadVarInt(buffer)
	if err != nil {
		return nil, wrap(err, "property count")
	}
	// each property needs at least two empty strings and a flag
	if count < 0 || count > buffer.Len()/3 {
		return nil, errors.Wrapf(ErrMalformedPayload, "property count %d", count)
	}

	payload.Properties = make([]Property, 0, count)
	for i := 0; i < count; i++ {
		property := Property{}
		property.Name, err = mcproto.ReadString(buffer, mcproto.MaxStringLength)
		if err != nil {
			return nil, wrap(err, "property name")
		}
		property.Value, err = mcproto.ReadString(buffer, mcproto.MaxStringLength)
		if err != nil {
			return nil, wrap(err, "property value")
		}
		hasSignature, err := mcproto.ReadBoolean(buffer)
		if err != nil {
			return nil, wrap(err, "property signature flag")
		}
		if hasSignature {
			signature, err := mcproto.ReadString(buffer, mcproto.MaxStringLength)
			if err != nil {
				return nil, wrap(err, "property signature")
			}
			property.Signature = &signature
		}
		payload.Properties = append(payload.Properties, property)
	}

	if buffer.Len() > 0 {
		return nil, errors.Wrapf(ErrMalformedPayload, "%d trailing bytes", buffer.Len())
	}
	return payload, nil
}

// Sign encodes payload the way a proxy holding secret would, producing login plugin response data
// that Verify accepts.
func Sign(secret []byte, layout Layout, payload *Payload) ([]byte, error) {
	var signed bytes.Buffer
	var err error
	write := func(f func() error) {
		if err == nil {
			err = f()
		}
	}

	if layout == LayoutVelocity {
		write(func() error { return mcproto.WriteVarInt(&signed, int32(payload.Version)) })
	} else {
		write(func() error { return mcproto.WriteLong(&signed, payload.Timestamp.UnixMilli()) })
	}
	write(func() error { return mcproto.WriteString(&signed, payload.ClientAddress) })
	write(func() error { return mcproto.WriteUuid(&signed, payload.PlayerUuid) })
	write(func() error { return mcproto.WriteString(&signed, payload.Username) })
	write(func() error { return mcproto.WriteVarInt(&signed, int32(len(payload.Properties))) })
	for _, property := range payload.Properties {
		write(func() error { return mcproto.WriteString(&signed, property.Name) })
		write(func() error { return mcproto.WriteString(&signed, property.Value) })
		write(func() error { return mcproto.WriteBoolean(&signed, property.Signature != nil) })
		if property.Signature != nil {
			write(func() error { return mcproto.WriteString(&signed, *property.Signature) })
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode forwarding payload")
	}

	h := hmac.New(sha256.New, secret)
	h.Write(signed.Bytes())

	var out bytes.Buffer
	if layout == LayoutTimestamped {
		if err := mcproto.WriteVarInt(&out, int32(payload.Version)); err != nil {
			return nil, err
		}
	}
	out.Write(h.Sum(nil))
	out.Write(signed.Bytes())
	return out.Bytes(), nil
}

// Verification is the single-use verification state of one session
type Verification struct {
	verifier *Verifier
	done     bool
	payload  *Payload
}

func (v *Verifier) NewVerification() *Verification {
	return &Verification{verifier: v}
}

// Verify runs the verification once. Any later call returns ErrAlreadyVerified, whatever the
// outcome of the first one.
func (s *Verification) Verify(data []byte) (*Payload, error) {
	if s.done {
		return nil, ErrAlreadyVerified
	}
	s.done = true

	payload, err := s.verifier.Verify(data)
	if err != nil {
		return nil, err
	}
	s.payload = payload
	return payload, nil
}

// Payload is the verified payload, or nil before a successful Verify
func (s *Verification) Payload() *Payload {
	return s.payload
}
