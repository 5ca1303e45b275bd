package forwarding

import (
	"strings"

	"github.com/itzg/mc-legacy-forwarder/mcproto"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const legacySeparator = "\x00"

// PropertyEncoder renders the profile properties appended to a legacy forwarding address.
// An empty result omits the properties segment.
type PropertyEncoder interface {
	EncodeProperties(properties []Property) (string, error)
}

// JSONPropertyEncoder renders properties as the JSON array BungeeCord backends parse
type JSONPropertyEncoder struct{}

type jsonProperty struct {
	Name      string  `json:"name"`
	Value     string  `json:"value"`
	Signature *string `json:"signature,omitempty"`
}

func (JSONPropertyEncoder) EncodeProperties(properties []Property) (string, error) {
	if len(properties) == 0 {
		return "", nil
	}
	converted := make([]jsonProperty, len(properties))
	for i, p := range properties {
		converted[i] = jsonProperty{Name: p.Name, Value: p.Value, Signature: p.Signature}
	}
	encoded, err := json.Marshal(converted)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal properties")
	}
	return string(encoded), nil
}

// NoPropertyEncoder never forwards properties, for backends that reject the extra segment
type NoPropertyEncoder struct{}

func (NoPropertyEncoder) EncodeProperties([]Property) (string, error) {
	return "", nil
}

// PropertyEncoderFor resolves the legacy-properties option
func PropertyEncoderFor(name string) (PropertyEncoder, error) {
	switch strings.ToLower(name) {
	case "json", "":
		return JSONPropertyEncoder{}, nil
	case "none":
		return NoPropertyEncoder{}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownPropertyEnc, "%q", name)
	}
}

type LegacyEncoder struct {
	properties PropertyEncoder
}

func NewLegacyEncoder(properties PropertyEncoder) *LegacyEncoder {
	if properties == nil {
		properties = JSONPropertyEncoder{}
	}
	return &LegacyEncoder{properties: properties}
}

// EncodeAddress builds host, client address, dashed uuid and optionally properties joined by NUL bytes.
// Anything after a NUL in original, such as the Forge FML marker, is dropped from the host.
func (e *LegacyEncoder) EncodeAddress(original string, payload *Payload) (string, error) {
	host, _, _ := strings.Cut(original, legacySeparator)

	var sb strings.Builder
	sb.WriteString(host)
	sb.WriteString(legacySeparator)
	sb.WriteString(payload.ClientAddress)
	sb.WriteString(legacySeparator)
	sb.WriteString(payload.PlayerUuid.String())

	properties, err := e.properties.EncodeProperties(payload.Properties)
	if err != nil {
		return "", err
	}
	if properties != "" {
		sb.WriteString(legacySeparator)
		sb.WriteString(properties)
	}
	return sb.String(), nil
}

// RewriteHandshake returns a copy of handshake whose server address carries the verified identity
func (e *LegacyEncoder) RewriteHandshake(handshake *mcproto.Handshake, payload *Payload) (*mcproto.Handshake, error) {
	address, err := e.EncodeAddress(handshake.ServerAddress, payload)
	if err != nil {
		return nil, err
	}
	return &mcproto.Handshake{
		ProtocolVersion: handshake.ProtocolVersion,
		ServerAddress:   address,
		ServerPort:      handshake.ServerPort,
		NextState:       handshake.NextState,
	}, nil
}
