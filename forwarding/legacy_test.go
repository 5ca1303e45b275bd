package forwarding

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/itzg/mc-legacy-forwarder/mcproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLegacyEncoder_EncodeAddress(t *testing.T) {
	playerUuid := uuid.MustParse("11111111-1111-1111-1111-111111111111")

	tests := []struct {
		name       string
		encoder    PropertyEncoder
		original   string
		properties []Property
		expected   string
	}{
		{
			name:     "no properties",
			encoder:  JSONPropertyEncoder{},
			original: "play.example.com",
			expected: "play.example.com\x0011.22.33.44\x0011111111-1111-1111-1111-111111111111",
		},
		{
			name:     "forge marker dropped",
			encoder:  JSONPropertyEncoder{},
			original: "play.example.com\x00FML2\x00",
			expected: "play.example.com\x0011.22.33.44\x0011111111-1111-1111-1111-111111111111",
		},
		{
			name:     "json properties keep order",
			encoder:  JSONPropertyEncoder{},
			original: "play.example.com",
			properties: []Property{
				{Name: "textures", Value: "e30=", Signature: stringPtr("c2ln")},
				{Name: "alpha", Value: "a"},
			},
			expected: "play.example.com\x0011.22.33.44\x0011111111-1111-1111-1111-111111111111\x00" +
				`[{"name":"textures","value":"e30=","signature":"c2ln"},{"name":"alpha","value":"a"}]`,
		},
		{
			name:     "properties suppressed",
			encoder:  NoPropertyEncoder{},
			original: "play.example.com",
			properties: []Property{
				{Name: "textures", Value: "e30="},
			},
			expected: "play.example.com\x0011.22.33.44\x0011111111-1111-1111-1111-111111111111",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoder := NewLegacyEncoder(tt.encoder)
			address, err := encoder.EncodeAddress(tt.original, &Payload{
				ClientAddress: "11.22.33.44",
				PlayerUuid:    playerUuid,
				Username:      "Alice",
				Properties:    tt.properties,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.expected, address)
		})
	}
}

func TestLegacyEncoder_RewriteHandshake(t *testing.T) {
	original := &mcproto.Handshake{
		ProtocolVersion: 47,
		ServerAddress:   "play.example.com",
		ServerPort:      25565,
		NextState:       mcproto.StateLogin,
	}

	rewritten, err := NewLegacyEncoder(nil).RewriteHandshake(original, &Payload{
		ClientAddress: "11.22.33.44",
		PlayerUuid:    uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Username:      "Alice",
	})
	require.NoError(t, err)

	assert.Equal(t, original.ProtocolVersion, rewritten.ProtocolVersion)
	assert.Equal(t, original.ServerPort, rewritten.ServerPort)
	assert.Equal(t, original.NextState, rewritten.NextState)
	assert.Equal(t, "play.example.com\x0011.22.33.44\x0011111111-1111-1111-1111-111111111111", rewritten.ServerAddress)
	// the original is left alone
	assert.Equal(t, "play.example.com", original.ServerAddress)
}

func TestLegacyEncoder_PropertyOrderMatchesPayload(t *testing.T) {
	names := []string{"zeta", "textures", "alpha", "textures"}
	properties := make([]Property, len(names))
	for i, name := range names {
		properties[i] = Property{Name: name, Value: strings.Repeat("v", i+1)}
	}

	address, err := NewLegacyEncoder(JSONPropertyEncoder{}).EncodeAddress("host", &Payload{
		ClientAddress: "1.2.3.4",
		PlayerUuid:    uuid.New(),
		Properties:    properties,
	})
	require.NoError(t, err)

	segments := strings.Split(address, "\x00")
	require.Len(t, segments, 4)

	var decoded []jsonProperty
	require.NoError(t, json.Unmarshal([]byte(segments[3]), &decoded))
	require.Len(t, decoded, len(names))
	for i, name := range names {
		assert.Equal(t, name, decoded[i].Name)
		assert.Equal(t, properties[i].Value, decoded[i].Value)
		assert.Nil(t, decoded[i].Signature)
	}
}

func TestPropertyEncoderFor(t *testing.T) {
	encoder, err := PropertyEncoderFor("none")
	require.NoError(t, err)
	assert.IsType(t, NoPropertyEncoder{}, encoder)

	encoder, err = PropertyEncoderFor("JSON")
	require.NoError(t, err)
	assert.IsType(t, JSONPropertyEncoder{}, encoder)

	_, err = PropertyEncoderFor("bungeeguard")
	assert.ErrorIs(t, err, ErrUnknownPropertyEnc)
}
