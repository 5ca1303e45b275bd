package mcproto

import (
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EncodeHandshake returns the complete frame for handshake
func EncodeHandshake(handshake *Handshake) ([]byte, error) {
	var body bodyWriter
	body.varInt(int32(handshake.ProtocolVersion))
	body.str(handshake.ServerAddress)
	body.unsignedShort(handshake.ServerPort)
	body.varInt(int32(handshake.NextState))
	if body.err != nil {
		return nil, errors.Wrap(body.err, "failed to encode handshake")
	}
	return EncodeFrame(PacketIdHandshake, body.Bytes()), nil
}

// EncodeLoginStart returns the complete frame for loginStart, laid out for protocolVersion.
// It is the inverse of DecodeLoginStart.
func EncodeLoginStart(protocolVersion ProtocolVersion, loginStart *LoginStart) ([]byte, error) {
	var body bodyWriter
	body.str(loginStart.Name)

	if protocolVersion >= ProtocolVersion1_19 && protocolVersion <= ProtocolVersion1_19_2 {
		if len(loginStart.SignatureData) > 0 {
			body.raw(loginStart.SignatureData)
		} else {
			body.boolean(false)
		}
	}

	switch {
	case protocolVersion >= ProtocolVersion1_19_2 && protocolVersion < ProtocolVersion1_20_2:
		body.boolean(true)
		body.uuidValue(loginStart.PlayerUuid)
	case protocolVersion >= ProtocolVersion1_20_2:
		body.uuidValue(loginStart.PlayerUuid)
	}

	if body.err != nil {
		return nil, errors.Wrap(body.err, "failed to encode login start")
	}
	return EncodeFrame(PacketIdLoginStart, body.Bytes()), nil
}

// EncodeLoginPluginRequest returns the complete clientbound frame for request
func EncodeLoginPluginRequest(request *LoginPluginRequest) ([]byte, error) {
	var body bodyWriter
	body.varInt(request.MessageID)
	body.str(request.Channel)
	body.raw(request.Data)
	if body.err != nil {
		return nil, errors.Wrap(body.err, "failed to encode login plugin request")
	}
	return EncodeFrame(PacketIdLoginPluginRequest, body.Bytes()), nil
}

// EncodeLoginPluginResponse returns the complete serverbound frame for response
func EncodeLoginPluginResponse(response *LoginPluginResponse) ([]byte, error) {
	var body bodyWriter
	body.varInt(int32(response.MessageID))
	body.boolean(response.Successful)
	body.raw(response.Data)
	if body.err != nil {
		return nil, errors.Wrap(body.err, "failed to encode login plugin response")
	}
	return EncodeFrame(PacketIdLoginPluginResponse, body.Bytes()), nil
}

type textComponent struct {
	Text  string `json:"text"`
	Color string `json:"color,omitempty"`
}

// EncodeLoginDisconnect returns the complete login state disconnect frame carrying reason as a red text component
func EncodeLoginDisconnect(reason string) ([]byte, error) {
	reasonJson, err := json.Marshal(textComponent{Text: reason, Color: "red"})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal disconnect reason")
	}

	var body bodyWriter
	body.str(string(reasonJson))
	if body.err != nil {
		return nil, errors.Wrap(body.err, "failed to encode login disconnect")
	}
	return EncodeFrame(PacketIdLoginDisconnect, body.Bytes()), nil
}
