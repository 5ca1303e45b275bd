package mcproto

import (
	"bytes"

	"github.com/pkg/errors"
)

// DecodeHandshake takes the Packet.Data bytes and decodes a Handshake message from it.
// The server address is kept verbatim, including any null-delimited suffix added by mod loaders.
func DecodeHandshake(data []byte) (*Handshake, error) {
	handshake := &Handshake{}
	buffer := bytes.NewReader(data)
	var err error

	protocolVersion, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read protocol version")
	}
	handshake.ProtocolVersion = ProtocolVersion(protocolVersion)

	handshake.ServerAddress, err = ReadString(buffer, MaxServerAddressLength)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server address")
	}

	handshake.ServerPort, err = ReadUnsignedShort(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read server port")
	}

	nextState, err := ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read next state")
	}
	handshake.NextState = State(nextState)

	if buffer.Len() > 0 {
		return nil, errors.Wrapf(ErrTrailingData, "%d bytes after handshake", buffer.Len())
	}
	return handshake, nil
}

// DecodeLoginStart takes the Packet.Data bytes and decodes a LoginStart message from it
func DecodeLoginStart(protocolVersion ProtocolVersion, data []byte) (*LoginStart, error) {
	loginStart := NewLoginStart()
	buffer := bytes.NewReader(data)
	var err error

	loginStart.Name, err = ReadString(buffer, MaxUsernameLength)
	if err != nil {
		return loginStart, errors.Wrap(err, "failed to read username")
	}

	// These versions can send player keypair data. It is kept as an opaque block.
	// References:
	// * https://minecraft.wiki/w/Minecraft_Wiki:Projects/wiki.vg_merge/Protocol?oldid=2772902#Login_Start
	if protocolVersion >= ProtocolVersion1_19 && protocolVersion <= ProtocolVersion1_19_2 {
		start := len(data) - buffer.Len()

		hasSignatureData, err := ReadBoolean(buffer)
		if err != nil {
			return loginStart, errors.Wrap(err, "failed to read has signature data flag")
		}

		if hasSignatureData {
			_, err = ReadLong(buffer) // Expiration time
			if err != nil {
				return loginStart, errors.Wrap(err, "failed to read expiration time")
			}

			pubKeyLength, err := ReadVarInt(buffer)
			if err != nil {
				return loginStart, errors.Wrap(err, "failed to read public key length")
			}

			_, err = ReadByteArray(buffer, pubKeyLength)
			if err != nil {
				return loginStart, errors.Wrap(err, "failed to read public key")
			}

			signatureLength, err := ReadVarInt(buffer)
			if err != nil {
				return loginStart, errors.Wrap(err, "failed to read signature length")
			}

			_, err = ReadByteArray(buffer, signatureLength)
			if err != nil {
				return loginStart, errors.Wrap(err, "failed to read signature")
			}
		}

		end := len(data) - buffer.Len()
		loginStart.SignatureData = append([]byte(nil), data[start:end]...)
	}

	// References:
	// * https://minecraft.wiki/w/Minecraft_Wiki:Projects/wiki.vg_merge/Protocol?oldid=2772944#Login_Start
	switch {
	case protocolVersion >= ProtocolVersion1_19_2 && protocolVersion < ProtocolVersion1_20_2:
		hasUUID, err := ReadBoolean(buffer)
		if err != nil {
			return loginStart, errors.Wrap(err, "failed to read has uuid flag")
		}

		if !hasUUID {
			break
		}
		fallthrough
	case protocolVersion >= ProtocolVersion1_20_2:
		playerUuid, err := ReadUuid(buffer)
		if err != nil {
			return loginStart, errors.Wrap(err, "failed to read player uuid")
		}
		loginStart.PlayerUuid = playerUuid
	default:
		// For versions before 1.19.2, the UUID is not present
	}

	return loginStart, nil
}

// DecodeLoginPluginResponse takes the Packet.Data bytes of a serverbound login plugin response.
// Data holds everything after the successful flag, which is empty when the client did not understand the channel.
func DecodeLoginPluginResponse(data []byte) (*LoginPluginResponse, error) {
	buffer := bytes.NewReader(data)
	response := &LoginPluginResponse{}
	var err error

	response.MessageID, err = ReadVarInt(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read message id")
	}

	response.Successful, err = ReadBoolean(buffer)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read successful flag")
	}

	response.Data = data[len(data)-buffer.Len():]
	return response, nil
}
