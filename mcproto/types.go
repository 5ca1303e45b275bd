package mcproto

import (
	"fmt"

	"github.com/google/uuid"
)

type Frame struct {
	Length  int
	Payload []byte
}

var trimLimit = 64

func trimBytes(data []byte) ([]byte, string) {
	if len(data) < trimLimit {
		return data, ""
	} else {
		return data[:trimLimit], "..."
	}
}

func (f *Frame) String() string {
	trimmed, cont := trimBytes(f.Payload)
	return fmt.Sprintf("Frame:[len=%d, payload=%#X%s]", f.Length, trimmed, cont)
}

type Packet struct {
	Length   int
	PacketID int
	Data     []byte
}

func (p *Packet) String() string {
	trimmed, cont := trimBytes(p.Data)
	return fmt.Sprintf("Packet:[len=%d, packetId=%d, data=%#X%s]", p.Length, p.PacketID, trimmed, cont)
}

type State int

const (
	StateHandshaking State = iota
	StateStatus
	StateLogin
	StateTransfer
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateStatus:
		return "status"
	case StateLogin:
		return "login"
	case StateTransfer:
		return "transfer"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

type ProtocolVersion int

const (
	ProtocolVersion1_19   ProtocolVersion = 759
	ProtocolVersion1_19_2 ProtocolVersion = 760
	ProtocolVersion1_20_2 ProtocolVersion = 764
)

const (
	// MaxFrameLength is 2^21 - 1, the largest length a 3-byte VarInt prefix can carry
	MaxFrameLength = 2097151

	// MaxStringLength is the protocol's cap on a string, counted in UTF-16 code units
	MaxStringLength = 32767

	MaxUsernameLength      = 16
	MaxServerAddressLength = 255
)

// Handshaking state, serverbound
const PacketIdHandshake = 0x00

// Login state, serverbound
const (
	PacketIdLoginStart          = 0x00
	PacketIdLoginPluginResponse = 0x02
)

// Login state, clientbound
const (
	PacketIdLoginDisconnect    = 0x00
	PacketIdLoginPluginRequest = 0x04
)

type Handshake struct {
	ProtocolVersion ProtocolVersion
	ServerAddress   string
	ServerPort      uint16
	NextState       State
}

type LoginStart struct {
	Name       string
	PlayerUuid uuid.UUID
	// SignatureData is the raw player key block sent by 1.19 to 1.19.2 clients, kept verbatim
	SignatureData []byte
}

func NewLoginStart() *LoginStart {
	return &LoginStart{}
}

type LoginPluginRequest struct {
	MessageID int32
	Channel   string
	Data      []byte
}

type LoginPluginResponse struct {
	MessageID  int
	Successful bool
	Data       []byte
}
