package mcproto

import "github.com/pkg/errors"

var (
	// ErrIncomplete reports that more bytes are needed before a whole frame can be decoded
	ErrIncomplete = errors.New("incomplete frame")

	ErrMalformedFrame     = errors.New("malformed frame")
	ErrVarIntTooLong      = errors.New("VarInt is too big")
	ErrStringTooLong      = errors.New("string is too long")
	ErrInvalidUTF8        = errors.New("string is not valid UTF-8")
	ErrInvalidBoolean     = errors.New("boolean is neither 0 nor 1")
	ErrNegativeLength     = errors.New("negative length")
	ErrUnexpectedPacketID = errors.New("unexpected packet id")
	ErrTrailingData       = errors.New("unexpected trailing data in packet")
)
