package mcproto

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ReadPacket reads one whole frame from reader and splits off its packet ID.
func ReadPacket(reader io.Reader, addr net.Addr) (*Packet, error) {
	frame, err := ReadFrame(reader, addr)
	if err != nil {
		return nil, err
	}

	// Packet length is frame length (bytes for packetID and data) plus bytes used to store the frame length data
	packet := &Packet{Length: frame.Length + VarIntSize(int32(frame.Length))}

	remainder := bytes.NewBuffer(frame.Payload)

	packet.PacketID, err = ReadVarInt(remainder)
	if err != nil {
		return nil, errors.Wrap(ErrMalformedFrame, "missing packet id")
	}

	packet.Data = remainder.Bytes()

	logrus.
		WithField("client", addr).
		WithField("packet", packet).
		Trace("Read packet")
	return packet, nil
}

// ReadFrame reads a length-prefixed frame. The payload is read in full or an error is returned,
// so callers never observe a partial frame.
func ReadFrame(reader io.Reader, addr net.Addr) (*Frame, error) {
	var err error
	frame := &Frame{}

	frame.Length, err = ReadVarInt(reader)
	if err != nil {
		return nil, err
	}

	if frame.Length < 0 {
		return nil, errors.Wrapf(ErrMalformedFrame, "negative frame length %d", frame.Length)
	}
	if frame.Length > MaxFrameLength {
		return nil, errors.Wrapf(ErrMalformedFrame, "frame length %d too large", frame.Length)
	}

	logrus.
		WithField("client", addr).
		WithField("length", frame.Length).
		Trace("Read frame length")

	// grows with the bytes that actually arrive rather than the declared length
	var payload bytes.Buffer
	_, err = io.CopyN(&payload, reader, int64(frame.Length))
	if err != nil {
		if err == io.EOF {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	frame.Payload = payload.Bytes()

	return frame, nil
}

// DecodeFrame decodes one frame from the start of data without blocking. It returns the frame and the
// number of bytes consumed, or ErrIncomplete when data does not yet hold a whole frame so the caller can
// append more input and try again.
func DecodeFrame(data []byte, maxLength int) (*Frame, int, error) {
	length, n, err := decodeVarInt(data)
	if err != nil {
		return nil, 0, err
	}
	if length < 0 {
		return nil, 0, errors.Wrapf(ErrMalformedFrame, "negative frame length %d", length)
	}
	if length > maxLength {
		return nil, 0, errors.Wrapf(ErrMalformedFrame, "frame length %d exceeds %d", length, maxLength)
	}
	if len(data)-n < length {
		return nil, 0, ErrIncomplete
	}

	payload := make([]byte, length)
	copy(payload, data[n:n+length])
	return &Frame{Length: length, Payload: payload}, n + length, nil
}

func decodeVarInt(data []byte) (int, int, error) {
	var result uint32
	for i := 0; i < 5; i++ {
		if i >= len(data) {
			return 0, 0, ErrIncomplete
		}
		b := data[i]
		result |= uint32(b&0x7F) << (7 * i)
		if b&0x80 == 0 {
			return int(int32(result)), i + 1, nil
		}
	}
	return 0, 0, ErrVarIntTooLong
}

// ReadVarInt reads a VarInt of at most 5 bytes. A fifth byte that still has the continuation bit set
// results in ErrVarIntTooLong.
func ReadVarInt(reader io.Reader) (int, error) {
	var b [1]byte
	var result uint32
	for numRead := 0; numRead < 5; numRead++ {
		if _, err := io.ReadFull(reader, b[:]); err != nil {
			if err == io.EOF && numRead > 0 {
				return 0, io.ErrUnexpectedEOF
			}
			return 0, err
		}
		result |= uint32(b[0]&0x7F) << (7 * numRead)

		if b[0]&0x80 == 0 {
			return int(int32(result)), nil
		}
	}

	return 0, ErrVarIntTooLong
}

// ReadString reads a length-prefixed UTF-8 string holding at most maxChars UTF-16 code units.
// The declared byte length is checked against the worst case encoding before anything is allocated.
func ReadString(reader io.Reader, maxChars int) (string, error) {
	length, err := ReadVarInt(reader)
	if err != nil {
		return "", err
	}
	if length < 0 {
		return "", errors.Wrapf(ErrNegativeLength, "string length %d", length)
	}
	if length > maxChars*3 {
		return "", errors.Wrapf(ErrStringTooLong, "declared %d bytes, max %d chars", length, maxChars)
	}

	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		if err == io.EOF {
			return "", io.ErrUnexpectedEOF
		}
		return "", err
	}
	if !utf8.Valid(buf) {
		return "", ErrInvalidUTF8
	}

	s := string(buf)
	if utf16Len(s) > maxChars {
		return "", errors.Wrapf(ErrStringTooLong, "more than %d chars", maxChars)
	}
	return s, nil
}

func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

func ReadByte(reader io.Reader) (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(reader, buf[:])
	if err != nil {
		return 0, err
	}
	return buf[0], nil
}

func ReadBoolean(reader io.Reader) (bool, error) {
	b, err := ReadByte(reader)
	if err != nil {
		return false, err
	}
	switch b {
	case 0x00:
		return false, nil
	case 0x01:
		return true, nil
	default:
		return false, errors.Wrapf(ErrInvalidBoolean, "got %#x", b)
	}
}

func ReadUnsignedShort(reader io.Reader) (uint16, error) {
	var value uint16
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadLong(reader io.Reader) (int64, error) {
	var value int64
	err := binary.Read(reader, binary.BigEndian, &value)
	if err != nil {
		return 0, err
	}
	return value, nil
}

func ReadUuid(reader io.Reader) (uuid.UUID, error) {
	var buf [16]byte
	if _, err := io.ReadFull(reader, buf[:]); err != nil {
		return uuid.Nil, err
	}
	return uuid.UUID(buf), nil
}

func ReadByteArray(reader io.Reader, length int) ([]byte, error) {
	if length < 0 {
		return nil, errors.Wrapf(ErrNegativeLength, "byte array length %d", length)
	}
	if length > MaxFrameLength {
		return nil, errors.Wrapf(ErrMalformedFrame, "byte array length %d too large", length)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(reader, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
