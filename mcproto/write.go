package mcproto

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// WriteVarInt writes a VarInt (Minecraft format) to w
func WriteVarInt(w io.Writer, value int32) error {
	var buf [5]byte
	n := putVarInt(buf[:], value)
	_, err := w.Write(buf[:n])
	return err
}

func putVarInt(buf []byte, value int32) int {
	i := 0
	v := uint32(value)
	for {
		temp := byte(v & 0x7F)
		v >>= 7
		if v != 0 {
			temp |= 0x80
		}
		buf[i] = temp
		i++
		if v == 0 {
			return i
		}
	}
}

// VarIntSize is the number of bytes WriteVarInt uses for value
func VarIntSize(value int32) int {
	v := uint32(value)
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}

// WriteString writes a Minecraft length-prefixed string
func WriteString(w io.Writer, s string) error {
	if utf16Len(s) > MaxStringLength {
		return errors.Wrapf(ErrStringTooLong, "%d bytes", len(s))
	}
	if err := WriteVarInt(w, int32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func WriteUnsignedShort(w io.Writer, value uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], value)
	_, err := w.Write(buf[:])
	return err
}

func WriteLong(w io.Writer, value int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(value))
	_, err := w.Write(buf[:])
	return err
}

func WriteBoolean(w io.Writer, value bool) error {
	b := byte(0x00)
	if value {
		b = 0x01
	}
	_, err := w.Write([]byte{b})
	return err
}

func WriteUuid(w io.Writer, id uuid.UUID) error {
	_, err := w.Write(id[:])
	return err
}

// EncodeFrame builds a framed packet: [length VarInt][packetId VarInt][body]
func EncodeFrame(packetID int32, body []byte) []byte {
	idSize := VarIntSize(packetID)
	length := int32(idSize + len(body))

	framed := make([]byte, 0, VarIntSize(length)+int(length))
	var tmp [5]byte
	n := putVarInt(tmp[:], length)
	framed = append(framed, tmp[:n]...)
	n = putVarInt(tmp[:], packetID)
	framed = append(framed, tmp[:n]...)
	return append(framed, body...)
}

type bodyWriter struct {
	bytes.Buffer
	err error
}

func (b *bodyWriter) varInt(v int32) {
	if b.err == nil {
		b.err = WriteVarInt(&b.Buffer, v)
	}
}

func (b *bodyWriter) str(s string) {
	if b.err == nil {
		b.err = WriteString(&b.Buffer, s)
	}
}

func (b *bodyWriter) unsignedShort(v uint16) {
	if b.err == nil {
		b.err = WriteUnsignedShort(&b.Buffer, v)
	}
}

func (b *bodyWriter) boolean(v bool) {
	if b.err == nil {
		b.err = WriteBoolean(&b.Buffer, v)
	}
}

func (b *bodyWriter) uuidValue(id uuid.UUID) {
	if b.err == nil {
		b.err = WriteUuid(&b.Buffer, id)
	}
}

func (b *bodyWriter) raw(data []byte) {
	if b.err == nil {
		_, b.err = b.Buffer.Write(data)
	}
}
