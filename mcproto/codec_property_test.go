package mcproto

import (
	"bytes"
	"math"
	"testing"
	"unicode/utf8"

	"pgregory.net/rapid"
)

func TestVarIntRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		value := rapid.Int32Range(0, math.MaxInt32).Draw(t, "value")

		var buf bytes.Buffer
		if err := WriteVarInt(&buf, value); err != nil {
			t.Fatalf("write: %v", err)
		}
		if buf.Len() != VarIntSize(value) {
			t.Fatalf("wrote %d bytes, VarIntSize says %d", buf.Len(), VarIntSize(value))
		}

		got, err := ReadVarInt(&buf)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != int(value) {
			t.Fatalf("got %d, want %d", got, value)
		}
	})
}

func TestVarIntContinuationRun_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(5, 12).Draw(t, "count")
		input := make([]byte, 0, count+1)
		for i := 0; i < count; i++ {
			input = append(input, rapid.ByteRange(0x80, 0xFF).Draw(t, "continuation"))
		}
		input = append(input, rapid.ByteRange(0x00, 0x7F).Draw(t, "terminator"))

		if _, err := ReadVarInt(bytes.NewReader(input)); err != ErrVarIntTooLong {
			t.Fatalf("expected ErrVarIntTooLong, got %v", err)
		}
		if _, _, err := DecodeFrame(input, MaxFrameLength); err != ErrVarIntTooLong {
			t.Fatalf("expected ErrVarIntTooLong from DecodeFrame, got %v", err)
		}
	})
}

func TestStringRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		maxChars := rapid.IntRange(1, 64).Draw(t, "maxChars")
		s := rapid.StringOfN(rapid.Rune(), 0, maxChars/2, -1).Draw(t, "s")
		if !utf8.ValidString(s) || utf16Len(s) > maxChars {
			t.Skip("outside cap")
		}

		var buf bytes.Buffer
		if err := WriteString(&buf, s); err != nil {
			t.Fatalf("write: %v", err)
		}

		got, err := ReadString(&buf, maxChars)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if got != s {
			t.Fatalf("got %q, want %q", got, s)
		}
	})
}

func TestFrameRoundTrip_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		packetID := rapid.Int32Range(0, 0x7F).Draw(t, "packetID")
		body := rapid.SliceOfN(rapid.Byte(), 0, 512).Draw(t, "body")

		framed := EncodeFrame(packetID, body)

		packet, err := ReadPacket(bytes.NewReader(framed), nil)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if packet.PacketID != int(packetID) || !bytes.Equal(packet.Data, body) {
			t.Fatalf("mismatch: %v", packet)
		}

		frame, n, err := DecodeFrame(framed, MaxFrameLength)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if n != len(framed) || frame.Length != len(body)+1 {
			t.Fatalf("decoded %d of %d bytes, frame length %d", n, len(framed), frame.Length)
		}
	})
}
