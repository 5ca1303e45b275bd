package mcproto

import (
	"bytes"
	"io"
	"runtime"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadVarInt(t *testing.T) {
	tests := []struct {
		Name     string
		Input    []byte
		Expected int
	}{
		{
			Name:     "Single byte",
			Input:    []byte{0x7A, 0x00},
			Expected: 0x7A,
		},
		{
			Name:     "Two byte",
			Input:    []byte{0x81, 0x04},
			Expected: 0x0201,
		},
		{
			Name:     "Max positive",
			Input:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07},
			Expected: 2147483647,
		},
		{
			Name:     "Negative one",
			Input:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F},
			Expected: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.Name, func(t *testing.T) {
			result, err := ReadVarInt(bytes.NewBuffer(tt.Input))
			require.NoError(t, err)

			assert.Equal(t, tt.Expected, result)
		})
	}
}

func TestReadVarInt_TooLong(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x01}))
	assert.ErrorIs(t, err, ErrVarIntTooLong)
}

func TestReadVarInt_Truncated(t *testing.T) {
	_, err := ReadVarInt(bytes.NewReader([]byte{0x80, 0x80}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)

	_, err = ReadVarInt(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadString(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		maxChars int
		want     string
		wantErr  error
	}{
		{
			name:     "ascii",
			input:    append([]byte{0x05}, "Alice"...),
			maxChars: 16,
			want:     "Alice",
		},
		{
			name:     "multi byte within limit",
			input:    append([]byte{0x06}, "äöü"...),
			maxChars: 3,
			want:     "äöü",
		},
		{
			name:     "too many chars",
			input:    append([]byte{0x06}, "abcdef"...),
			maxChars: 5,
			wantErr:  ErrStringTooLong,
		},
		{
			name:     "declared length beyond worst case",
			input:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x07},
			maxChars: 16,
			wantErr:  ErrStringTooLong,
		},
		{
			name:     "invalid utf8",
			input:    []byte{0x02, 0xC3, 0x28},
			maxChars: 16,
			wantErr:  ErrInvalidUTF8,
		},
		{
			name:     "negative length",
			input:    []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F},
			maxChars: 16,
			wantErr:  ErrNegativeLength,
		},
		{
			name:     "short read",
			input:    append([]byte{0x05}, "Ali"...),
			maxChars: 16,
			wantErr:  io.ErrUnexpectedEOF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadString(bytes.NewReader(tt.input), tt.maxChars)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadString_OversizedLengthDoesNotAllocate(t *testing.T) {
	// declares a 134 MB payload
	input := []byte{0xFF, 0xFF, 0xFF, 0x3F}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < 10; i++ {
		_, err := ReadString(bytes.NewReader(input), MaxStringLength)
		require.ErrorIs(t, err, ErrStringTooLong)
	}
	runtime.ReadMemStats(&after)

	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestReadBoolean(t *testing.T) {
	v, err := ReadBoolean(bytes.NewReader([]byte{0x01}))
	require.NoError(t, err)
	assert.True(t, v)

	v, err = ReadBoolean(bytes.NewReader([]byte{0x00}))
	require.NoError(t, err)
	assert.False(t, v)

	_, err = ReadBoolean(bytes.NewReader([]byte{0x02}))
	assert.ErrorIs(t, err, ErrInvalidBoolean)
}

func TestReadUuid(t *testing.T) {
	id := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	got, err := ReadUuid(bytes.NewReader(id[:]))
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = ReadUuid(bytes.NewReader(id[:8]))
	assert.Error(t, err)
}

func TestReadFrame(t *testing.T) {
	framed := EncodeFrame(0x00, []byte{0x01, 0x02, 0x03})

	frame, err := ReadFrame(bytes.NewReader(framed), nil)
	require.NoError(t, err)
	assert.Equal(t, 4, frame.Length)
	assert.Equal(t, []byte{0x00, 0x01, 0x02, 0x03}, frame.Payload)
}

func TestReadFrame_Truncated(t *testing.T) {
	framed := EncodeFrame(0x00, []byte{0x01, 0x02, 0x03})

	_, err := ReadFrame(bytes.NewReader(framed[:len(framed)-1]), nil)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadFrame_DeclaredLengthIsNotAllocatedUpFront(t *testing.T) {
	// declares the largest allowed frame but only three payload bytes follow
	input := []byte{0xFF, 0xFF, 0x7F, 0x00, 0x01, 0x02}

	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	for i := 0; i < 10; i++ {
		_, err := ReadFrame(bytes.NewReader(input), nil)
		require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	}
	runtime.ReadMemStats(&after)

	assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(1<<20))
}

func TestReadFrame_Empty(t *testing.T) {
	frame, err := ReadFrame(bytes.NewReader([]byte{0x00}), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, frame.Length)
	assert.Empty(t, frame.Payload)
}

func TestReadFrame_TooLarge(t *testing.T) {
	_, err := ReadFrame(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0x07}), nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestReadPacket(t *testing.T) {
	framed := EncodeFrame(0x04, []byte("data"))

	packet, err := ReadPacket(bytes.NewReader(framed), nil)
	require.NoError(t, err)
	assert.Equal(t, 0x04, packet.PacketID)
	assert.Equal(t, []byte("data"), packet.Data)
	assert.Equal(t, len(framed), packet.Length)
}

func TestReadPacket_EmptyFrame(t *testing.T) {
	_, err := ReadPacket(bytes.NewReader([]byte{0x00}), nil)
	assert.ErrorIs(t, err, ErrMalformedFrame)
}

func TestDecodeFrame(t *testing.T) {
	framed := EncodeFrame(0x02, []byte(strings.Repeat("x", 200)))
	require.Greater(t, len(framed), 200)

	// feed one byte at a time, as a caller reading from a socket would
	for i := 0; i < len(framed); i++ {
		_, _, err := DecodeFrame(framed[:i], MaxFrameLength)
		require.ErrorIs(t, err, ErrIncomplete, "prefix of %d bytes", i)
	}

	frame, n, err := DecodeFrame(append(framed, 0x01, 0x00), MaxFrameLength)
	require.NoError(t, err)
	assert.Equal(t, len(framed), n)
	assert.Equal(t, 201, frame.Length)
	assert.Equal(t, byte(0x02), frame.Payload[0])
}

func TestDecodeFrame_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		max     int
		wantErr error
	}{
		{
			name:    "varint too long",
			input:   []byte{0x80, 0x80, 0x80, 0x80, 0x80, 0x00},
			max:     MaxFrameLength,
			wantErr: ErrVarIntTooLong,
		},
		{
			name:    "over max",
			input:   []byte{0x10, 0x00},
			max:     8,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "negative",
			input:   []byte{0xFF, 0xFF, 0xFF, 0xFF, 0x0F},
			max:     MaxFrameLength,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "empty",
			input:   nil,
			max:     MaxFrameLength,
			wantErr: ErrIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, n, err := DecodeFrame(tt.input, tt.max)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, n)
		})
	}
}
