package amqp

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterReaderPrimitivesRoundTrip(t *testing.T) {
	w := NewWriter()
	w.WriteByte(7)
	w.WriteUshort(1234)
	w.WriteUint(987654321)
	w.WriteUlong(1 << 40)
	require.NoError(t, w.WriteShortStr("hello"))
	require.NoError(t, w.WriteLongStr([]byte("a longer byte string")))

	r := NewReader(w.Bytes())
	b, err := r.ReadByte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), b)

	us, err := r.ReadUshort()
	require.NoError(t, err)
	assert.Equal(t, uint16(1234), us)

	ui, err := r.ReadUint()
	require.NoError(t, err)
	assert.Equal(t, uint32(987654321), ui)

	ul, err := r.ReadUlong()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), ul)

	s, err := r.ReadShortStr()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	ls, err := r.ReadLongStr()
	require.NoError(t, err)
	assert.Equal(t, "a longer byte string", string(ls))

	assert.Equal(t, 0, r.Remaining())
}

func TestTableRoundTrip(t *testing.T) {
	in := PropTable{
		"x-match":  "all",
		"count":    int32(42),
		"big":      int64(1 << 50),
		"ratio":    3.25,
		"flag":     true,
		"absent":   nil,
		"nested":   PropTable{"inner": "v"},
	}

	w := NewWriter()
	require.NoError(t, w.WriteTable(in))

	r := NewReader(w.Bytes())
	out, err := r.ReadTable()
	require.NoError(t, err)

	assert.True(t, EquivalentTables(in, out), "table did not round-trip: got %#v", out)
}

func TestReaderTruncatedInputIsProtocolViolation(t *testing.T) {
	r := NewReader([]byte{0, 1}) // only two bytes, but a uint needs four
	_, err := r.ReadUint()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestRawFrameRoundTrip(t *testing.T) {
	in := &WireFrame{Type: FrameTypeMethod, Channel: 3, Payload: []byte{1, 2, 3, 4}}
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, in))

	out, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Type, out.Type)
	assert.Equal(t, in.Channel, out.Channel)
	assert.Equal(t, in.Payload, out.Payload)
}

func TestRawFrameBadTrailerIsProtocolViolation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &WireFrame{Type: FrameTypeHeartbeat, Channel: 0}))
	corrupt := buf.Bytes()
	corrupt[len(corrupt)-1] = 0x00

	_, err := ReadFrame(bytes.NewReader(corrupt))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}
