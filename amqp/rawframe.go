package amqp

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Frame type octets, per the AMQP 0-9-1 frame header laid out identically
// in packetd-packetd/protocol/pamqp/amqp.go.
const (
	FrameTypeMethod    byte = 1
	FrameTypeHeader    byte = 2
	FrameTypeBody      byte = 3
	FrameTypeHeartbeat byte = 8
)

// FrameEnd is the fixed trailer octet every frame must end with.
const FrameEnd byte = 0xCE

// ProtocolHeader is the 8-byte preamble a client sends before any frame,
// identifying itself as speaking AMQP 0-9-1.
var ProtocolHeader = [8]byte{'A', 'M', 'Q', 'P', 0, 0, 9, 1}

// WireFrame is the untyped envelope every frame decodes into before its
// payload is interpreted as a method, header or body, named after the
// *amqp.WireFrame the teacher's connection.go reads off the wire one at a
// time in handleIncoming.
type WireFrame struct {
	Type    byte
	Channel uint16
	Payload []byte
}

// ReadFrame reads one complete frame from r: a 7-byte header (type,
// channel, payload length), the payload itself, then the frame-end octet.
// A wrong frame-end octet is a protocol violation; a stream that ends
// before the declared payload and trailer returns the read error.
func ReadFrame(r io.Reader) (*WireFrame, error) {
	var hdr [7]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	typ := hdr[0]
	channel := binary.BigEndian.Uint16(hdr[1:3])
	size := binary.BigEndian.Uint32(hdr[3:7])

	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	var end [1]byte
	if _, err := io.ReadFull(r, end[:]); err != nil {
		return nil, err
	}
	if end[0] != FrameEnd {
		return nil, errors.Wrapf(ErrProtocolViolation, "amqp: frame end was 0x%02x, want 0x%02x", end[0], FrameEnd)
	}

	return &WireFrame{Type: typ, Channel: channel, Payload: payload}, nil
}

// WriteFrame writes f to w in the 7-byte-header + payload + frame-end
// layout. Callers are expected to serialize writes to w themselves (the
// writer loop owns the socket exclusively); WriteFrame itself does no
// locking.
func WriteFrame(w io.Writer, f *WireFrame) error {
	var hdr [7]byte
	hdr[0] = f.Type
	binary.BigEndian.PutUint16(hdr[1:3], f.Channel)
	binary.BigEndian.PutUint32(hdr[3:7], uint32(len(f.Payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		if _, err := w.Write(f.Payload); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{FrameEnd})
	return err
}

// ReadProtocolHeader reads the 8-byte AMQP protocol header (the one a
// server sends back when it refuses the requested protocol version) and
// returns it as read; its contents are not checked.
func ReadProtocolHeader(r io.Reader) ([8]byte, error) {
	var hdr [8]byte
	_, err := io.ReadFull(r, hdr[:])
	return hdr, err
}
