package amqp

import (
	"io"

	"github.com/pkg/errors"
)

// Frame is the decoded, class-specific payload of one WireFrame: a method
// invocation, a content header, a content body chunk, or a heartbeat. The
// reader loop works with Frame values; WireFrame is only the wire-level
// envelope used by ReadFrame/WriteFrame.
type Frame interface {
	isFrame()
}

// MethodFrame carries one decoded method record.
type MethodFrame struct {
	Method Method
}

func (MethodFrame) isFrame() {}

// ContentHeaderFrame is the class/weight/body-size/properties triple that
// follows a content-bearing method, per spec.md §6.
type ContentHeaderFrame struct {
	ClassId    uint16
	BodySize   uint64
	Properties BasicProperties
}

func (ContentHeaderFrame) isFrame() {}

// ContentBodyFrame is one chunk of message payload; a message larger than
// the negotiated frame_max arrives as several of these in sequence.
type ContentBodyFrame struct {
	Payload []byte
}

func (ContentBodyFrame) isFrame() {}

// HeartbeatFrame carries no data; its mere arrival resets liveness
// tracking, per spec.md §5.
type HeartbeatFrame struct{}

func (HeartbeatFrame) isFrame() {}

// FrameEnvelope pairs a decoded Frame with the channel id it arrived on
// (0 for connection-global frames), the unit the reader loop dispatches on.
type FrameEnvelope struct {
	ChannelId uint16
	Frame     Frame
}

// DecodeFrame interprets a raw WireFrame's type and payload into a Frame.
// Content-header weight is always 0 for the basic class and is read and
// discarded rather than stored, mirroring how packetd-packetd/protocol/pamqp/decoder.go
// treats unused reserved fields.
func DecodeFrame(wf *WireFrame) (Frame, error) {
	switch wf.Type {
	case FrameTypeMethod:
		r := NewReader(wf.Payload)
		class, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		method, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		m, err := DecodeMethod(class, method, wf.Payload[4:])
		if err != nil {
			return nil, err
		}
		return MethodFrame{Method: m}, nil

	case FrameTypeHeader:
		r := NewReader(wf.Payload)
		class, err := r.ReadUshort()
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadUshort(); err != nil { // weight, always 0
			return nil, err
		}
		bodySize, err := r.ReadUlong()
		if err != nil {
			return nil, err
		}
		props, err := DecodeBasicProperties(r)
		if err != nil {
			return nil, err
		}
		return ContentHeaderFrame{ClassId: class, BodySize: bodySize, Properties: props}, nil

	case FrameTypeBody:
		return ContentBodyFrame{Payload: wf.Payload}, nil

	case FrameTypeHeartbeat:
		return HeartbeatFrame{}, nil

	default:
		return nil, errors.Wrapf(ErrProtocolViolation, "amqp: unknown frame type %d", wf.Type)
	}
}

// EncodeFrame serialises a Frame into a WireFrame addressed to channel.
func EncodeFrame(channel uint16, f Frame) (*WireFrame, error) {
	switch v := f.(type) {
	case MethodFrame:
		body, err := EncodeMethod(v.Method)
		if err != nil {
			return nil, err
		}
		w := NewWriter()
		w.WriteUshort(v.Method.ClassID())
		w.WriteUshort(v.Method.MethodID())
		w.buf.Write(body)
		return &WireFrame{Type: FrameTypeMethod, Channel: channel, Payload: w.Bytes()}, nil

	case ContentHeaderFrame:
		w := NewWriter()
		w.WriteUshort(v.ClassId)
		w.WriteUshort(0) // weight
		w.WriteUlong(v.BodySize)
		if err := v.Properties.Encode(w); err != nil {
			return nil, err
		}
		return &WireFrame{Type: FrameTypeHeader, Channel: channel, Payload: w.Bytes()}, nil

	case ContentBodyFrame:
		return &WireFrame{Type: FrameTypeBody, Channel: channel, Payload: v.Payload}, nil

	case HeartbeatFrame:
		return &WireFrame{Type: FrameTypeHeartbeat, Channel: channel, Payload: nil}, nil

	default:
		return nil, errors.Errorf("amqp: cannot encode frame of type %T", f)
	}
}

// ReadEnvelope reads and decodes one frame off r.
func ReadEnvelope(r io.Reader) (*FrameEnvelope, error) {
	wf, err := ReadFrame(r)
	if err != nil {
		return nil, err
	}
	f, err := DecodeFrame(wf)
	if err != nil {
		return nil, err
	}
	return &FrameEnvelope{ChannelId: wf.Channel, Frame: f}, nil
}

// WriteEnvelope encodes and writes one frame to w.
func WriteEnvelope(w io.Writer, env *FrameEnvelope) error {
	wf, err := EncodeFrame(env.ChannelId, env.Frame)
	if err != nil {
		return err
	}
	return WriteFrame(w, wf)
}
