package amqp

import "github.com/pkg/errors"

// ContentState is the per-channel assembly state for a content-bearing
// delivery, per spec.md §6: a method frame naming the delivery arrives,
// then a content-header frame giving total body size, then zero or more
// body frames until that many bytes have arrived.
type ContentState int

const (
	// StateWithMethod holds the leading method (Basic.Deliver, GetOk,
	// Return, or Publish) awaiting its content header.
	StateWithMethod ContentState = iota
	// StateWithHeader holds the method and header, awaiting body bytes.
	// A zero-length body completes immediately at this step.
	StateWithHeader
	// StateComplete holds an assembled method + header + full body.
	StateComplete
)

// ContentAssembly accumulates one content-bearing delivery across the
// method/header/body frame sequence AMQP splits every message into.
type ContentAssembly struct {
	State      ContentState
	Method     Method
	Properties BasicProperties
	bodySize   uint64
	body       []byte
}

// NewContentAssembly starts an assembly from a content-bearing method
// frame. Callers must check IsContentBearing before calling this.
func NewContentAssembly(m Method) *ContentAssembly {
	return &ContentAssembly{State: StateWithMethod, Method: m}
}

// AddHeader feeds the content-header frame, transitioning to StateComplete
// directly when the announced body is empty.
func (c *ContentAssembly) AddHeader(h ContentHeaderFrame) error {
	if c.State != StateWithMethod {
		return errors.Wrap(ErrProtocolViolation, "amqp: content header received out of order")
	}
	c.Properties = h.Properties
	c.bodySize = h.BodySize
	c.body = make([]byte, 0, h.BodySize)
	if c.bodySize == 0 {
		c.State = StateComplete
		return nil
	}
	c.State = StateWithHeader
	return nil
}

// AddBody feeds one body frame's bytes, transitioning to StateComplete
// once bodySize bytes have accumulated. More bytes than announced is a
// protocol violation.
func (c *ContentAssembly) AddBody(b ContentBodyFrame) error {
	if c.State != StateWithHeader {
		return errors.Wrap(ErrProtocolViolation, "amqp: content body received out of order")
	}
	c.body = append(c.body, b.Payload...)
	if uint64(len(c.body)) > c.bodySize {
		return errors.Wrap(ErrProtocolViolation, "amqp: content body exceeded announced size")
	}
	if uint64(len(c.body)) == c.bodySize {
		c.State = StateComplete
	}
	return nil
}

// Body returns the fully assembled payload. Only meaningful once State is
// StateComplete.
func (c *ContentAssembly) Body() []byte {
	return c.body
}
