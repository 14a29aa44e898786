package amqpcore

import "github.com/pkg/errors"

// The error taxonomy below names a recovery policy for every failure mode
// the connection core can raise. Locally recoverable errors
// (ChannelBusyError, OutOfChannelIdsError, TimeoutError) surface to the
// caller of the channel API and leave the connection usable; every other
// kind transitions the connection to a terminal closed state.

// ProtocolViolationError wraps a codec failure: a bad frame-end octet, a
// length that runs past the available bytes, or content frames arriving
// out of sequence.
type ProtocolViolationError struct {
	cause error
}

func (e *ProtocolViolationError) Error() string {
	return "amqpcore: protocol violation: " + e.cause.Error()
}

func (e *ProtocolViolationError) Unwrap() error { return e.cause }

func wrapProtocolViolation(cause error) error {
	return &ProtocolViolationError{cause: errors.WithStack(cause)}
}

// HandshakeFailedError reports the connection negotiation stage at which
// the peer sent something other than what that stage required.
type HandshakeFailedError struct {
	Stage string
	cause error
}

func (e *HandshakeFailedError) Error() string {
	if e.cause != nil {
		return "amqpcore: handshake failed at " + e.Stage + ": " + e.cause.Error()
	}
	return "amqpcore: handshake failed at " + e.Stage
}

func (e *HandshakeFailedError) Unwrap() error { return e.cause }

func newHandshakeFailed(stage string, cause error) error {
	return &HandshakeFailedError{Stage: stage, cause: cause}
}

// UnexpectedReplyError is raised by the reader loop when a synchronous
// reply method arrives on a channel with no responder installed — the
// peer is misbehaving, and the connection cannot recover.
type UnexpectedReplyError struct {
	ChannelId uint16
	ClassId   uint16
	MethodId  uint16
}

func (e *UnexpectedReplyError) Error() string {
	return errors.Errorf("amqpcore: unexpected reply on channel %d (class=%d method=%d) with no responder installed",
		e.ChannelId, e.ClassId, e.MethodId).Error()
}

// ChannelBusyError is returned when a caller attempts a second
// synchronous call on a channel while one is already outstanding.
type ChannelBusyError struct {
	ChannelId uint16
}

func (e *ChannelBusyError) Error() string {
	return errors.Errorf("amqpcore: channel %d is busy with a pending synchronous call", e.ChannelId).Error()
}

// OutOfChannelIdsError is returned by the id allocator when every id in
// [1, max_channels] is in use.
type OutOfChannelIdsError struct {
	Max uint16
}

func (e *OutOfChannelIdsError) Error() string {
	return errors.Errorf("amqpcore: no channel ids available (max %d in use)", e.Max).Error()
}

// TimeoutError is returned when a synchronous call's caller-supplied
// deadline expires before a reply arrives.
type TimeoutError struct {
	ChannelId uint16
}

func (e *TimeoutError) Error() string {
	return errors.Errorf("amqpcore: synchronous call on channel %d timed out", e.ChannelId).Error()
}

// LivenessLostError is raised by the heartbeat supervisor when the peer
// has been silent for more than 2×heartbeat_interval.
type LivenessLostError struct{}

func (e *LivenessLostError) Error() string {
	return "amqpcore: broker liveness lost (no frames within 2x heartbeat interval)"
}

// ServerCloseError carries the reply code/text the broker sent in its
// Connection.Close.
type ServerCloseError struct {
	Code uint16
	Text string
}

func (e *ServerCloseError) Error() string {
	return errors.Errorf("amqpcore: server closed the connection (code=%d): %s", e.Code, e.Text).Error()
}

// ConnectionClosedError is returned by every API call issued after the
// connection has reached its terminal closed state.
type ConnectionClosedError struct{}

func (e *ConnectionClosedError) Error() string {
	return "amqpcore: connection is closed"
}
