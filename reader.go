package amqpcore

import (
	"time"

	"github.com/pkg/errors"

	"github.com/kbilek/amqpcore/amqp"
)

func errAssemblyNotFound(channelId uint16) error {
	return errors.Errorf("amqpcore: content frame for channel %d with no assembly in progress", channelId)
}

var errUnknownFrameKind = errors.New("amqpcore: decoded frame of unrecognised kind")

// readerCommand is one entry on the reader loop's command mailbox, per
// spec.md §4.D/§5: the API layer never touches the channelManager
// directly, it sends a command and waits on ack so that "responder
// installed" happens-before "request frame written".
type readerCommand struct {
	apply func(*channelManager)
	ack   chan struct{}
}

func (c *Connection) sendCommand(apply func(*channelManager)) {
	cmd := readerCommand{apply: apply, ack: make(chan struct{})}
	select {
	case c.commands <- cmd:
	case <-c.closed:
		return
	}
	select {
	case <-cmd.ack:
	case <-c.closed:
	}
}

// readerLoop is the multiplexer described in spec.md §4.E: the sole owner
// of the channelManager and the in-flight content assemblies, reading raw
// frames off the socket and turning them into responder deliveries,
// consumer deliveries, or channel mailbox events. Grounded on the
// teacher's handleIncoming/handleFrame (server/connection.go), replacing
// its mutex-guarded conn.channels map with exclusive single-goroutine
// ownership.
func (c *Connection) readerLoop() {
	defer c.recoverLoop("reader")

	frames := make(chan *amqp.FrameEnvelope, 16)
	readErr := make(chan error, 1)
	go func() {
		for {
			env, err := amqp.ReadEnvelope(c.conn)
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- env:
			case <-c.closed:
				return
			}
		}
	}()

	for {
		select {
		case cmd := <-c.commands:
			cmd.apply(c.manager)
			close(cmd.ack)

		case env := <-frames:
			c.stats.framesIn.Inc()
			c.lastHeartbeatMu.Lock()
			c.lastHeartbeat = time.Now()
			c.lastHeartbeatMu.Unlock()
			if err := c.handleEnvelope(env); err != nil {
				c.closeWithError(err)
				return
			}

		case err := <-readErr:
			c.closeWithError(err)
			return

		case <-c.heartbeatTimeout():
			c.log.Warnf("no frames from broker within 2x heartbeat interval, closing connection %s", c.id)
			c.closeWithError(&LivenessLostError{})
			return

		case <-c.closed:
			return
		}
	}
}

// heartbeatTimeout returns a channel that fires once 2x heartbeat_interval
// has elapsed since the last frame of any kind was observed; it returns a
// nil channel (which never fires) when heartbeats are disabled, per
// spec.md §8's boundary case for heartbeat_interval == 0.
func (c *Connection) heartbeatTimeout() <-chan time.Time {
	if c.args.HeartbeatInterval == 0 {
		return nil
	}
	c.lastHeartbeatMu.Lock()
	deadline := c.lastHeartbeat.Add(2 * time.Duration(c.args.HeartbeatInterval) * time.Second)
	c.lastHeartbeatMu.Unlock()
	d := time.Until(deadline)
	if d < 0 {
		d = 0
	}
	return time.After(d)
}

func (c *Connection) handleEnvelope(env *amqp.FrameEnvelope) error {
	switch f := env.Frame.(type) {
	case amqp.HeartbeatFrame:
		return nil

	case amqp.ContentHeaderFrame:
		assembly, ok := c.manager.assemblies[env.ChannelId]
		if !ok {
			return wrapProtocolViolation(errAssemblyNotFound(env.ChannelId))
		}
		if err := assembly.AddHeader(f); err != nil {
			return err
		}
		if assembly.State == amqp.StateComplete {
			delete(c.manager.assemblies, env.ChannelId)
			c.manager.dispatchContentFrame(env.ChannelId, assembly)
		}
		return nil

	case amqp.ContentBodyFrame:
		assembly, ok := c.manager.assemblies[env.ChannelId]
		if !ok {
			return wrapProtocolViolation(errAssemblyNotFound(env.ChannelId))
		}
		if err := assembly.AddBody(f); err != nil {
			return err
		}
		if assembly.State == amqp.StateComplete {
			delete(c.manager.assemblies, env.ChannelId)
			c.manager.dispatchContentFrame(env.ChannelId, assembly)
		}
		return nil

	case amqp.MethodFrame:
		return c.handleMethodFrame(env.ChannelId, f.Method)

	default:
		return wrapProtocolViolation(errUnknownFrameKind)
	}
}

func (c *Connection) handleMethodFrame(channelId uint16, method amqp.Method) error {
	class, id := method.ClassID(), method.MethodID()

	if amqp.IsContentBearing(class, id) {
		if _, isDeliver := method.(amqp.BasicDeliver); isDeliver {
			c.manager.assemblies[channelId] = amqp.NewContentAssembly(method)
			return nil
		}
		if _, isReturn := method.(amqp.BasicReturn); isReturn {
			c.manager.assemblies[channelId] = amqp.NewContentAssembly(method)
			return nil
		}
		if _, isGetOk := method.(amqp.BasicGetOk); isGetOk {
			c.manager.assemblies[channelId] = amqp.NewContentAssembly(method)
			// GetOk is both content-bearing and a sync reply: Get() is
			// blocked on its responder and must be woken now so it can
			// move on to draining the channel mailbox the assembly will
			// be delivered to once the content frames arrive.
			if reply, ok := c.manager.takeResponder(channelId); ok {
				reply <- amqp.MethodFrame{Method: method}
			}
			return nil
		}
	}

	if amqp.IsSyncReply(class, id) {
		reply, ok := c.manager.takeResponder(channelId)
		if !ok {
			c.log.Warnf("unexpected reply on channel %d (class=%d method=%d) with no responder installed", channelId, class, id)
			return &UnexpectedReplyError{ChannelId: channelId, ClassId: class, MethodId: id}
		}
		reply <- amqp.MethodFrame{Method: method}
		return nil
	}

	if channelId == 0 {
		return c.handleConnectionFrame(method)
	}

	c.manager.dispatchChannelFrame(channelId, method)
	return nil
}

// handleConnectionFrame handles the two channel-0 frames a peer may send
// outside a responder exchange: an unsolicited Connection.Close (the
// broker is closing the connection) and the Connection.Close-Ok that
// answers our own close() — the latter still arrives through the
// responder path during an orderly close, so this only needs to cover the
// broker-initiated case.
func (c *Connection) handleConnectionFrame(method amqp.Method) error {
	if closeMethod, ok := method.(amqp.ConnectionClose); ok {
		c.log.Infof("broker closed connection %s (code=%d): %s", c.id, closeMethod.ReplyCode, closeMethod.ReplyText)
		c.sendCloseOk()
		return &ServerCloseError{Code: closeMethod.ReplyCode, Text: closeMethod.ReplyText}
	}
	c.manager.dispatchChannelFrame(0, method)
	return nil
}
