package amqpcore

import (
	"time"

	"github.com/kbilek/amqpcore/amqp"
)

// writerLoop is the sole owner of the socket as a writer, per spec.md
// §4.F: it serialises outbound envelopes and, on its own ticker
// independent of data traffic, emits heartbeats — matching the teacher's
// handleOutgoing/handleSendHeartbeat split (server/connection.go) rather
// than resetting a single shared timer on every write, per SPEC_FULL.md
// §4's heartbeat/data-traffic independence decision (spec.md §9 Open
// Question 2).
func (c *Connection) writerLoop() {
	defer c.recoverLoop("writer")

	var heartbeat <-chan time.Time
	if c.args.HeartbeatInterval > 0 {
		ticker := time.NewTicker(time.Duration(c.args.HeartbeatInterval) * time.Second / 2)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	waitStart := time.Now()
	for {
		select {
		case env := <-c.outbound:
			c.stats.outboxBlockS.Observe(time.Since(waitStart).Seconds())
			if err := amqp.WriteEnvelope(c.conn, env); err != nil {
				c.closeWithError(err)
				c.drainOutbound()
				return
			}
			c.stats.framesOut.Inc()
			waitStart = time.Now()

		case <-heartbeat:
			c.log.Debugf("emitting heartbeat on connection %s", c.id)
			hb := &amqp.FrameEnvelope{ChannelId: 0, Frame: amqp.HeartbeatFrame{}}
			if err := amqp.WriteEnvelope(c.conn, hb); err != nil {
				c.closeWithError(err)
				c.drainOutbound()
				return
			}
			c.stats.framesOut.Inc()
			waitStart = time.Now()

		case <-c.closed:
			c.drainOutbound()
			return
		}
	}
}

// drainOutbound flushes any envelopes already queued when close begins,
// up to a short deadline, per spec.md §4.F/§5's "drains the outbound
// mailbox" resource-discipline rule — callers blocked sending on
// c.outbound are unblocked by c.closed regardless, so this is a
// best-effort final flush, not a correctness requirement.
func (c *Connection) drainOutbound() {
	deadline := time.After(200 * time.Millisecond)
	for {
		select {
		case env := <-c.outbound:
			amqp.WriteEnvelope(c.conn, env)
		case <-deadline:
			return
		default:
			if len(c.outbound) == 0 {
				return
			}
		}
	}
}
