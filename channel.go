package amqpcore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbilek/amqpcore/amqp"
)

// Channel is a handle onto one logical, ordered stream multiplexed over a
// Connection. It holds a pointer to its Connection and uses it only to
// send on the command/outbound mailboxes and to watch the close channel;
// it never touches the channel manager's state directly. Because it holds
// that pointer, a live Channel keeps its Connection reachable.
type Channel struct {
	id      uint16
	conn    *Connection
	mailbox chan *channelEvent

	busyMu sync.Mutex
	busy   bool
}

func (c *Connection) newChannelHandle(id uint16) *Channel {
	return &Channel{id: id, conn: c}
}

// ID returns the channel's wire id.
func (ch *Channel) ID() uint16 { return ch.id }

// CreateChannel performs spec.md §4.H's open_channel: allocates an id,
// registers the channel's mailbox, installs a responder, writes
// Channel.Open, and awaits Channel.Open-Ok on that responder.
func (c *Connection) CreateChannel() (*Channel, error) {
	select {
	case <-c.closed:
		return nil, &ConnectionClosedError{}
	default:
	}

	var id uint16
	var allocErr error
	c.sendCommand(func(m *channelManager) {
		id, allocErr = m.ids.allocate()
	})
	if allocErr != nil {
		return nil, allocErr
	}

	ch := c.newChannelHandle(id)
	mailbox := make(chan *channelEvent, 8)
	ch.mailbox = mailbox
	c.sendCommand(func(m *channelManager) {
		m.registerChannel(id, mailbox)
	})

	if _, err := ch.InvokeSyncMethod(amqp.ChannelOpen{}); err != nil {
		c.sendCommand(func(m *channelManager) { m.deregisterChannel(id) })
		return nil, err
	}
	return ch, nil
}

// InvokeSyncMethod performs spec.md §4.H's invoke_sync_method: install a
// fresh responder, enqueue the method frame, and await exactly one reply.
// Concurrent synchronous calls on the same channel fail fast with
// ChannelBusyError rather than silently interleaving.
func (ch *Channel) InvokeSyncMethod(method amqp.Method) (amqp.Method, error) {
	return ch.invokeSyncMethodWithDeadline(method, 0)
}

// InvokeSyncMethodWithDeadline is InvokeSyncMethod bounded by a caller
// deadline; on expiry the responder slot is dropped and the call fails
// with TimeoutError. A zero deadline waits indefinitely.
func (ch *Channel) InvokeSyncMethodWithDeadline(method amqp.Method, deadline time.Duration) (amqp.Method, error) {
	return ch.invokeSyncMethodWithDeadline(method, deadline)
}

func (ch *Channel) invokeSyncMethodWithDeadline(method amqp.Method, deadline time.Duration) (amqp.Method, error) {
	ch.busyMu.Lock()
	if ch.busy {
		ch.busyMu.Unlock()
		ch.conn.log.Warnf("channel %d busy: sync call class=%d method=%d rejected", ch.id, method.ClassID(), method.MethodID())
		return nil, &ChannelBusyError{ChannelId: ch.id}
	}
	ch.busy = true
	ch.busyMu.Unlock()
	defer func() {
		ch.busyMu.Lock()
		ch.busy = false
		ch.busyMu.Unlock()
	}()

	reply := make(chan amqp.Frame, 1)
	ch.conn.sendCommand(func(m *channelManager) {
		m.registerResponder(ch.id, reply)
	})

	env := &amqp.FrameEnvelope{ChannelId: ch.id, Frame: amqp.MethodFrame{Method: method}}
	select {
	case ch.conn.outbound <- env:
	case <-ch.conn.closed:
		return nil, &ConnectionClosedError{}
	}

	var timeout <-chan time.Time
	if deadline > 0 {
		timeout = time.After(deadline)
	}

	select {
	case frame := <-reply:
		mf := frame.(amqp.MethodFrame)
		ch.conn.log.Debugf("channel %d: class=%d method=%d -> class=%d method=%d", ch.id,
			method.ClassID(), method.MethodID(), mf.Method.ClassID(), mf.Method.MethodID())
		return mf.Method, nil
	case <-timeout:
		ch.conn.sendCommand(func(m *channelManager) { m.takeResponder(ch.id) })
		ch.conn.log.Warnf("channel %d: sync call class=%d method=%d timed out", ch.id, method.ClassID(), method.MethodID())
		return nil, &TimeoutError{ChannelId: ch.id}
	case <-ch.conn.closed:
		return nil, ch.conn.closedErr()
	}
}

func (c *Connection) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return &ConnectionClosedError{}
}

// Close performs a channel-level close: Channel.Close / Channel.Close-Ok,
// then releases the channel's id and mailbox.
func (ch *Channel) Close() error {
	_, err := ch.InvokeSyncMethod(amqp.ChannelClose{ReplyCode: 200, ReplyText: "Channel closed"})
	ch.conn.sendCommand(func(m *channelManager) { m.deregisterChannel(ch.id) })
	return err
}

// DeclareExchange issues Exchange.Declare and awaits Exchange.Declare-Ok.
func (ch *Channel) DeclareExchange(name, kind string, durable, autoDelete bool, args amqp.PropTable) error {
	_, err := ch.InvokeSyncMethod(amqp.ExchangeDeclare{
		Exchange: name, Type: kind, Durable: durable, AutoDel: autoDelete, Arguments: args,
	})
	return err
}

// DeclareQueue issues Queue.Declare and returns the broker's
// Queue.Declare-Ok (queue name, message count, consumer count).
func (ch *Channel) DeclareQueue(name string, durable, exclusive, autoDelete bool, args amqp.PropTable) (amqp.QueueDeclareOk, error) {
	reply, err := ch.InvokeSyncMethod(amqp.QueueDeclare{
		Queue: name, Durable: durable, Exclusive: exclusive, AutoDel: autoDelete, Arguments: args,
	})
	if err != nil {
		return amqp.QueueDeclareOk{}, err
	}
	return reply.(amqp.QueueDeclareOk), nil
}

// BindQueue issues Queue.Bind and awaits Queue.Bind-Ok.
func (ch *Channel) BindQueue(queue, exchange, routingKey string, args amqp.PropTable) error {
	_, err := ch.InvokeSyncMethod(amqp.QueueBind{Queue: queue, Exchange: exchange, RoutingKey: routingKey, Arguments: args})
	return err
}

// Qos issues Basic.Qos and awaits Basic.Qos-Ok.
func (ch *Channel) Qos(prefetchCount uint16, global bool) error {
	_, err := ch.InvokeSyncMethod(amqp.BasicQos{PrefetchCount: prefetchCount, Global: global})
	return err
}

// Publish emits Basic.Publish, a content header, and as many body frames
// as needed to respect frame_max - 8 bytes per frame (spec.md §9 Open
// Question 3 — the reference never enforces this).
func (ch *Channel) Publish(exchange, routingKey string, body []byte, props amqp.BasicProperties) error {
	select {
	case <-ch.conn.closed:
		return ch.conn.closedErr()
	default:
	}

	publish := &amqp.FrameEnvelope{
		ChannelId: ch.id,
		Frame: amqp.MethodFrame{Method: amqp.BasicPublish{Exchange: exchange, RoutingKey: routingKey}},
	}
	header := &amqp.FrameEnvelope{
		ChannelId: ch.id,
		Frame:     amqp.ContentHeaderFrame{ClassId: amqp.ClassBasic, BodySize: uint64(len(body)), Properties: props},
	}

	maxChunk := int(ch.conn.args.MaxFrameSize) - 8
	if maxChunk <= 0 {
		maxChunk = len(body)
		if maxChunk == 0 {
			maxChunk = 1
		}
	}
	envelopes := make([]*amqp.FrameEnvelope, 0, 2+len(body)/maxChunk+1)
	envelopes = append(envelopes, publish, header)

	for offset := 0; offset < len(body); offset += maxChunk {
		end := offset + maxChunk
		if end > len(body) {
			end = len(body)
		}
		envelopes = append(envelopes, &amqp.FrameEnvelope{
			ChannelId: ch.id,
			Frame:     amqp.ContentBodyFrame{Payload: body[offset:end]},
		})
	}
	for _, env := range envelopes {
		select {
		case ch.conn.outbound <- env:
		case <-ch.conn.closed:
			return ch.conn.closedErr()
		}
	}
	return nil
}

// Consume issues Basic.Consume and, on success, returns the consumer tag
// and a channel of deliveries. An empty tag is replaced by a tag generated
// client-side ("ctag-" followed by a UUID), so the broker is never asked
// to assign one.
func (ch *Channel) Consume(queue, tag string, noAck, exclusive bool, args amqp.PropTable) (string, <-chan Delivery, error) {
	if tag == "" {
		tag = "ctag-" + uuid.New().String()
	}
	reply, err := ch.InvokeSyncMethod(amqp.BasicConsume{
		Queue: queue, ConsumerTag: tag, NoAck: noAck, Exclusive: exclusive, Arguments: args,
	})
	if err != nil {
		return "", nil, err
	}
	ok := reply.(amqp.BasicConsumeOk)

	deliveries := make(chan Delivery, 16)
	ch.conn.sendCommand(func(m *channelManager) {
		m.registerConsumer(ch.id, ok.ConsumerTag, deliveries)
	})
	return ok.ConsumerTag, deliveries, nil
}

// Cancel issues Basic.Cancel and awaits Basic.Cancel-Ok, then stops
// routing deliveries for tag, per spec.md GLOSSARY: "a consumer lives
// from Basic.Consume-Ok to Basic.Cancel-Ok or channel closure."
func (ch *Channel) Cancel(tag string) error {
	_, err := ch.InvokeSyncMethod(amqp.BasicCancel{ConsumerTag: tag})
	ch.conn.sendCommand(func(m *channelManager) { m.deregisterConsumer(ch.id, tag) })
	return err
}

// Get issues Basic.Get and returns either a delivery (Basic.GetOk plus
// its content) or ok=false on Basic.GetEmpty.
func (ch *Channel) Get(queue string, noAck bool) (Delivery, bool, error) {
	ch.busyMu.Lock()
	if ch.busy {
		ch.busyMu.Unlock()
		return Delivery{}, false, &ChannelBusyError{ChannelId: ch.id}
	}
	ch.busy = true
	ch.busyMu.Unlock()
	defer func() {
		ch.busyMu.Lock()
		ch.busy = false
		ch.busyMu.Unlock()
	}()

	reply := make(chan amqp.Frame, 1)
	ch.conn.sendCommand(func(m *channelManager) {
		m.registerResponder(ch.id, reply)
	})
	env := &amqp.FrameEnvelope{ChannelId: ch.id, Frame: amqp.MethodFrame{Method: amqp.BasicGet{Queue: queue, NoAck: noAck}}}
	select {
	case ch.conn.outbound <- env:
	case <-ch.conn.closed:
		return Delivery{}, false, ch.conn.closedErr()
	}

	select {
	case frame := <-reply:
		mf := frame.(amqp.MethodFrame)
		if _, empty := mf.Method.(amqp.BasicGetEmpty); empty {
			return Delivery{}, false, nil
		}
	case <-ch.conn.closed:
		return Delivery{}, false, ch.conn.closedErr()
	}

	// GetOk was the reply; the reader loop assembles the content and
	// delivers it to this channel's mailbox as a channelEvent.
	select {
	case ev := <-ch.mailbox:
		if ev.Delivery != nil {
			return *ev.Delivery, true, nil
		}
		return Delivery{}, false, nil
	case <-ch.conn.closed:
		return Delivery{}, false, ch.conn.closedErr()
	}
}

// Ack acknowledges one or more deliveries up to and including tag.
func (ch *Channel) Ack(deliveryTag uint64, multiple bool) error {
	return ch.sendAsync(amqp.BasicAck{DeliveryTag: deliveryTag, Multiple: multiple})
}

// Nack negatively acknowledges one or more deliveries up to and including
// tag, optionally requeueing them.
func (ch *Channel) Nack(deliveryTag uint64, multiple, requeue bool) error {
	return ch.sendAsync(amqp.BasicNack{DeliveryTag: deliveryTag, Multiple: multiple, Requeue: requeue})
}

// Reject rejects a single delivery, optionally requeueing it.
func (ch *Channel) Reject(deliveryTag uint64, requeue bool) error {
	return ch.sendAsync(amqp.BasicReject{DeliveryTag: deliveryTag, Requeue: requeue})
}

func (ch *Channel) sendAsync(method amqp.Method) error {
	env := &amqp.FrameEnvelope{ChannelId: ch.id, Frame: amqp.MethodFrame{Method: method}}
	select {
	case ch.conn.outbound <- env:
		return nil
	case <-ch.conn.closed:
		return ch.conn.closedErr()
	}
}
