package amqpcore

import (
	"github.com/kbilek/amqpcore/amqp"
)

// Delivery is what a consumer mailbox and Channel.Get receive once a
// content assembly completes: the triggering method (BasicDeliver,
// BasicGetOk, or BasicReturn), its properties, and the assembled body.
type Delivery struct {
	Method     amqp.Method
	Properties amqp.BasicProperties
	Body       []byte
}

type consumerKey struct {
	channelId uint16
	tag       string
}

// channelEvent is what a per-channel mailbox carries: either a plain
// method frame that is neither a synchronous reply nor content-bearing
// (for example a broker-sent Channel.Close; Connection.Close and
// Connection.Close-Ok on channel 0 are handled by the reader loop and
// never reach a mailbox) or a
// completed content delivery that is not a consumer's Basic.Deliver
// (Basic.GetOk, Basic.Return), per spec.md §4.D's "channel's mailbox
// (other GET-like cases)".
type channelEvent struct {
	Frame    amqp.Frame
	Delivery *Delivery
}

// channelManager is the registry spec.md §3/§4.D describes: channel id to
// inbound mailbox, channel id to the single outstanding synchronous-reply
// slot, and (channel, consumer tag) to delivery mailbox. It is owned
// exclusively by the reader loop — every mutation arrives as a command
// processed inside the reader loop's own goroutine, never through a
// mutex, mirroring how the teacher's AMQPConnection.channels map is only
// ever touched from handleIncoming/handleFrame with conn.lock (this
// design replaces that lock with single-goroutine ownership, per
// spec.md §5's "no shared mutable state" rule).
type channelManager struct {
	ids        *idAllocator
	channels   map[uint16]chan *channelEvent
	responders map[uint16]chan amqp.Frame
	consumers  map[consumerKey]chan Delivery
	assemblies map[uint16]*amqp.ContentAssembly
}

func newChannelManager(maxChannels uint16) *channelManager {
	return &channelManager{
		ids:        newIdAllocator(maxChannels),
		channels:   make(map[uint16]chan *channelEvent),
		responders: make(map[uint16]chan amqp.Frame),
		consumers:  make(map[consumerKey]chan Delivery),
		assemblies: make(map[uint16]*amqp.ContentAssembly),
	}
}

func (m *channelManager) registerChannel(id uint16, mailbox chan *channelEvent) {
	m.channels[id] = mailbox
}

func (m *channelManager) deregisterChannel(id uint16) {
	delete(m.channels, id)
	delete(m.responders, id)
	delete(m.assemblies, id)
	m.ids.release(id)
	for k := range m.consumers {
		if k.channelId == id {
			delete(m.consumers, k)
		}
	}
}

// registerResponder installs the pending reply slot for a synchronous
// call about to be issued on channel id. Per spec.md §4.D at most one
// responder per channel exists at a time; installing a new one before the
// previous is taken is a caller bug the channel API itself prevents via
// ChannelBusyError, so this simply overwrites.
func (m *channelManager) registerResponder(id uint16, reply chan amqp.Frame) {
	m.responders[id] = reply
}

// takeResponder removes and returns the responder for id, if any. The
// reader loop calls this exactly once per synchronous reply frame.
func (m *channelManager) takeResponder(id uint16) (chan amqp.Frame, bool) {
	r, ok := m.responders[id]
	if ok {
		delete(m.responders, id)
	}
	return r, ok
}

func (m *channelManager) registerConsumer(id uint16, tag string, mailbox chan Delivery) {
	m.consumers[consumerKey{id, tag}] = mailbox
}

func (m *channelManager) deregisterConsumer(id uint16, tag string) {
	delete(m.consumers, consumerKey{id, tag})
}

// dispatchContentFrame delivers a completed content assembly to either the
// consumer mailbox keyed by (channel, tag) for a Basic.Deliver, or the
// channel's own mailbox for every other content-bearing method
// (Basic.GetOk, Basic.Return), per spec.md §4.D.
func (m *channelManager) dispatchContentFrame(channelId uint16, assembly *amqp.ContentAssembly) {
	delivery := Delivery{
		Method:     assembly.Method,
		Properties: assembly.Properties,
		Body:       assembly.Body(),
	}
	if deliver, ok := assembly.Method.(amqp.BasicDeliver); ok {
		if mailbox, ok := m.consumers[consumerKey{channelId, deliver.ConsumerTag}]; ok {
			mailbox <- delivery
			return
		}
		// Consumer already cancelled client-side; drop the delivery rather
		// than block the reader loop on a mailbox nobody drains.
		return
	}
	if mailbox, ok := m.channels[channelId]; ok {
		mailbox <- &channelEvent{Delivery: &delivery}
	}
}

// dispatchChannelFrame routes a plain (non-content-bearing, non-sync-
// reply) method frame to the owning channel's mailbox, per spec.md §4.D's
// dispatch_channel_frame.
func (m *channelManager) dispatchChannelFrame(channelId uint16, method amqp.Method) {
	if mailbox, ok := m.channels[channelId]; ok {
		mailbox <- &channelEvent{Frame: amqp.MethodFrame{Method: method}}
	}
}
