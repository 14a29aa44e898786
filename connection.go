// Package amqpcore implements the core of an asynchronous AMQP 0-9-1
// client: connection handshake, frame codec driving, the per-connection
// channel multiplexer, heartbeat supervision, and a channel-oriented API
// for declaring exchanges/queues, publishing, and consuming.
package amqpcore

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/kbilek/amqpcore/amqp"
)

// Connection is one TCP connection to a broker, multiplexing many logical
// channels over it. The reader loop exclusively owns manager and the
// in-flight content assemblies; the writer loop exclusively owns conn as
// a writer. All other state is either read-only after Open or touched
// only under lastHeartbeatMu/closeMu, per spec.md §5.
type Connection struct {
	conn net.Conn
	args ConnectionArgs
	log  Logger

	manager  *channelManager
	commands chan readerCommand
	outbound chan *amqp.FrameEnvelope

	lastHeartbeat   time.Time
	lastHeartbeatMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	closeMu   sync.Mutex
	closeErr  error

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc

	stats *connStats
	id    string

	channel0 *Channel
}

// Open performs the handshake driver (spec.md §4.G) over conn and, on
// success, spawns the reader and writer loops and returns a usable
// Connection. On handshake failure no loops are spawned and conn is
// closed.
func Open(conn net.Conn, args ConnectionArgs) (*Connection, error) {
	id := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	c := &Connection{
		conn:     conn,
		args:     args,
		log:      args.Logger,
		manager:  newChannelManager(args.MaxChannels),
		commands: make(chan readerCommand),
		outbound: make(chan *amqp.FrameEnvelope, 64),
		closed:   make(chan struct{}),
		group:    group,
		ctx:      gctx,
		cancel:   cancel,
		stats:    newConnStats(id),
		id:       id,
	}
	c.lastHeartbeat = time.Now()

	tuned, err := c.handshake()
	if err != nil {
		conn.Close()
		cancel()
		return nil, err
	}
	c.args.MaxChannels = tuned.ChannelMax
	c.args.MaxFrameSize = tuned.FrameMax
	c.args.HeartbeatInterval = tuned.Heartbeat
	c.manager = newChannelManager(c.args.MaxChannels)

	c.channel0 = c.newChannelHandle(0)
	mailbox := make(chan *channelEvent, 8)
	c.manager.registerChannel(0, mailbox)
	c.channel0.mailbox = mailbox

	c.group.Go(func() error {
		c.readerLoop()
		return c.Err()
	})
	c.group.Go(func() error {
		c.writerLoop()
		return c.Err()
	})

	return c, nil
}

type tunedParams struct {
	ChannelMax uint16
	FrameMax   uint32
	Heartbeat  uint16
}

// handshake runs spec.md §4.G over c.conn directly — it owns the reader
// and writer itself, before either loop goroutine exists.
func (c *Connection) handshake() (tunedParams, error) {
	var zero tunedParams

	if _, err := c.conn.Write(amqp.ProtocolHeader[:]); err != nil {
		return zero, newHandshakeFailed("protocol-header", err)
	}

	startEnv, err := amqp.ReadEnvelope(c.conn)
	if err != nil {
		return zero, newHandshakeFailed("connection-start", err)
	}
	start, ok := methodFrom[amqp.ConnectionStart](startEnv)
	if !ok {
		return zero, newHandshakeFailed("connection-start", errUnexpectedHandshakeMethod)
	}

	startOk := amqp.ConnectionStartOk{
		ClientProperties: amqp.PropTable{
			"product":     "amqpcore",
			"platform":    "Go",
			"copyright":   "Copyright (c) amqpcore contributors",
			"information": "https://github.com/kbilek/amqpcore",
		},
		Mechanism: "PLAIN",
		Response:  "\x00" + c.args.Address.Login + "\x00" + c.args.Address.Password,
		Locale:    "en_US",
	}
	_ = start // the server's Start fields, including its mechanism list, are not inspected; PLAIN is always offered
	if err := c.writeHandshakeFrame(0, startOk); err != nil {
		return zero, newHandshakeFailed("connection-start-ok", err)
	}

	tuneEnv, err := amqp.ReadEnvelope(c.conn)
	if err != nil {
		return zero, newHandshakeFailed("connection-tune", err)
	}
	tune, ok := methodFrom[amqp.ConnectionTune](tuneEnv)
	if !ok {
		return zero, newHandshakeFailed("connection-tune", errUnexpectedHandshakeMethod)
	}

	tuned := tunedParams{
		ChannelMax: minNonZero(tune.ChannelMax, c.args.MaxChannels),
		FrameMax:   minNonZeroU32(tune.FrameMax, c.args.MaxFrameSize),
		Heartbeat:  minNonZero(tune.Heartbeat, c.args.HeartbeatInterval),
	}
	c.log.Debugf("negotiated channel-max=%d frame-max=%d heartbeat=%d", tuned.ChannelMax, tuned.FrameMax, tuned.Heartbeat)

	tuneOk := amqp.ConnectionTuneOk{ChannelMax: tuned.ChannelMax, FrameMax: tuned.FrameMax, Heartbeat: tuned.Heartbeat}
	if err := c.writeHandshakeFrame(0, tuneOk); err != nil {
		return zero, newHandshakeFailed("connection-tune-ok", err)
	}

	open := amqp.ConnectionOpen{VHost: c.args.Address.VHost}
	if err := c.writeHandshakeFrame(0, open); err != nil {
		return zero, newHandshakeFailed("connection-open", err)
	}

	openOkEnv, err := amqp.ReadEnvelope(c.conn)
	if err != nil {
		return zero, newHandshakeFailed("connection-open-ok", err)
	}
	if _, ok := methodFrom[amqp.ConnectionOpenOk](openOkEnv); !ok {
		return zero, newHandshakeFailed("connection-open-ok", errUnexpectedHandshakeMethod)
	}

	return tuned, nil
}

var errUnexpectedHandshakeMethod = errors.New("unexpected method")

func methodFrom[T amqp.Method](env *amqp.FrameEnvelope) (T, bool) {
	var zero T
	mf, ok := env.Frame.(amqp.MethodFrame)
	if !ok {
		return zero, false
	}
	m, ok := mf.Method.(T)
	return m, ok
}

func (c *Connection) writeHandshakeFrame(channel uint16, m amqp.Method) error {
	wf, err := amqp.EncodeFrame(channel, amqp.MethodFrame{Method: m})
	if err != nil {
		return err
	}
	return amqp.WriteFrame(c.conn, wf)
}

func minNonZero(client, server uint16) uint16 {
	if client == 0 {
		return server
	}
	if server == 0 {
		return client
	}
	if client < server {
		return client
	}
	return server
}

func minNonZeroU32(client, server uint32) uint32 {
	if client == 0 {
		return server
	}
	if server == 0 {
		return client
	}
	if client < server {
		return client
	}
	return server
}

// closeWithError transitions the connection to its terminal closed state
// with err as the recorded cause. Safe to call more than once and from
// either loop; only the first call's error is kept. A codec error carrying
// amqp.ErrProtocolViolation is recorded as a *ProtocolViolationError. A
// *ProtocolViolationError is, per spec.md §7, closed with reply-code 501
// rather than a silent socket drop — the peer is told why before the
// connection goes away.
func (c *Connection) closeWithError(err error) {
	c.closeOnce.Do(func() {
		var pv *ProtocolViolationError
		if !errors.As(err, &pv) && errors.Is(err, amqp.ErrProtocolViolation) {
			err = wrapProtocolViolation(err)
		}
		c.closeMu.Lock()
		c.closeErr = err
		c.closeMu.Unlock()
		c.log.Errorf("closing connection %s: %v", c.id, err)
		if _, ok := err.(*ProtocolViolationError); ok {
			c.sendAbortiveClose(501, err.Error())
		}
		close(c.closed)
		c.cancel()
		c.conn.Close()
	})
}

// sendCloseOk writes Connection.Close-Ok directly, bypassing the writer
// loop's mailbox, since it is sent from the reader loop's own goroutine in
// response to a broker-initiated close and the connection is about to
// tear down regardless of mailbox ordering.
func (c *Connection) sendCloseOk() {
	_ = c.writeHandshakeFrame(0, amqp.ConnectionCloseOk{})
}

// sendAbortiveClose writes Connection.Close directly to the socket,
// bypassing the writer loop's mailbox the same way sendCloseOk does: it
// runs from whichever loop detected the fatal error, with the connection
// already on its way down, so there is no mailbox ordering left to
// respect. Errors are ignored — the socket may already be unusable.
func (c *Connection) sendAbortiveClose(code uint16, text string) {
	_ = c.writeHandshakeFrame(0, amqp.ConnectionClose{ReplyCode: code, ReplyText: text})
}

// Close performs spec.md §4.I's public close(): it sends Connection.Close
// with reply-code 200 on channel 0 (the user-initiated, well-formed code;
// see SPEC_FULL.md §4 on the reference's malformed 0/0), waits for
// Connection.Close-Ok or a 5s deadline, then tears down both loops and
// releases the socket. Calling Close after Close is a no-op.
func (c *Connection) Close() error {
	select {
	case <-c.closed:
		return nil
	default:
	}
	c.log.Infof("closing connection %s", c.id)

	reply := make(chan amqp.Frame, 1)
	c.sendCommand(func(m *channelManager) {
		m.registerResponder(0, reply)
	})

	env := &amqp.FrameEnvelope{ChannelId: 0, Frame: amqp.MethodFrame{Method: amqp.ConnectionClose{
		ReplyCode: 200,
		ReplyText: "Connection closed",
		ClassId:   0,
		MethodId:  0,
	}}}
	select {
	case c.outbound <- env:
	case <-c.closed:
	}

	select {
	case <-reply:
	case <-time.After(5 * time.Second):
	case <-c.closed:
	}

	c.closeWithError(&ConnectionClosedError{})
	c.group.Wait()
	return nil
}

// Err returns the error that caused the connection to close, if any. It
// returns nil while the connection is still open.
func (c *Connection) Err() error {
	select {
	case <-c.closed:
	default:
		return nil
	}
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	return c.closeErr
}
