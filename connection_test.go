package amqpcore

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kbilek/amqpcore/amqp"
)

// fakeBroker drives the server side of the handshake over one end of a
// net.Pipe, the same fake-connection harness
// karelbilek-dispatchd/server/server_test.go uses (testServerHelper,
// fromServerHelper/toServerHelper) adapted to a client under test instead
// of a server under test.
type fakeBroker struct {
	t    *testing.T
	conn net.Conn
}

func newFakeBroker(t *testing.T, conn net.Conn) *fakeBroker {
	return &fakeBroker{t: t, conn: conn}
}

func (b *fakeBroker) readProtocolHeader() {
	b.t.Helper()
	hdr, err := amqp.ReadProtocolHeader(b.conn)
	require.NoError(b.t, err)
	require.Equal(b.t, amqp.ProtocolHeader, hdr)
}

func (b *fakeBroker) writeMethod(channel uint16, m amqp.Method) {
	b.t.Helper()
	wf, err := amqp.EncodeFrame(channel, amqp.MethodFrame{Method: m})
	require.NoError(b.t, err)
	require.NoError(b.t, amqp.WriteFrame(b.conn, wf))
}

func (b *fakeBroker) readEnvelope() *amqp.FrameEnvelope {
	b.t.Helper()
	env, err := amqp.ReadEnvelope(b.conn)
	require.NoError(b.t, err)
	return env
}

func (b *fakeBroker) readMethod() (uint16, amqp.Method) {
	b.t.Helper()
	env := b.readEnvelope()
	mf, ok := env.Frame.(amqp.MethodFrame)
	require.True(b.t, ok, "expected a method frame, got %#v", env.Frame)
	return env.ChannelId, mf.Method
}

// runHandshake performs the broker side of spec.md §4.G/S1 and returns the
// connection once Open unblocks.
func runHandshake(t *testing.T, clientArgs ConnectionArgs) (*Connection, *fakeBroker, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	broker := newFakeBroker(t, serverConn)

	type openResult struct {
		conn *Connection
		err  error
	}
	done := make(chan openResult, 1)
	go func() {
		c, err := Open(clientConn, clientArgs)
		done <- openResult{c, err}
	}()

	broker.readProtocolHeader()
	broker.writeMethod(0, amqp.ConnectionStart{
		VersionMajor: 0, VersionMinor: 9,
		ServerProperties: amqp.NewTable(),
		Mechanisms:       "PLAIN",
		Locales:          "en_US",
	})
	_, startOk := broker.readMethod()
	require.IsType(t, amqp.ConnectionStartOk{}, startOk)

	broker.writeMethod(0, amqp.ConnectionTune{ChannelMax: 2047, FrameMax: 131072, Heartbeat: 60})
	_, tuneOk := broker.readMethod()
	require.IsType(t, amqp.ConnectionTuneOk{}, tuneOk)

	_, open := broker.readMethod()
	openMethod, ok := open.(amqp.ConnectionOpen)
	require.True(t, ok)
	require.Equal(t, clientArgs.Address.VHost, openMethod.VHost)

	broker.writeMethod(0, amqp.ConnectionOpenOk{})

	select {
	case res := <-done:
		require.NoError(t, res.err)
		return res.conn, broker, clientConn
	case <-time.After(2 * time.Second):
		t.Fatal("Open() did not return after handshake completed")
		return nil, nil, nil
	}
}

func TestHandshakeSucceeds(t *testing.T) {
	args := DefaultConnectionArgs()
	args.Address.VHost = "/"
	conn, _, clientConn := runHandshake(t, args)
	defer clientConn.Close()
	require.NotNil(t, conn)
	require.Equal(t, uint16(2047), conn.args.MaxChannels)
	require.Equal(t, uint32(131072), conn.args.MaxFrameSize)
	require.Equal(t, uint16(60), conn.args.HeartbeatInterval)
}

func TestCreateChannelOpensExactlyOneChannel(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	result := make(chan *Channel, 1)
	errc := make(chan error, 1)
	go func() {
		ch, err := conn.CreateChannel()
		result <- ch
		errc <- err
	}()

	channelId, method := broker.readMethod()
	require.Equal(t, uint16(1), channelId)
	require.IsType(t, amqp.ChannelOpen{}, method)
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})

	require.NoError(t, <-errc)
	ch := <-result
	require.Equal(t, uint16(1), ch.ID())
}

func TestQueueDeclareRoundTrip(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	chResult := make(chan *Channel, 1)
	go func() {
		ch, err := conn.CreateChannel()
		require.NoError(t, err)
		chResult <- ch
	}()
	channelId, _ := broker.readMethod()
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})
	ch := <-chResult

	declResult := make(chan amqp.QueueDeclareOk, 1)
	go func() {
		ok, err := ch.DeclareQueue("q", false, false, true, amqp.NewTable())
		require.NoError(t, err)
		declResult <- ok
	}()

	_, method := broker.readMethod()
	decl, ok := method.(amqp.QueueDeclare)
	require.True(t, ok)
	require.Equal(t, "q", decl.Queue)
	broker.writeMethod(channelId, amqp.QueueDeclareOk{Queue: "q", MessageCount: 0, ConsumerCount: 0})

	got := <-declResult
	require.Equal(t, "q", got.Queue)
	require.Equal(t, uint32(0), got.MessageCount)
}

func TestConsumeDeliversAssembledContent(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	chResult := make(chan *Channel, 1)
	go func() {
		ch, err := conn.CreateChannel()
		require.NoError(t, err)
		chResult <- ch
	}()
	channelId, _ := broker.readMethod()
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})
	ch := <-chResult

	consumeResult := make(chan string, 1)
	deliveries := make(chan (<-chan Delivery), 1)
	go func() {
		tag, d, err := ch.Consume("q", "", false, false, amqp.NewTable())
		require.NoError(t, err)
		consumeResult <- tag
		deliveries <- d
	}()

	_, method := broker.readMethod()
	consume, ok := method.(amqp.BasicConsume)
	require.True(t, ok)
	require.Equal(t, "q", consume.Queue)
	broker.writeMethod(channelId, amqp.BasicConsumeOk{ConsumerTag: consume.ConsumerTag})

	tag := <-consumeResult
	d := <-deliveries
	require.Equal(t, consume.ConsumerTag, tag)

	// Drive S4: Basic.Deliver, Content-Header(body_size=13), Content-Body.
	broker.writeMethod(channelId, amqp.BasicDeliver{
		ConsumerTag: tag, DeliveryTag: 7, Exchange: "", RoutingKey: "q",
	})
	ct := "text/plain"
	hdrWf, err := amqp.EncodeFrame(channelId, amqp.ContentHeaderFrame{
		ClassId: amqp.ClassBasic, BodySize: 13, Properties: amqp.BasicProperties{ContentType: &ct},
	})
	require.NoError(t, err)
	require.NoError(t, amqp.WriteFrame(broker.conn, hdrWf))

	bodyWf, err := amqp.EncodeFrame(channelId, amqp.ContentBodyFrame{Payload: []byte("hello, world!")})
	require.NoError(t, err)
	require.NoError(t, amqp.WriteFrame(broker.conn, bodyWf))

	select {
	case delivery := <-d:
		require.Equal(t, []byte("hello, world!"), delivery.Body)
		deliver, ok := delivery.Method.(amqp.BasicDeliver)
		require.True(t, ok)
		require.Equal(t, uint64(7), deliver.DeliveryTag)
	case <-time.After(2 * time.Second):
		t.Fatal("delivery not received")
	}
}

func TestGetReturnsDeliveryOnGetOk(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	chResult := make(chan *Channel, 1)
	go func() {
		ch, err := conn.CreateChannel()
		require.NoError(t, err)
		chResult <- ch
	}()
	channelId, _ := broker.readMethod()
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})
	ch := <-chResult

	type getResult struct {
		d   Delivery
		ok  bool
		err error
	}
	result := make(chan getResult, 1)
	go func() {
		d, ok, err := ch.Get("q", false)
		result <- getResult{d, ok, err}
	}()

	_, method := broker.readMethod()
	get, ok := method.(amqp.BasicGet)
	require.True(t, ok)
	require.Equal(t, "q", get.Queue)

	broker.writeMethod(channelId, amqp.BasicGetOk{DeliveryTag: 3, Exchange: "", RoutingKey: "q", MessageCount: 0})
	ct := "text/plain"
	hdrWf, err := amqp.EncodeFrame(channelId, amqp.ContentHeaderFrame{
		ClassId: amqp.ClassBasic, BodySize: 5, Properties: amqp.BasicProperties{ContentType: &ct},
	})
	require.NoError(t, err)
	require.NoError(t, amqp.WriteFrame(broker.conn, hdrWf))
	bodyWf, err := amqp.EncodeFrame(channelId, amqp.ContentBodyFrame{Payload: []byte("hello")})
	require.NoError(t, err)
	require.NoError(t, amqp.WriteFrame(broker.conn, bodyWf))

	select {
	case res := <-result:
		require.NoError(t, res.err)
		require.True(t, res.ok)
		require.Equal(t, []byte("hello"), res.d.Body)
		getOk, ok := res.d.Method.(amqp.BasicGetOk)
		require.True(t, ok)
		require.Equal(t, uint64(3), getOk.DeliveryTag)
	case <-time.After(2 * time.Second):
		t.Fatal("Get() did not return after GetOk and its content were written")
	}
}

func TestGetReturnsFalseOnGetEmpty(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	chResult := make(chan *Channel, 1)
	go func() {
		ch, err := conn.CreateChannel()
		require.NoError(t, err)
		chResult <- ch
	}()
	channelId, _ := broker.readMethod()
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})
	ch := <-chResult

	type getResult struct {
		d   Delivery
		ok  bool
		err error
	}
	result := make(chan getResult, 1)
	go func() {
		d, ok, err := ch.Get("q", false)
		result <- getResult{d, ok, err}
	}()

	broker.readMethod()
	broker.writeMethod(channelId, amqp.BasicGetEmpty{})

	select {
	case res := <-result:
		require.NoError(t, res.err)
		require.False(t, res.ok)
	case <-time.After(2 * time.Second):
		t.Fatal("Get() did not return after GetEmpty")
	}
}

func TestClientCloseSendsReplyCode200AndAwaitsCloseOk(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	closeErr := make(chan error, 1)
	go func() { closeErr <- conn.Close() }()

	_, method := broker.readMethod()
	closeMethod, ok := method.(amqp.ConnectionClose)
	require.True(t, ok)
	require.Equal(t, uint16(200), closeMethod.ReplyCode)

	broker.writeMethod(0, amqp.ConnectionCloseOk{})

	select {
	case err := <-closeErr:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
}

// waitForErr polls conn.Err() until it is non-nil or the test deadline
// passes, since the reader loop transitions the connection to closed
// asynchronously.
func waitForErr(t *testing.T, conn *Connection) error {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if err := conn.Err(); err != nil {
			return err
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("connection did not close within deadline")
	return nil
}

// TestHeartbeatEmission drives S5's emission half: with a 1s negotiated
// heartbeat_interval and no other outbound traffic, the writer loop must
// put a Heartbeat frame on the wire well within one interval.
func TestHeartbeatEmission(t *testing.T) {
	args := DefaultConnectionArgs()
	args.HeartbeatInterval = 1
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()
	defer conn.closeWithError(&ConnectionClosedError{})

	require.Equal(t, uint16(1), conn.args.HeartbeatInterval)

	type frameResult struct {
		wf  *amqp.WireFrame
		err error
	}
	got := make(chan frameResult, 1)
	go func() {
		wf, err := amqp.ReadFrame(broker.conn)
		got <- frameResult{wf, err}
	}()

	select {
	case res := <-got:
		require.NoError(t, res.err)
		require.Equal(t, amqp.FrameTypeHeartbeat, res.wf.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no heartbeat frame observed within 2x the negotiated interval")
	}
}

// TestHeartbeatLivenessLostClosesConnection drives S5's liveness half:
// a broker that sends nothing for more than 2x heartbeat_interval causes
// the connection to close with LivenessLostError.
func TestHeartbeatLivenessLostClosesConnection(t *testing.T) {
	args := DefaultConnectionArgs()
	args.HeartbeatInterval = 1
	conn, _, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	err := waitForErr(t, conn)
	var livenessLost *LivenessLostError
	require.True(t, errors.As(err, &livenessLost), "expected LivenessLostError, got %v (%T)", err, err)
}

// TestServerInitiatedCloseSetsServerCloseError drives the
// Connection.Close side of §7's ServerClose row: the client answers with
// Close-Ok and the connection's terminal error is ServerCloseError.
func TestServerInitiatedCloseSetsServerCloseError(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	broker.writeMethod(0, amqp.ConnectionClose{ReplyCode: 320, ReplyText: "CONNECTION_FORCED", ClassId: 0, MethodId: 0})

	_, method := broker.readMethod()
	_, ok := method.(amqp.ConnectionCloseOk)
	require.True(t, ok, "expected Connection.Close-Ok in reply to broker-initiated close, got %#v", method)

	err := waitForErr(t, conn)
	var serverClose *ServerCloseError
	require.True(t, errors.As(err, &serverClose), "expected ServerCloseError, got %v (%T)", err, err)
	require.Equal(t, uint16(320), serverClose.Code)
	require.Equal(t, "CONNECTION_FORCED", serverClose.Text)
}

// TestUnexpectedReplyClosesConnection covers the reader's UnexpectedReplyError
// path: a sync-reply method arriving on a channel with no responder
// installed is a misbehaving peer and is fatal for the connection.
func TestUnexpectedReplyClosesConnection(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	chResult := make(chan *Channel, 1)
	go func() {
		ch, err := conn.CreateChannel()
		require.NoError(t, err)
		chResult <- ch
	}()
	channelId, _ := broker.readMethod()
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})
	<-chResult

	// No responder is installed on this channel anymore: Channel.Open-Ok
	// was already consumed by CreateChannel.
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})

	err := waitForErr(t, conn)
	var unexpected *UnexpectedReplyError
	require.True(t, errors.As(err, &unexpected), "expected UnexpectedReplyError, got %v (%T)", err, err)
	require.Equal(t, channelId, unexpected.ChannelId)
}

// TestChannelBusyRejectsConcurrentSyncCall covers spec.md §4.H: a second
// synchronous call on a channel already awaiting a reply fails fast with
// ChannelBusyError instead of interleaving with the first.
func TestChannelBusyRejectsConcurrentSyncCall(t *testing.T) {
	args := DefaultConnectionArgs()
	conn, broker, clientConn := runHandshake(t, args)
	defer clientConn.Close()

	chResult := make(chan *Channel, 1)
	go func() {
		ch, err := conn.CreateChannel()
		require.NoError(t, err)
		chResult <- ch
	}()
	channelId, _ := broker.readMethod()
	broker.writeMethod(channelId, amqp.ChannelOpenOk{})
	ch := <-chResult

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = ch.InvokeSyncMethod(amqp.QueueDeclare{Queue: "q"})
	}()

	// Give the first call time to register its responder before the
	// broker has replied, so the second call observes it outstanding.
	_, firstMethod := broker.readMethod()
	require.IsType(t, amqp.QueueDeclare{}, firstMethod)

	_, err := ch.InvokeSyncMethod(amqp.QueueDeclare{Queue: "q2"})
	require.Error(t, err)
	var busy *ChannelBusyError
	require.True(t, errors.As(err, &busy), "expected ChannelBusyError, got %v (%T)", err, err)
	require.Equal(t, ch.ID(), busy.ChannelId)

	broker.writeMethod(channelId, amqp.QueueDeclareOk{Queue: "q"})
	<-firstDone
}
