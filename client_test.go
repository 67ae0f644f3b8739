package mqttv3

import (
	"context"
	"fmt"
	"net"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// mockBroker accepts connections and lets a test script the broker side.
type mockBroker struct {
	listener net.Listener
	conns    chan net.Conn

	mu       sync.Mutex
	accepted []net.Conn
}

func newMockBroker(t *testing.T) *mockBroker {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	b := &mockBroker{listener: listener, conns: make(chan net.Conn, 8)}
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			b.mu.Lock()
			b.accepted = append(b.accepted, conn)
			b.mu.Unlock()
			b.conns <- conn
		}
	}()

	t.Cleanup(b.close)
	return b
}

func (b *mockBroker) port() int {
	return b.listener.Addr().(*net.TCPAddr).Port
}

func (b *mockBroker) close() {
	b.listener.Close()
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, conn := range b.accepted {
		conn.Close()
	}
}

// accept waits for the next client connection and reads its CONNECT.
func (b *mockBroker) accept(t *testing.T) (*brokerConn, *ConnectPacket) {
	t.Helper()

	select {
	case conn := <-b.conns:
		bc := &brokerConn{Conn: conn}
		pkt := bc.read(t)
		connect, ok := pkt.(*ConnectPacket)
		require.True(t, ok, "first packet is %T", pkt)
		return bc, connect
	case <-time.After(testTimeout):
		t.Fatal("no connection accepted")
		return nil, nil
	}
}

type brokerConn struct {
	net.Conn
}

func (c *brokerConn) read(t *testing.T) Packet {
	t.Helper()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(testTimeout)))
	for {
		pkt, _, err := ReadPacket(c, ClientToServer, 0)
		require.NoError(t, err)
		if pkt != nil {
			return pkt
		}
	}
}

func (c *brokerConn) send(t *testing.T, pkt Packet) {
	t.Helper()
	_, err := WritePacket(c, pkt, 0)
	require.NoError(t, err)
}

func (c *brokerConn) sendRaw(t *testing.T, data []byte) {
	t.Helper()
	_, err := c.Write(data)
	require.NoError(t, err)
}

// recorder is a Handler that forwards every event to a channel.
type recorder struct {
	connects     chan ConnectReturnCode
	publishes    chan uint16
	subscribes   chan uint16
	unsubscribes chan uint16
	disconnects  chan int
	messages     chan *PublishPacket
	logs         chan string
}

func newRecorder() *recorder {
	return &recorder{
		connects:     make(chan ConnectReturnCode, 16),
		publishes:    make(chan uint16, 16),
		subscribes:   make(chan uint16, 16),
		unsubscribes: make(chan uint16, 16),
		disconnects:  make(chan int, 16),
		messages:     make(chan *PublishPacket, 16),
		logs:         make(chan string, 256),
	}
}

func (r *recorder) OnConnect(code ConnectReturnCode) { r.connects <- code }
func (r *recorder) OnPublish(id uint16)              { r.publishes <- id }
func (r *recorder) OnSubscribe(id uint16)            { r.subscribes <- id }
func (r *recorder) OnUnsubscribe(id uint16)          { r.unsubscribes <- id }
func (r *recorder) OnDisconnect(code int)            { r.disconnects <- code }
func (r *recorder) OnMessage(p *PublishPacket)       { r.messages <- p }

func (r *recorder) OnLog(_ LogLevel, text string) {
	select {
	case r.logs <- text:
	default:
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		var zero T
		t.Fatalf("timed out waiting for %T", zero)
		return zero
	}
}

func assertNoEvent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected event %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

// startClient connects to the broker, accepts the connection and starts Run.
func startClient(t *testing.T, b *mockBroker, h Handler, opts ...Option) (*Client, *brokerConn, <-chan error) {
	t.Helper()

	opts = append([]Option{WithReconnectBackoff(10 * time.Millisecond)}, opts...)
	c, err := Connect(context.Background(), "127.0.0.1", b.port(), opts...)
	require.NoError(t, err)

	bc, _ := b.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, h) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(testTimeout):
		}
	})

	return c, bc, done
}

func TestConnectSendsConnect(t *testing.T) {
	b := newMockBroker(t)

	c, err := Connect(context.Background(), "127.0.0.1", b.port(),
		WithClientID("sensor-1"),
		WithCredentials("user", "secret"),
		WithCleanSession(false),
		WithWill("status/sensor-1", []byte("offline"), QoS1, true),
	)
	require.NoError(t, err)
	defer c.closeConn(nil)

	_, connect := b.accept(t)
	assert.Equal(t, "sensor-1", connect.ClientID)
	assert.False(t, connect.CleanSession)
	assert.Equal(t, "user", connect.Username)
	assert.Equal(t, []byte("secret"), connect.Password)
	assert.Zero(t, connect.KeepAlive)
	require.NotNil(t, connect.Will)
	assert.Equal(t, "status/sensor-1", connect.Will.Topic)
	assert.Equal(t, []byte("offline"), connect.Will.Message)
	assert.Equal(t, QoS1, connect.Will.QoS)
	assert.True(t, connect.Will.Retain)

	assert.True(t, c.IsConnected())
	assert.Equal(t, "sensor-1", c.ClientID())
	assert.Equal(t, "user", c.Server().Username)
}

func TestConnectGeneratesClientID(t *testing.T) {
	b := newMockBroker(t)

	c, err := Connect(context.Background(), "127.0.0.1", b.port())
	require.NoError(t, err)
	defer c.closeConn(nil)

	_, connect := b.accept(t)
	assert.Len(t, connect.ClientID, 22)
	assert.True(t, strings.HasPrefix(connect.ClientID, "mqttv3"))
	assert.Equal(t, c.ClientID(), connect.ClientID)
	assert.True(t, connect.CleanSession)
	assert.Empty(t, connect.Username)
	assert.Nil(t, connect.Password)
}

func TestDialURICredentials(t *testing.T) {
	b := newMockBroker(t)

	c, err := Dial(context.Background(), fmt.Sprintf("tcp://alice:pw@127.0.0.1:%d", b.port()))
	require.NoError(t, err)
	defer c.closeConn(nil)

	_, connect := b.accept(t)
	assert.Equal(t, "alice", connect.Username)
	assert.Equal(t, []byte("pw"), connect.Password)
}

func TestConnectFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	_, err = Connect(context.Background(), "127.0.0.1", port, WithConnectTimeout(time.Second))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnection)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, connErr.Addr, "127.0.0.1")
}

func TestConnectInvalidWill(t *testing.T) {
	_, err := Connect(context.Background(), "127.0.0.1", 1, WithWill("a/+", nil, QoS0, false))
	assert.ErrorIs(t, err, ErrInvalidTopicName)
}

func TestRunConnack(t *testing.T) {
	tests := []struct {
		name string
		code ConnectReturnCode
	}{
		{"accepted", ConnectAccepted},
		{"not authorized", ConnectRefusedNotAuthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBroker(t)
			h := newRecorder()
			_, bc, _ := startClient(t, b, h)

			bc.send(t, &ConnackPacket{ReturnCode: tt.code})
			assert.Equal(t, tt.code, receive(t, h.connects))
		})
	}
}

func TestRunAlreadyRunning(t *testing.T) {
	b := newMockBroker(t)
	c, _, _ := startClient(t, b, NopHandler{})

	require.Eventually(t, c.running.Load, testTimeout, time.Millisecond)
	assert.ErrorIs(t, c.Run(context.Background(), NopHandler{}), ErrAlreadyRunning)
}

func TestPublishQoS0(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	id, err := c.Publish("a/b", []byte("hello"), QoS0, true)
	require.NoError(t, err)
	assert.Zero(t, id)

	pkt := bc.read(t).(*PublishPacket)
	assert.Equal(t, "a/b", pkt.Topic)
	assert.Equal(t, []byte("hello"), pkt.Payload)
	assert.True(t, pkt.Retain)
	assert.Zero(t, pkt.PacketID)
	assert.Zero(t, c.packetIDs.InUse())
}

func TestPublishQoS1Correlation(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	first, err := c.Publish("a", []byte("1"), QoS1, false)
	require.NoError(t, err)
	second, err := c.Publish("a", []byte("2"), QoS1, false)
	require.NoError(t, err)
	assert.NotZero(t, first)
	assert.NotEqual(t, first, second)

	assert.Equal(t, first, bc.read(t).(*PublishPacket).PacketID)
	assert.Equal(t, second, bc.read(t).(*PublishPacket).PacketID)

	bc.send(t, &PubackPacket{PacketID: second})
	bc.send(t, &PubackPacket{PacketID: first})

	assert.Equal(t, second, receive(t, h.publishes))
	assert.Equal(t, first, receive(t, h.publishes))
	assert.False(t, c.packetIDs.IsUsed(first))
	assert.False(t, c.packetIDs.IsUsed(second))
	assert.Zero(t, c.inflight.InFlight())
}

func TestPublishQoS2Flow(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	id, err := c.Publish("a", []byte("x"), QoS2, false)
	require.NoError(t, err)
	require.Equal(t, id, bc.read(t).(*PublishPacket).PacketID)

	bc.send(t, &PubrecPacket{PacketID: id})
	assert.Equal(t, &PubrelPacket{PacketID: id}, bc.read(t))
	assert.Equal(t, id, receive(t, h.publishes))
	assert.True(t, c.packetIDs.IsUsed(id))

	bc.send(t, &PubcompPacket{PacketID: id})
	assert.Equal(t, id, receive(t, h.publishes))
	assert.False(t, c.packetIDs.IsUsed(id))
}

func TestPublishRefusals(t *testing.T) {
	b := newMockBroker(t)
	c, _, _ := startClient(t, b, NopHandler{})

	tests := []struct {
		name  string
		topic string
		qos   QoS
		want  error
	}{
		{"wildcard topic", "a/+", QoS0, ErrInvalidTopicName},
		{"empty topic", "", QoS0, ErrEmptyTopic},
		{"invalid qos", "a", QoS(3), ErrInvalidQoS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Publish(tt.topic, nil, tt.qos, false)
			assert.ErrorIs(t, err, ErrPublication)
			assert.ErrorIs(t, err, tt.want)

			var pubErr *PublicationError
			require.ErrorAs(t, err, &pubErr)
			assert.Equal(t, tt.topic, pubErr.Topic)
		})
	}
}

func TestPublishNotConnected(t *testing.T) {
	b := newMockBroker(t)
	c, err := Connect(context.Background(), "127.0.0.1", b.port())
	require.NoError(t, err)
	c.closeConn(nil)

	_, err = c.Publish("a", nil, QoS1, false)
	assert.ErrorIs(t, err, ErrRequest)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Zero(t, c.packetIDs.InUse())
	assert.Zero(t, c.inflight.InFlight())
}

func TestPublishInflightLimit(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h, WithMaxInflight(1))

	id, err := c.Publish("a", nil, QoS1, false)
	require.NoError(t, err)

	_, err = c.Publish("a", nil, QoS1, false)
	assert.ErrorIs(t, err, ErrPublication)
	assert.ErrorIs(t, err, ErrInflightExceeded)

	_, err = c.Publish("a", nil, QoS0, false)
	assert.NoError(t, err)

	bc.read(t)
	bc.send(t, &PubackPacket{PacketID: id})
	receive(t, h.publishes)

	_, err = c.Publish("a", nil, QoS1, false)
	assert.NoError(t, err)
}

func TestPublishRateLimit(t *testing.T) {
	b := newMockBroker(t)
	c, _, _ := startClient(t, b, NopHandler{}, WithPublishRateLimit(1, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := c.PublishMessage(ctx, &Message{Topic: "a"})
	require.NoError(t, err)

	_, err = c.PublishMessage(ctx, &Message{Topic: "a"})
	assert.ErrorIs(t, err, ErrPublication)
}

func TestInboundQoS0(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, _ := startClient(t, b, h)

	bc.send(t, &PublishPacket{Topic: "x/y", Payload: []byte("v")})

	msg := receive(t, h.messages)
	assert.Equal(t, "x/y", msg.Topic)
	assert.Equal(t, []byte("v"), msg.Payload)
	assert.Equal(t, QoS0, msg.QoS)
}

func TestInboundQoS1Acknowledged(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, _ := startClient(t, b, h)

	bc.send(t, &PublishPacket{Topic: "x", Payload: []byte("v"), QoS: QoS1, PacketID: 7})

	msg := receive(t, h.messages)
	assert.Equal(t, uint16(7), msg.PacketID)
	assert.Equal(t, &PubackPacket{PacketID: 7}, bc.read(t))
}

func TestInboundQoS2Acknowledged(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, _ := startClient(t, b, h)

	bc.send(t, &PublishPacket{Topic: "x", QoS: QoS2, PacketID: 8})
	receive(t, h.messages)
	assert.Equal(t, &PubrecPacket{PacketID: 8}, bc.read(t))

	bc.send(t, &PubrelPacket{PacketID: 8})
	assert.Equal(t, &PubcompPacket{PacketID: 8}, bc.read(t))
	assert.Equal(t, uint16(8), receive(t, h.publishes))
}

func TestInboundSplitAcrossReads(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, _ := startClient(t, b, h, WithReadBufferSize(3))

	data, err := EncodePacket(&PublishPacket{Topic: "split/topic", Payload: []byte("0123456789")})
	require.NoError(t, err)
	for _, c := range data {
		bc.sendRaw(t, []byte{c})
	}

	msg := receive(t, h.messages)
	assert.Equal(t, "split/topic", msg.Topic)
	assert.Equal(t, []byte("0123456789"), msg.Payload)
}

func TestConsumerInterceptorDropStillAcknowledges(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	drop := ConsumerInterceptorFunc(func(msg *Message) *Message {
		if msg.Topic == "drop" {
			return nil
		}
		return msg
	})
	_, bc, _ := startClient(t, b, h, WithConsumerInterceptors(drop))

	bc.send(t, &PublishPacket{Topic: "drop", QoS: QoS1, PacketID: 3})
	assert.Equal(t, &PubackPacket{PacketID: 3}, bc.read(t))
	assertNoEvent(t, h.messages)

	bc.send(t, &PublishPacket{Topic: "keep"})
	assert.Equal(t, "keep", receive(t, h.messages).Topic)
}

func TestSubscribe(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	matcher, id, err := c.Subscribe("sensors/+/temp", QoS1)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.True(t, matcher.Matches("sensors/a/temp"))
	assert.False(t, matcher.Matches("sensors/a/humidity"))

	sub := bc.read(t).(*SubscribePacket)
	assert.Equal(t, id, sub.PacketID)
	assert.Equal(t, []Subscription{{TopicFilter: "sensors/+/temp", QoS: QoS1}}, sub.Subscriptions)

	bc.send(t, &SubackPacket{PacketID: id, ReturnCodes: []SubackReturnCode{SubackGrantedQoS1}})
	assert.Equal(t, id, receive(t, h.subscribes))
	assert.False(t, c.packetIDs.IsUsed(id))
}

func TestSubscribeRefusals(t *testing.T) {
	b := newMockBroker(t)
	c, _, _ := startClient(t, b, NopHandler{})

	_, _, err := c.Subscribe("a/#/b", QoS0)
	var matcherErr *InvalidTopicMatcherError
	assert.ErrorAs(t, err, &matcherErr)
	assert.ErrorIs(t, err, ErrInvalidTopicFilter)

	_, _, err = c.Subscribe("a", QoS(3))
	assert.ErrorIs(t, err, ErrInvalidQoS)

	assert.Zero(t, c.packetIDs.InUse())
}

func TestSubackFailureStillReported(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	_, id, err := c.Subscribe("secret/#", QoS0)
	require.NoError(t, err)
	bc.read(t)

	bc.send(t, &SubackPacket{PacketID: id, ReturnCodes: []SubackReturnCode{SubackFailure}})
	assert.Equal(t, id, receive(t, h.subscribes))
}

func TestUnsubscribe(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	id, err := c.Unsubscribe("sensors/#")
	require.NoError(t, err)

	unsub := bc.read(t).(*UnsubscribePacket)
	assert.Equal(t, id, unsub.PacketID)
	assert.Equal(t, []string{"sensors/#"}, unsub.TopicFilters)

	bc.send(t, &UnsubackPacket{PacketID: id})
	assert.Equal(t, id, receive(t, h.unsubscribes))

	_, err = c.Unsubscribe("")
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestUnsubscribeInvalidFilter(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	for _, filter := range []string{"a/#/b", "a/b+", "sport/#/"} {
		t.Run(filter, func(t *testing.T) {
			_, err := c.Unsubscribe(filter)

			var invalid *InvalidTopicMatcherError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, filter, invalid.Filter)
			assert.ErrorIs(t, err, ErrInvalidTopicFilter)
		})
	}

	// Nothing reached the wire: the next packet the broker sees is the PINGREQ.
	require.NoError(t, c.Ping())
	assert.IsType(t, &PingreqPacket{}, bc.read(t))
}

func TestPing(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h)

	require.NoError(t, c.Ping())
	assert.IsType(t, &PingreqPacket{}, bc.read(t))

	bc.send(t, &PingrespPacket{})
	assertNoEvent(t, h.publishes)
	assert.True(t, c.IsConnected())
}

func TestDisconnect(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, done := startClient(t, b, h)

	require.NoError(t, c.Disconnect())
	assert.IsType(t, &DisconnectPacket{}, bc.read(t))

	assert.NoError(t, receive(t, done))
	assert.Equal(t, DisconnectCodeNormal, receive(t, h.disconnects))
	assert.False(t, c.IsConnected())
}

func TestDisconnectBrokerClosesFirst(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, done := startClient(t, b, h)

	c.disconnecting.Store(true)
	bc.Close()

	assert.NoError(t, receive(t, done))
	assert.Equal(t, DisconnectCodeNormal, receive(t, h.disconnects))
}

func TestDisconnectWriteFailureRollsBack(t *testing.T) {
	b := newMockBroker(t)
	c, err := Connect(context.Background(), "127.0.0.1", b.port())
	require.NoError(t, err)
	c.closeConn(nil)

	err = c.Disconnect()
	assert.ErrorIs(t, err, ErrRequest)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.False(t, c.disconnecting.Load())
}

// sessionOptions gives a client every piece of identity a reconnect must resend.
func sessionOptions(clientID string) []Option {
	return []Option{
		WithClientID(clientID),
		WithCredentials("user", "secret"),
		WithWill("status/"+clientID, []byte("offline"), QoS1, true),
	}
}

func wantSessionConnect(clientID string, clean bool) *ConnectPacket {
	return &ConnectPacket{
		ClientID:     clientID,
		CleanSession: clean,
		Username:     "user",
		Password:     []byte("secret"),
		Will: &Will{
			Topic:   "status/" + clientID,
			Message: []byte("offline"),
			QoS:     QoS1,
			Retain:  true,
		},
	}
}

func TestRunReconnectsAfterBrokerClose(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, bc, _ := startClient(t, b, h, sessionOptions("keep-me")...)

	bc.Close()

	bc2, connect := b.accept(t)
	assert.Equal(t, wantSessionConnect("keep-me", true), connect)

	bc2.send(t, &ConnackPacket{})
	assert.Equal(t, ConnectAccepted, receive(t, h.connects))
	assertNoEvent(t, h.disconnects)

	_, err := c.Publish("after", nil, QoS0, false)
	require.NoError(t, err)
	assert.Equal(t, "after", bc2.read(t).(*PublishPacket).Topic)
}

func TestRunReconnectsAfterMalformedPacket(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, _ := startClient(t, b, h)

	// PUBACK with reserved flags set.
	bc.sendRaw(t, []byte{0x42, 0x02, 0x00, 0x01})

	bc2, _ := b.accept(t)
	bc2.send(t, &PublishPacket{Topic: "fresh"})
	assert.Equal(t, "fresh", receive(t, h.messages).Topic)
	assertNoEvent(t, h.publishes)
}

func TestRunReconnectExhausted(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	var attempts []int
	var mu sync.Mutex
	strategy := func(attempt int, current time.Duration, err error) time.Duration {
		mu.Lock()
		attempts = append(attempts, attempt)
		mu.Unlock()
		return time.Millisecond
	}
	_, _, done := startClient(t, b, h, WithMaxReconnects(3), WithBackoffStrategy(strategy))

	b.close()

	assert.ErrorIs(t, receive(t, done), ErrReconnectFailed)
	assert.Equal(t, DisconnectCodeReconnectFailed, receive(t, h.disconnects))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestRunNoReconnect(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, done := startClient(t, b, h, WithMaxReconnects(0))

	bc.Close()

	assert.ErrorIs(t, receive(t, done), ErrReconnectFailed)
	assert.Equal(t, DisconnectCodeReconnectFailed, receive(t, h.disconnects))
}

func TestRunContextCancel(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()

	c, err := Connect(context.Background(), "127.0.0.1", b.port())
	require.NoError(t, err)
	b.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, h) }()

	require.Eventually(t, c.running.Load, testTimeout, time.Millisecond)
	cancel()

	assert.ErrorIs(t, receive(t, done), context.Canceled)
	assert.False(t, c.IsConnected())
	assertNoEvent(t, h.disconnects)
}

func TestRunLogsToHandler(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	_, bc, _ := startClient(t, b, h, WithClientID("logger"))

	bc.Close()
	b.accept(t)

	for {
		line := receive(t, h.logs)
		if strings.HasPrefix(line, "connection lost") {
			assert.Contains(t, line, "client_id=logger")
			return
		}
	}
}

func TestReconnect(t *testing.T) {
	tests := []struct {
		name         string
		cleanSession bool
		wantKept     bool
	}{
		{"clean session releases identifiers", true, false},
		{"persistent session keeps identifiers", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newMockBroker(t)
			opts := append(sessionOptions("r1"), WithCleanSession(tt.cleanSession))
			c, err := Connect(context.Background(), "127.0.0.1", b.port(), opts...)
			require.NoError(t, err)
			defer c.closeConn(nil)
			_, first := b.accept(t)
			assert.Equal(t, wantSessionConnect("r1", tt.cleanSession), first)

			id, err := c.Publish("a", nil, QoS1, false)
			require.NoError(t, err)

			require.NoError(t, c.Reconnect(context.Background()))
			_, second := b.accept(t)
			require.NoError(t, c.Reconnect(context.Background()))
			_, third := b.accept(t)

			assert.Equal(t, first, second)
			assert.Equal(t, second, third)
			assert.Equal(t, tt.wantKept, c.packetIDs.IsUsed(id))
			assert.True(t, c.IsConnected())
		})
	}
}

func TestReconnectDuringRun(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()
	c, _, done := startClient(t, b, h, sessionOptions("manual")...)

	require.Eventually(t, c.running.Load, testTimeout, time.Millisecond)
	require.NoError(t, c.Reconnect(context.Background()))

	bc2, connect := b.accept(t)
	assert.Equal(t, wantSessionConnect("manual", true), connect)

	// Run moves to the new transport instead of treating the old one's
	// close as a lost connection.
	select {
	case conn := <-b.conns:
		conn.Close()
		t.Fatal("a second connection was opened")
	case <-time.After(300 * time.Millisecond):
	}

	bc2.send(t, &PublishPacket{Topic: "still/here"})
	assert.Equal(t, "still/here", receive(t, h.messages).Topic)
	assertNoEvent(t, done)
}

// loopLogs records whether OnLog ever runs outside the dispatch loop.
type loopLogs struct {
	*recorder
	outside atomic.Int32
}

func (h *loopLogs) OnLog(level LogLevel, text string) {
	if !strings.Contains(string(debug.Stack()), "(*Client).Run") {
		h.outside.Add(1)
	}
	h.recorder.OnLog(level, text)
}

func TestOnLogCalledFromRun(t *testing.T) {
	b := newMockBroker(t)
	h := &loopLogs{recorder: newRecorder()}
	c, bc, _ := startClient(t, b, h)

	require.Eventually(t, c.running.Load, testTimeout, time.Millisecond)

	_, err := c.Publish("from/caller", nil, QoS0, false)
	require.NoError(t, err)
	bc.read(t)

	for {
		if strings.HasPrefix(receive(t, h.logs), "publish sent") {
			break
		}
	}
	assert.Zero(t, h.outside.Load())
}

func TestRunCancelDuringReconnect(t *testing.T) {
	b := newMockBroker(t)
	h := newRecorder()

	dialing := make(chan struct{}, 1)
	release := make(chan struct{})
	var dials atomic.Int32
	dialer := DialerFunc(func(ctx context.Context, address string) (net.Conn, error) {
		if dials.Add(1) > 1 {
			dialing <- struct{}{}
			<-release
		}
		var d net.Dialer
		return d.DialContext(context.Background(), "tcp", address)
	})

	c, err := Connect(context.Background(), "127.0.0.1", b.port(), WithDialer(dialer))
	require.NoError(t, err)
	bc, _ := b.accept(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, h) }()

	bc.Close()
	receive(t, dialing)

	// The reconnect completes after the cancel and installs a transport.
	cancel()
	close(release)

	assert.ErrorIs(t, receive(t, done), context.Canceled)
	assert.False(t, c.IsConnected())
}

func TestReconnectClearsDisconnectIntent(t *testing.T) {
	b := newMockBroker(t)
	c, err := Connect(context.Background(), "127.0.0.1", b.port())
	require.NoError(t, err)
	defer c.closeConn(nil)
	b.accept(t)

	c.disconnecting.Store(true)
	require.NoError(t, c.Reconnect(context.Background()))
	assert.False(t, c.disconnecting.Load())
}

func TestReconnectFailure(t *testing.T) {
	b := newMockBroker(t)
	c, err := Connect(context.Background(), "127.0.0.1", b.port())
	require.NoError(t, err)
	b.accept(t)

	b.close()
	err = c.Reconnect(context.Background())
	assert.ErrorIs(t, err, ErrConnection)
}

func TestNextBackoff(t *testing.T) {
	c, err := newClient(ServerConnection{Scheme: "tcp", Host: "localhost", Port: 1883},
		WithMaxBackoff(5*time.Second))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, c.nextBackoff(1, time.Second, nil))
	assert.Equal(t, 5*time.Second, c.nextBackoff(3, 4*time.Second, nil))

	c.options.backoffStrategy = func(int, time.Duration, error) time.Duration { return time.Hour }
	assert.Equal(t, 5*time.Second, c.nextBackoff(1, time.Second, nil))
}

func TestClientConcurrentPublish(t *testing.T) {
	b := newMockBroker(t)
	c, bc, _ := startClient(t, b, NopHandler{})

	const workers, each = 8, 25

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range each {
				_, err := c.Publish("load", []byte("x"), QoS1, false)
				assert.NoError(t, err)
			}
		}()
	}

	seen := make(map[uint16]bool)
	for range workers * each {
		pkt := bc.read(t).(*PublishPacket)
		assert.False(t, seen[pkt.PacketID], "duplicate id %d", pkt.PacketID)
		seen[pkt.PacketID] = true
	}
	wg.Wait()
}
