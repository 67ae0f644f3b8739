package mqttv3

import (
	"time"

	"golang.org/x/time/rate"
)

// Packet size limits for WithMaxPacketSize.
const (
	MaxPacketSizeDefault uint32 = 4 << 20
	MaxPacketSizeMinimal uint32 = 16 << 10

	// MaxPacketSizeProtocol is the largest remaining length MQTT 3.1.1 can
	// express.
	MaxPacketSizeProtocol uint32 = MaxRemainingLength
)

// BackoffStrategy picks the wait before reconnect attempt number attempt
// (starting at 1), given the previous wait and the error that ended the
// last attempt.
type BackoffStrategy func(attempt int, currentBackoff time.Duration, err error) time.Duration

type clientOptions struct {
	clientID     string
	username     string
	password     []byte
	cleanSession bool
	will         *Will

	connectTimeout time.Duration
	writeTimeout   time.Duration

	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	maxPacketSize  uint32
	maxInflight    uint16
	readBufferSize int
	publishLimit   rate.Limit
	publishBurst   int

	dialer       Dialer
	proxy        *ProxyConfig
	proxyFromEnv bool

	producerInterceptors []ProducerInterceptor
	consumerInterceptors []ConsumerInterceptor

	logger  Logger
	metrics Metrics
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		cleanSession:     true,
		connectTimeout:   10 * time.Second,
		writeTimeout:     5 * time.Second,
		maxReconnects:    10,
		reconnectBackoff: 1 * time.Second,
		maxBackoff:       60 * time.Second,
		maxPacketSize:    MaxPacketSizeDefault,
		readBufferSize:   4096,
		publishLimit:     rate.Inf,
		logger:           NewNoOpLogger(),
		metrics:          &NoOpMetrics{},
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithClientID fixes the client identifier. Without it, or with "", the
// client generates one.
func WithClientID(id string) Option {
	return func(o *clientOptions) { o.clientID = id }
}

// WithCredentials authenticates with a username and password. The password
// is dropped when username is empty.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithUsername authenticates with a username only.
func WithUsername(username string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = nil
	}
}

// WithCleanSession controls whether the broker discards earlier session
// state. Defaults to true.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) { o.cleanSession = clean }
}

// WithWill registers the last will the broker publishes when the client
// vanishes without a DISCONNECT.
func WithWill(topic string, payload []byte, qos QoS, retain bool) Option {
	return func(o *clientOptions) {
		o.will = &Will{
			Topic:   topic,
			Message: payload,
			QoS:     qos,
			Retain:  retain,
		}
	}
}

// WithConnectTimeout bounds dialing and writing CONNECT.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.connectTimeout = d }
}

// WithWriteTimeout bounds each packet write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.writeTimeout = d }
}

// WithMaxReconnects bounds reconnect attempts after the connection is lost.
// -1 retries forever and 0 never reconnects.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) { o.maxReconnects = n }
}

// WithReconnectBackoff is the wait before the first reconnect attempt.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) { o.reconnectBackoff = d }
}

// WithMaxBackoff caps the wait between reconnect attempts.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) { o.maxBackoff = d }
}

// WithBackoffStrategy replaces the default doubling backoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) { o.backoffStrategy = strategy }
}

// WithMaxPacketSize limits the remaining length of packets in both
// directions. Sizes above MaxPacketSizeProtocol are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		if size > MaxPacketSizeProtocol {
			size = MaxPacketSizeProtocol
		}
		o.maxPacketSize = size
	}
}

// WithMaxInflight caps the number of QoS 1 and 2 publishes awaiting their
// final acknowledgment. Zero means no cap beyond the packet identifier space.
func WithMaxInflight(n uint16) Option {
	return func(o *clientOptions) { o.maxInflight = n }
}

// WithReadBufferSize sets how much is read from the transport per call.
func WithReadBufferSize(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.readBufferSize = n
		}
	}
}

// WithPublishRateLimit allows r publishes per second with bursts of burst.
// Publishers block for a token; PublishMessage stops waiting when its
// context ends.
func WithPublishRateLimit(r float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishLimit = rate.Limit(r)
		if burst < 1 {
			burst = 1
		}
		o.publishBurst = burst
	}
}

// WithDialer overrides the dialer chosen from the address scheme.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) { o.dialer = d }
}

// WithProxy tunnels tcp:// and ws:// connections through a proxy.
func WithProxy(config ProxyConfig) Option {
	return func(o *clientOptions) { o.proxy = &config }
}

// WithProxyFromEnvironment honours HTTP_PROXY and NO_PROXY.
func WithProxyFromEnvironment(enabled bool) Option {
	return func(o *clientOptions) { o.proxyFromEnv = enabled }
}

// WithProducerInterceptors appends interceptors run, in order, on every
// outbound message.
func WithProducerInterceptors(interceptors ...ProducerInterceptor) Option {
	return func(o *clientOptions) { o.producerInterceptors = append(o.producerInterceptors, interceptors...) }
}

// WithConsumerInterceptors appends interceptors run, in order, before a
// message reaches Handler.OnMessage.
func WithConsumerInterceptors(interceptors ...ConsumerInterceptor) Option {
	return func(o *clientOptions) { o.consumerInterceptors = append(o.consumerInterceptors, interceptors...) }
}

// WithLogger sets the logger. Handler.OnLog still sees every line.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics records client activity on m.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		if m != nil {
			o.metrics = m
		}
	}
}

func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
