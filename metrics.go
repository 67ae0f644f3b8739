package mqttv3

import (
	"strconv"
	"time"
)

// MetricType tells counters, gauges and histograms apart.
type MetricType int

const (
	MetricTypeCounter MetricType = iota
	MetricTypeGauge
	MetricTypeHistogram
)

func (t MetricType) String() string {
	switch t {
	case MetricTypeCounter:
		return "counter"
	case MetricTypeGauge:
		return "gauge"
	case MetricTypeHistogram:
		return "histogram"
	}
	return "unknown"
}

// MetricLabels are the label pairs that, with the name, identify a series.
type MetricLabels map[string]string

// Metrics hands out instruments. Asking twice for the same name and labels
// must return the same series. Implementations adapt the client to a metrics
// backend; MemoryMetrics is the built-in one.
type Metrics interface {
	Counter(name string, labels MetricLabels) Counter
	Gauge(name string, labels MetricLabels) Gauge
	Histogram(name string, labels MetricLabels) Histogram
}

// Counter only goes up.
type Counter interface {
	Inc()
	Add(delta float64)
	Value() float64
}

// Gauge holds a value that can move in both directions.
type Gauge interface {
	Set(value float64)
	Inc()
	Dec()
	Add(delta float64)
	Sub(delta float64)
	Value() float64
}

// Histogram accumulates observations. Durations are recorded in seconds.
type Histogram interface {
	Observe(value float64)
	ObserveDuration(d time.Duration)
	Count() uint64
	Sum() float64
}

// NoOpMetrics discards every measurement.
type NoOpMetrics struct{}

func (*NoOpMetrics) Counter(string, MetricLabels) Counter     { return noOpInstrument{} }
func (*NoOpMetrics) Gauge(string, MetricLabels) Gauge         { return noOpInstrument{} }
func (*NoOpMetrics) Histogram(string, MetricLabels) Histogram { return noOpInstrument{} }

// noOpInstrument satisfies Counter, Gauge and Histogram at once.
type noOpInstrument struct{}

func (noOpInstrument) Inc()                          {}
func (noOpInstrument) Dec()                          {}
func (noOpInstrument) Set(float64)                   {}
func (noOpInstrument) Add(float64)                   {}
func (noOpInstrument) Sub(float64)                   {}
func (noOpInstrument) Value() float64                { return 0 }
func (noOpInstrument) Observe(float64)               {}
func (noOpInstrument) ObserveDuration(time.Duration) {}
func (noOpInstrument) Count() uint64                 { return 0 }
func (noOpInstrument) Sum() float64                  { return 0 }

// Series recorded by the client.
const (
	MetricConnections       = "mqtt_client_connections" // 1 while a transport is open
	MetricConnectionsTotal  = "mqtt_client_connections_total"
	MetricReconnectsTotal   = "mqtt_client_reconnects_total"
	MetricReconnectDuration = "mqtt_client_reconnect_duration_seconds" // loss to recovery
	MetricMessagesReceived  = "mqtt_client_messages_received_total"
	MetricMessagesPublished = "mqtt_client_messages_published_total"
	MetricBytesReceived     = "mqtt_client_bytes_received_total"
	MetricBytesSent         = "mqtt_client_bytes_sent_total"
	MetricPacketsSent       = "mqtt_client_packets_sent_total"
	MetricPacketsReceived   = "mqtt_client_packets_received_total"
	MetricMalformedPackets  = "mqtt_client_malformed_packets_total"
)

// Label names. QoS values are recorded as "0", "1" and "2".
const (
	LabelPacketType = "packet_type"
	LabelQoS        = "qos"
)

// ClientMetrics translates client events into series on a Metrics backend.
// Unlabeled instruments are resolved once up front.
type ClientMetrics struct {
	metrics Metrics

	connections       Gauge
	connectionsTotal  Counter
	reconnects        Counter
	reconnectDuration Histogram
	bytesReceived     Counter
	bytesSent         Counter
	malformed         Counter
}

// NewClientMetrics records on m, or nowhere when m is nil.
func NewClientMetrics(m Metrics) *ClientMetrics {
	if m == nil {
		m = &NoOpMetrics{}
	}
	return &ClientMetrics{
		metrics:           m,
		connections:       m.Gauge(MetricConnections, nil),
		connectionsTotal:  m.Counter(MetricConnectionsTotal, nil),
		reconnects:        m.Counter(MetricReconnectsTotal, nil),
		reconnectDuration: m.Histogram(MetricReconnectDuration, nil),
		bytesReceived:     m.Counter(MetricBytesReceived, nil),
		bytesSent:         m.Counter(MetricBytesSent, nil),
		malformed:         m.Counter(MetricMalformedPackets, nil),
	}
}

func (c *ClientMetrics) ConnectionOpened() {
	c.connections.Set(1)
	c.connectionsTotal.Inc()
}

func (c *ClientMetrics) ConnectionClosed()                    { c.connections.Set(0) }
func (c *ClientMetrics) Reconnected()                         { c.reconnects.Inc() }
func (c *ClientMetrics) ReconnectDuration(d time.Duration)    { c.reconnectDuration.ObserveDuration(d) }
func (c *ClientMetrics) BytesReceived(n int)                  { c.bytesReceived.Add(float64(n)) }
func (c *ClientMetrics) MalformedPacket()                     { c.malformed.Inc() }
func (c *ClientMetrics) MessageReceived(qos QoS)              { c.byQoS(MetricMessagesReceived, qos).Inc() }
func (c *ClientMetrics) MessagePublished(qos QoS)             { c.byQoS(MetricMessagesPublished, qos).Inc() }
func (c *ClientMetrics) PacketReceived(packetType PacketType) { c.byType(MetricPacketsReceived, packetType).Inc() }

// PacketSent counts a written packet and its size on the wire.
func (c *ClientMetrics) PacketSent(packetType PacketType, n int) {
	c.byType(MetricPacketsSent, packetType).Inc()
	c.bytesSent.Add(float64(n))
}

func (c *ClientMetrics) byQoS(name string, qos QoS) Counter {
	return c.metrics.Counter(name, MetricLabels{LabelQoS: strconv.Itoa(int(qos))})
}

func (c *ClientMetrics) byType(name string, packetType PacketType) Counter {
	return c.metrics.Counter(name, MetricLabels{LabelPacketType: packetType.String()})
}
