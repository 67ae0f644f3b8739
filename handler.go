package mqttv3

// Disconnect codes passed to Handler.OnDisconnect.
const (
	// DisconnectCodeNormal reports a shutdown the client asked for.
	DisconnectCodeNormal = 0
	// DisconnectCodeReconnectFailed reports that every reconnection attempt failed.
	DisconnectCodeReconnectFailed = 1
)

// Handler receives protocol events from Client.Run.
//
// Every method is called synchronously from the dispatch loop. A method that
// blocks stalls all further packet processing, including acknowledgments and
// reconnection.
type Handler interface {
	// OnConnect is called for every CONNACK.
	OnConnect(code ConnectReturnCode)

	// OnPublish is called for PUBACK, PUBREC, PUBREL and PUBCOMP with the
	// packet identifier they carry.
	OnPublish(packetID uint16)

	// OnSubscribe is called for every SUBACK.
	OnSubscribe(packetID uint16)

	// OnUnsubscribe is called for every UNSUBACK.
	OnUnsubscribe(packetID uint16)

	// OnDisconnect is called once when Run stops because of a local
	// disconnect or because reconnection gave up.
	OnDisconnect(code int)

	// OnMessage is called for every inbound PUBLISH. Match the topic with
	// the TopicMatcher returned by Subscribe.
	OnMessage(packet *PublishPacket)

	// OnLog receives, in order, every line the client logs while Run is
	// active. Lines logged on other goroutines, by Publish for example, are
	// queued and delivered from the dispatch loop like every other event.
	OnLog(level LogLevel, text string)
}

// HandlerFuncs implements Handler with optional function fields.
// A nil field ignores the event.
type HandlerFuncs struct {
	Connect     func(code ConnectReturnCode)
	Publish     func(packetID uint16)
	Subscribe   func(packetID uint16)
	Unsubscribe func(packetID uint16)
	Disconnect  func(code int)
	Message     func(packet *PublishPacket)
	Log         func(level LogLevel, text string)
}

func (h HandlerFuncs) OnConnect(code ConnectReturnCode) {
	if h.Connect != nil {
		h.Connect(code)
	}
}

func (h HandlerFuncs) OnPublish(packetID uint16) {
	if h.Publish != nil {
		h.Publish(packetID)
	}
}

func (h HandlerFuncs) OnSubscribe(packetID uint16) {
	if h.Subscribe != nil {
		h.Subscribe(packetID)
	}
}

func (h HandlerFuncs) OnUnsubscribe(packetID uint16) {
	if h.Unsubscribe != nil {
		h.Unsubscribe(packetID)
	}
}

func (h HandlerFuncs) OnDisconnect(code int) {
	if h.Disconnect != nil {
		h.Disconnect(code)
	}
}

func (h HandlerFuncs) OnMessage(packet *PublishPacket) {
	if h.Message != nil {
		h.Message(packet)
	}
}

func (h HandlerFuncs) OnLog(level LogLevel, text string) {
	if h.Log != nil {
		h.Log(level, text)
	}
}

// NopHandler ignores every event.
type NopHandler struct{}

func (NopHandler) OnConnect(ConnectReturnCode) {}
func (NopHandler) OnPublish(uint16)            {}
func (NopHandler) OnSubscribe(uint16)          {}
func (NopHandler) OnUnsubscribe(uint16)        {}
func (NopHandler) OnDisconnect(int)            {}
func (NopHandler) OnMessage(*PublishPacket)    {}
func (NopHandler) OnLog(LogLevel, string)      {}
