package mqttv3

// ProducerInterceptor sees every outbound message before it is encoded.
// OnSend may modify msg in place, replace it, or return nil to drop it.
// msg is the caller's message, not a copy.
type ProducerInterceptor interface {
	OnSend(msg *Message) *Message
}

// ConsumerInterceptor sees every inbound message before Handler.OnMessage.
// Returning nil drops the message; QoS 1 and 2 deliveries are still
// acknowledged.
type ConsumerInterceptor interface {
	OnConsume(msg *Message) *Message
}

type (
	ProducerInterceptorFunc func(msg *Message) *Message
	ConsumerInterceptorFunc func(msg *Message) *Message
)

func (f ProducerInterceptorFunc) OnSend(msg *Message) *Message    { return f(msg) }
func (f ConsumerInterceptorFunc) OnConsume(msg *Message) *Message { return f(msg) }

func applyProducerInterceptors(chain []ProducerInterceptor, msg *Message, logger Logger) *Message {
	return runChain("producer", chain, ProducerInterceptor.OnSend, msg, logger)
}

func applyConsumerInterceptors(chain []ConsumerInterceptor, msg *Message, logger Logger) *Message {
	return runChain("consumer", chain, ConsumerInterceptor.OnConsume, msg, logger)
}

// runChain passes msg through each interceptor in turn and stops at the
// first nil. A panicking interceptor is logged and skipped.
func runChain[I any](kind string, chain []I, call func(I, *Message) *Message, msg *Message, logger Logger) *Message {
	for _, i := range chain {
		if msg == nil {
			break
		}
		msg = guarded(kind, i, call, msg, logger)
	}
	return msg
}

func guarded[I any](kind string, i I, call func(I, *Message) *Message, msg *Message, logger Logger) (out *Message) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error(kind+" interceptor panic", LogFields{LogFieldError: r, LogFieldTopic: msg.Topic})
			out = msg
		}
	}()
	return call(i, msg)
}
