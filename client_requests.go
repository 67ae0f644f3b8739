package mqttv3

import (
	"context"
	"errors"
)

// ErrMessageDropped is returned when a producer interceptor drops a message.
var ErrMessageDropped = errors.New("message dropped by interceptor")

// Publish sends a PUBLISH and returns its packet identifier. QoS 0 messages
// carry no identifier and return 0. For QoS 1 and 2 the identifier comes back
// through Handler.OnPublish with PUBACK, PUBREC and PUBCOMP.
func (c *Client) Publish(topic string, payload []byte, qos QoS, retain bool) (uint16, error) {
	return c.PublishMessage(context.Background(), &Message{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
}

// PublishMessage is Publish for a Message. The context bounds the wait for
// the publish rate limiter.
//
// Local refusals (invalid topic, invalid QoS, interceptor drop, in-flight cap,
// exhausted identifiers) return a *PublicationError. A failed write returns
// a *RequestError.
func (c *Client) PublishMessage(ctx context.Context, msg *Message) (uint16, error) {
	topic := msg.Topic

	msg = applyProducerInterceptors(c.options.producerInterceptors, msg, c.logger)
	if msg == nil {
		return 0, NewPublicationError(topic, ErrMessageDropped)
	}

	if err := ValidateTopicName(msg.Topic); err != nil {
		return 0, NewPublicationError(msg.Topic, err)
	}
	if !msg.QoS.Valid() {
		return 0, NewPublicationError(msg.Topic, ErrInvalidQoS)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return 0, NewPublicationError(msg.Topic, err)
		}
	}

	pkt := &PublishPacket{}
	pkt.FromMessage(msg)

	if msg.QoS > QoS0 {
		if err := c.inflight.Acquire(); err != nil {
			return 0, NewPublicationError(msg.Topic, err)
		}
		id, err := c.packetIDs.Allocate()
		if err != nil {
			c.inflight.Release()
			return 0, NewPublicationError(msg.Topic, err)
		}
		pkt.PacketID = id
	}

	if err := c.writePacket(pkt); err != nil {
		if pkt.PacketID != 0 {
			c.packetIDs.Release(pkt.PacketID)
			c.inflight.Release()
		}
		return 0, NewRequestError(PacketPUBLISH, pkt.PacketID, err)
	}

	c.metrics.MessagePublished(msg.QoS)
	c.logger.Debug("publish sent", LogFields{
		LogFieldTopic:    msg.Topic,
		LogFieldQoS:      msg.QoS,
		LogFieldPacketID: pkt.PacketID,
	})

	return pkt.PacketID, nil
}

// Subscribe validates filter and sends a SUBSCRIBE with the single
// filter/QoS pair. An invalid filter returns an *InvalidTopicMatcherError
// before anything is written.
//
// The returned matcher tests inbound PUBLISH topics against the filter; the
// packet identifier comes back through Handler.OnSubscribe with SUBACK.
func (c *Client) Subscribe(filter string, qos QoS) (*TopicMatcher, uint16, error) {
	matcher, err := NewTopicMatcher(filter)
	if err != nil {
		return nil, 0, err
	}
	if !qos.Valid() {
		return nil, 0, ErrInvalidQoS
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return nil, 0, err
	}

	pkt := &SubscribePacket{
		PacketID:      id,
		Subscriptions: []Subscription{{TopicFilter: filter, QoS: qos}},
	}
	if err := c.writePacket(pkt); err != nil {
		c.packetIDs.Release(id)
		return nil, 0, NewRequestError(PacketSUBSCRIBE, id, err)
	}

	c.logger.Debug("subscribe sent", LogFields{
		LogFieldTopic:    filter,
		LogFieldQoS:      qos,
		LogFieldPacketID: id,
	})

	return matcher, id, nil
}

// Unsubscribe sends an UNSUBSCRIBE for one filter and returns its packet
// identifier, which comes back through Handler.OnUnsubscribe with UNSUBACK.
// An invalid filter returns an *InvalidTopicMatcherError before anything is
// written.
func (c *Client) Unsubscribe(filter string) (uint16, error) {
	if _, err := NewTopicMatcher(filter); err != nil {
		return 0, err
	}

	id, err := c.packetIDs.Allocate()
	if err != nil {
		return 0, err
	}

	pkt := &UnsubscribePacket{
		PacketID:     id,
		TopicFilters: []string{filter},
	}
	if err := c.writePacket(pkt); err != nil {
		c.packetIDs.Release(id)
		return 0, NewRequestError(PacketUNSUBSCRIBE, id, err)
	}

	c.logger.Debug("unsubscribe sent", LogFields{
		LogFieldTopic:    filter,
		LogFieldPacketID: id,
	})

	return id, nil
}

// Ping sends PINGREQ. The client has no keep-alive timer; call Ping to
// probe the connection.
func (c *Client) Ping() error {
	if err := c.writePacket(&PingreqPacket{}); err != nil {
		return NewRequestError(PacketPINGREQ, 0, err)
	}
	return nil
}
