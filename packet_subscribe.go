package mqttv3

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	ErrNoSubscriptions = errors.New("SUBSCRIBE must contain at least one subscription")
	ErrNoTopicFilters  = errors.New("UNSUBSCRIBE must contain at least one topic filter")
	ErrEmptySuback     = errors.New("SUBACK must contain at least one return code")
)

// Subscription pairs a topic filter with the maximum QoS requested for it.
type Subscription struct {
	TopicFilter string
	QoS         QoS
}

// SubscribePacket requests one or more subscriptions.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
}

func (p *SubscribePacket) Type() PacketType      { return PacketSUBSCRIBE }
func (p *SubscribePacket) GetPacketID() uint16   { return p.PacketID }
func (p *SubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	body := binary.BigEndian.AppendUint16(nil, p.PacketID)
	for _, sub := range p.Subscriptions {
		var err error
		if body, err = appendString(body, sub.TopicFilter); err != nil {
			return 0, err
		}
		body = append(body, byte(sub.QoS))
	}
	return encodeWithHeader(w, PacketSUBSCRIBE, requiredFlags[PacketSUBSCRIBE], body)
}

func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(header, PacketSUBSCRIBE); err != nil {
		return 0, err
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, err
	}
	p.PacketID = id
	p.Subscriptions = p.Subscriptions[:0]

	for uint32(n) < header.RemainingLength {
		filter, m, err := decodeString(r)
		n += m
		if err != nil {
			return n, err
		}

		var opts [1]byte
		if _, err := io.ReadFull(r, opts[:]); err != nil {
			return n, err
		}
		n++

		// the six upper bits are reserved
		if !QoS(opts[0]).Valid() {
			return n, ErrInvalidQoS
		}
		p.Subscriptions = append(p.Subscriptions, Subscription{TopicFilter: filter, QoS: QoS(opts[0])})
	}

	if len(p.Subscriptions) == 0 {
		return n, ErrNoSubscriptions
	}
	return n, nil
}

func (p *SubscribePacket) Validate() error {
	if err := validatePacketID(p.PacketID); err != nil {
		return err
	}
	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}
	for _, sub := range p.Subscriptions {
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return err
		}
		if !sub.QoS.Valid() {
			return ErrInvalidQoS
		}
	}
	return nil
}

// SubackPacket carries one return code per requested subscription, in order.
type SubackPacket struct {
	PacketID    uint16
	ReturnCodes []SubackReturnCode
}

func (p *SubackPacket) Type() PacketType      { return PacketSUBACK }
func (p *SubackPacket) GetPacketID() uint16   { return p.PacketID }
func (p *SubackPacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *SubackPacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	body := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(p.ReturnCodes)), p.PacketID)
	for _, rc := range p.ReturnCodes {
		body = append(body, byte(rc))
	}
	return encodeWithHeader(w, PacketSUBACK, 0x00, body)
}

// Decode keeps unknown return codes as they are. A refused entry is a
// per-subscription result, not a framing error.
func (p *SubackPacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(header, PacketSUBACK); err != nil {
		return 0, err
	}
	if header.RemainingLength < 3 {
		return 0, ErrEmptySuback
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, err
	}
	if err := validatePacketID(id); err != nil {
		return n, err
	}

	codes := make([]byte, header.RemainingLength-2)
	m, err := io.ReadFull(r, codes)
	n += m
	if err != nil {
		return n, err
	}

	p.PacketID = id
	p.ReturnCodes = make([]SubackReturnCode, len(codes))
	for i, c := range codes {
		p.ReturnCodes[i] = SubackReturnCode(c)
	}
	return n, nil
}

func (p *SubackPacket) Validate() error {
	if err := validatePacketID(p.PacketID); err != nil {
		return err
	}
	if len(p.ReturnCodes) == 0 {
		return ErrEmptySuback
	}
	return nil
}

// Err reports the positions the broker refused, or nil when every
// subscription was granted.
func (p *SubackPacket) Err() error {
	var refused []int
	for i, rc := range p.ReturnCodes {
		if !rc.Granted() {
			refused = append(refused, i)
		}
	}
	if refused == nil {
		return nil
	}
	return NewSubscriptionAckFailureError(p.PacketID, refused)
}

// UnsubscribePacket removes one or more subscriptions.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
}

func (p *UnsubscribePacket) Type() PacketType      { return PacketUNSUBSCRIBE }
func (p *UnsubscribePacket) GetPacketID() uint16   { return p.PacketID }
func (p *UnsubscribePacket) SetPacketID(id uint16) { p.PacketID = id }

func (p *UnsubscribePacket) Encode(w io.Writer) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	body := binary.BigEndian.AppendUint16(nil, p.PacketID)
	for _, filter := range p.TopicFilters {
		var err error
		if body, err = appendString(body, filter); err != nil {
			return 0, err
		}
	}
	return encodeWithHeader(w, PacketUNSUBSCRIBE, requiredFlags[PacketUNSUBSCRIBE], body)
}

func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader) (int, error) {
	if err := checkHeader(header, PacketUNSUBSCRIBE); err != nil {
		return 0, err
	}

	id, n, err := decodeUint16(r)
	if err != nil {
		return n, err
	}
	p.PacketID = id
	p.TopicFilters = p.TopicFilters[:0]

	for uint32(n) < header.RemainingLength {
		filter, m, err := decodeString(r)
		n += m
		if err != nil {
			return n, err
		}
		p.TopicFilters = append(p.TopicFilters, filter)
	}

	if len(p.TopicFilters) == 0 {
		return n, ErrNoTopicFilters
	}
	return n, nil
}

func (p *UnsubscribePacket) Validate() error {
	if err := validatePacketID(p.PacketID); err != nil {
		return err
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoTopicFilters
	}
	for _, filter := range p.TopicFilters {
		if filter == "" {
			return ErrEmptyTopic
		}
	}
	return nil
}
