package mqttv3

import "errors"

// ErrInvalidWill is returned when a will message cannot be sent in CONNECT.
var ErrInvalidWill = errors.New("invalid will message")

// Will is the message the broker publishes on the client's behalf when the
// network connection closes without a DISCONNECT.
type Will struct {
	// Topic is the will topic.
	Topic string

	// Message is the will payload.
	Message []byte

	// QoS is the quality of service level used by the broker to publish the will.
	QoS QoS

	// Retain indicates if the will message should be retained.
	Retain bool
}

// Validate checks that the will can be carried in a CONNECT packet.
func (w *Will) Validate() error {
	if w == nil {
		return nil
	}
	if err := ValidateTopicName(w.Topic); err != nil {
		return errors.Join(ErrInvalidWill, err)
	}
	if !w.QoS.Valid() {
		return errors.Join(ErrInvalidWill, ErrInvalidQoS)
	}
	if len(w.Message) > maxUint16 {
		return errors.Join(ErrInvalidWill, ErrBinaryTooLong)
	}
	return nil
}

// ToMessage converts the will to a Message.
func (w *Will) ToMessage() *Message {
	return &Message{
		Topic:   w.Topic,
		Payload: w.Message,
		QoS:     w.QoS,
		Retain:  w.Retain,
	}
}

// Clone returns a deep copy of the will.
func (w *Will) Clone() *Will {
	if w == nil {
		return nil
	}
	clone := *w
	if w.Message != nil {
		clone.Message = make([]byte, len(w.Message))
		copy(clone.Message, w.Message)
	}
	return &clone
}
