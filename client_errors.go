package mqttv3

import (
	"errors"
	"fmt"
)

// Sentinel errors for client operations - check with errors.Is().
var (
	// ErrConnection is returned when the transport cannot be opened or reopened.
	ErrConnection = errors.New("connection failed")

	// ErrRequest is returned when writing an outbound packet fails.
	ErrRequest = errors.New("request failed")

	// ErrPublication is returned when a publish is refused before reaching the wire.
	ErrPublication = errors.New("publication failed")

	// ErrSubscriptionAckFailure is reported when a SUBACK entry is not a granted QoS.
	ErrSubscriptionAckFailure = errors.New("subscription acknowledgment failure")

	// ErrNotConnected is returned when an operation requires an open transport.
	ErrNotConnected = errors.New("not connected")

	// ErrReconnectFailed is returned by Run when all reconnection attempts failed.
	ErrReconnectFailed = errors.New("reconnect failed")
)

// ConnectionError contains details about a failed transport open.
// Extract with errors.As().
type ConnectionError struct {
	err   error
	Addr  string
	Cause error
}

func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.err, e.Addr, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.err, e.Addr)
}

func (e *ConnectionError) Unwrap() []error { return []error{e.err, e.Cause} }

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(addr string, cause error) *ConnectionError {
	return &ConnectionError{
		err:   ErrConnection,
		Addr:  addr,
		Cause: cause,
	}
}

// RequestError contains details about a failed packet write.
// Extract with errors.As().
type RequestError struct {
	err        error
	PacketType PacketType
	PacketID   uint16
	Cause      error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.err, e.PacketType, e.Cause)
}

func (e *RequestError) Unwrap() []error { return []error{e.err, e.Cause} }

// NewRequestError creates a new RequestError.
func NewRequestError(packetType PacketType, packetID uint16, cause error) *RequestError {
	return &RequestError{
		err:        ErrRequest,
		PacketType: packetType,
		PacketID:   packetID,
		Cause:      cause,
	}
}

// PublicationError contains details about a publish refused locally.
// Extract with errors.As().
type PublicationError struct {
	err   error
	Topic string
	Cause error
}

func (e *PublicationError) Error() string {
	return fmt.Sprintf("%s: topic %q: %v", e.err, e.Topic, e.Cause)
}

func (e *PublicationError) Unwrap() []error { return []error{e.err, e.Cause} }

// NewPublicationError creates a new PublicationError.
func NewPublicationError(topic string, cause error) *PublicationError {
	return &PublicationError{
		err:   ErrPublication,
		Topic: topic,
		Cause: cause,
	}
}

// SubscriptionAckFailureError lists the SUBACK entries the broker refused.
// Extract with errors.As().
type SubscriptionAckFailureError struct {
	err      error
	PacketID uint16
	Failed   []int
}

func (e *SubscriptionAckFailureError) Error() string {
	return fmt.Sprintf("%s: packet %d entries %v", e.err, e.PacketID, e.Failed)
}

func (e *SubscriptionAckFailureError) Unwrap() error { return e.err }

// NewSubscriptionAckFailureError creates a new SubscriptionAckFailureError.
func NewSubscriptionAckFailureError(packetID uint16, failed []int) *SubscriptionAckFailureError {
	return &SubscriptionAckFailureError{
		err:      ErrSubscriptionAckFailure,
		PacketID: packetID,
		Failed:   failed,
	}
}

// InvalidTopicMatcherError carries a topic filter that failed validation.
// Extract with errors.As().
type InvalidTopicMatcherError struct {
	err    error
	Filter string
}

func (e *InvalidTopicMatcherError) Error() string {
	return fmt.Sprintf("%s: %q", ErrInvalidTopicFilter, e.Filter)
}

func (e *InvalidTopicMatcherError) Unwrap() []error { return []error{ErrInvalidTopicFilter, e.err} }
