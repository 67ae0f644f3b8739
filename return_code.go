package mqttv3

import "fmt"

// ConnectReturnCode is the result carried by a CONNACK packet.
// MQTT 3.1.1 spec: Section 3.2.2.3
type ConnectReturnCode byte

// CONNACK return codes.
const (
	ConnectAccepted                     ConnectReturnCode = 0x00
	ConnectRefusedProtocolVersion       ConnectReturnCode = 0x01
	ConnectRefusedIdentifierRejected    ConnectReturnCode = 0x02
	ConnectRefusedServerUnavailable     ConnectReturnCode = 0x03
	ConnectRefusedBadUsernameOrPassword ConnectReturnCode = 0x04
	ConnectRefusedNotAuthorized         ConnectReturnCode = 0x05
)

// String returns the string representation of the return code.
func (c ConnectReturnCode) String() string {
	switch c {
	case ConnectAccepted:
		return "connection accepted"
	case ConnectRefusedProtocolVersion:
		return "unacceptable protocol version"
	case ConnectRefusedIdentifierRejected:
		return "identifier rejected"
	case ConnectRefusedServerUnavailable:
		return "server unavailable"
	case ConnectRefusedBadUsernameOrPassword:
		return "bad user name or password"
	case ConnectRefusedNotAuthorized:
		return "not authorized"
	default:
		return fmt.Sprintf("reserved return code 0x%02X", byte(c))
	}
}

// Valid returns true for the return codes defined by MQTT 3.1.1.
func (c ConnectReturnCode) Valid() bool {
	return c <= ConnectRefusedNotAuthorized
}

// SubackReturnCode is one entry of a SUBACK payload.
// MQTT 3.1.1 spec: Section 3.9.3
type SubackReturnCode byte

// SUBACK return codes.
const (
	SubackGrantedQoS0 SubackReturnCode = 0x00
	SubackGrantedQoS1 SubackReturnCode = 0x01
	SubackGrantedQoS2 SubackReturnCode = 0x02
	SubackFailure     SubackReturnCode = 0x80
)

// Granted reports whether the entry grants a QoS level.
// Every value other than 0, 1 and 2 is a failure for that subscription.
func (c SubackReturnCode) Granted() bool {
	return c <= SubackGrantedQoS2
}

// QoS returns the granted QoS level. The result is only meaningful when Granted is true.
func (c SubackReturnCode) QoS() QoS {
	return QoS(c)
}

// String returns the string representation of the return code.
func (c SubackReturnCode) String() string {
	if c.Granted() {
		return "granted " + c.QoS().String()
	}
	return fmt.Sprintf("failure 0x%02X", byte(c))
}
