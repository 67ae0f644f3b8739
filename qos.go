package mqttv3

import (
	"errors"
	"strconv"
)

// QoS is the delivery guarantee of a PUBLISH or subscription. The value is
// the two bit wire encoding.
type QoS byte

const (
	QoS0 QoS = iota // at most once
	QoS1            // at least once
	QoS2            // exactly once
)

var ErrInvalidQoS = errors.New("invalid QoS level")

func (q QoS) String() string {
	if q.Valid() {
		return "QoS" + strconv.Itoa(int(q))
	}
	return "QoS(" + strconv.Itoa(int(q)) + ")"
}

// Valid reports whether q is 0, 1 or 2.
func (q QoS) Valid() bool { return q <= QoS2 }
