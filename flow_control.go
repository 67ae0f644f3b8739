package mqttv3

import (
	"errors"
	"sync/atomic"
)

var ErrInflightExceeded = errors.New("in-flight publish limit reached")

// FlowController caps the QoS 1 and 2 publishes that have been sent but not
// yet completed by PUBACK or PUBCOMP. It is lock free.
type FlowController struct {
	maximum  uint32
	inFlight atomic.Uint32
}

// NewFlowController allows maximum publishes in flight. Zero means 65535,
// the whole packet identifier space.
func NewFlowController(maximum uint16) *FlowController {
	if maximum == 0 {
		maximum = maxUint16
	}
	return &FlowController{maximum: uint32(maximum)}
}

func (f *FlowController) Maximum() uint16  { return uint16(f.maximum) }
func (f *FlowController) InFlight() uint16 { return uint16(f.inFlight.Load()) }

// Available is the number of publishes that could start now.
func (f *FlowController) Available() uint16 {
	return uint16(f.maximum - min(f.inFlight.Load(), f.maximum))
}

// Acquire takes a slot, or fails with ErrInflightExceeded when none is free.
func (f *FlowController) Acquire() error {
	for {
		cur := f.inFlight.Load()
		if cur >= f.maximum {
			return ErrInflightExceeded
		}
		if f.inFlight.CompareAndSwap(cur, cur+1) {
			return nil
		}
	}
}

// Release gives a slot back. Releasing with nothing in flight is a no-op.
func (f *FlowController) Release() {
	for {
		cur := f.inFlight.Load()
		if cur == 0 || f.inFlight.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Reset forgets every in-flight publish, as after a reconnect.
func (f *FlowController) Reset() { f.inFlight.Store(0) }
