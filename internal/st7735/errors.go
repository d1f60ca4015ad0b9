package st7735

import (
	"errors"
	"fmt"
)

var (
	// ErrHalted is returned by every operation after Halt.
	ErrHalted = errors.New("st7735: halted")
	// ErrWindow is returned for an address window that is inverted or
	// exceeds the controller memory.
	ErrWindow = errors.New("st7735: invalid address window")
	// ErrBufferSize is returned when a pixel slice does not cover the window.
	ErrBufferSize = errors.New("st7735: pixel count does not match window")
	// ErrWriteOnly is returned by read commands on a write-only panel.
	ErrWriteOnly = errors.New("st7735: panel is write-only")
	// ErrRotation is returned for a rotation other than 0, 90, 180 or 270.
	ErrRotation = errors.New("st7735: unsupported rotation")
	// ErrColorOrder is returned for an unknown color order.
	ErrColorOrder = errors.New("st7735: unsupported color order")
)

// BusError reports a failed transfer on the serial bus. The controller has
// no acknowledgment channel, so the failed frame is never resent.
type BusError struct {
	// Op is "command", "data" or "read".
	Op  string
	Cmd byte
	Err error
}

func (e *BusError) Error() string {
	return fmt.Sprintf("st7735: bus %s 0x%02X: %v", e.Op, e.Cmd, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }

// SequenceError reports that a protocol step could not be honored, such as
// a failure to drive the reset or DC line.
type SequenceError struct {
	Step string
	Err  error
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("st7735: %s: %v", e.Step, e.Err)
}

func (e *SequenceError) Unwrap() error { return e.Err }
