package st7735

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

const (
	resetPulse  = 1 * time.Millisecond
	resetHold   = 10 * time.Millisecond
	resetSettle = 120 * time.Millisecond // regulator ramp and oscillator start
)

// HardwareReset pulses the reset line low, releases it and waits for the
// controller to boot. Without a reset line the software reset command is
// sent instead, followed by the same settle time.
func (d *Dev) HardwareReset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	d.initialized = false

	if d.rst == nil {
		return d.send(CommandFrame{Cmd: cmdSWRESET, Delay: resetSettle})
	}
	if err := d.rst.Out(gpio.Low); err != nil {
		return &SequenceError{Step: "reset assert", Err: err}
	}
	d.sleep(resetPulse)
	if err := d.rst.Out(gpio.High); err != nil {
		return &SequenceError{Step: "reset release", Err: err}
	}
	d.sleep(resetHold)
	d.sleep(resetSettle)
	return nil
}
