package st7735

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// CommandFrame is one command byte followed by its parameters. Delay is
// the settle time the controller needs before the next frame.
type CommandFrame struct {
	Cmd   byte
	Data  []byte
	Delay time.Duration
}

// Send transmits one frame: DC low for the command byte, DC high for the
// parameters. A failed transfer is returned as is, never retried.
func (d *Dev) Send(f CommandFrame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.halted {
		return ErrHalted
	}
	return d.send(f)
}

func (d *Dev) send(f CommandFrame) error {
	if err := d.dc.Out(gpio.Low); err != nil {
		return &SequenceError{Step: "dc command", Err: err}
	}
	d.cmd[0] = f.Cmd
	if err := d.c.Tx(d.cmd[:], nil); err != nil {
		return &BusError{Op: "command", Cmd: f.Cmd, Err: err}
	}
	if len(f.Data) > 0 {
		if err := d.sendData(f.Cmd, f.Data); err != nil {
			return err
		}
	}
	if f.Delay > 0 {
		d.sleep(f.Delay)
	}
	return nil
}

// sendData raises DC once and streams data in chunks of at most maxTxSize.
func (d *Dev) sendData(cmd byte, data []byte) error {
	if err := d.dc.Out(gpio.High); err != nil {
		return &SequenceError{Step: "dc data", Err: err}
	}
	for len(data) > 0 {
		n := len(data)
		if d.maxTxSize > 0 && n > d.maxTxSize {
			n = d.maxTxSize
		}
		if err := d.c.Tx(data[:n], nil); err != nil {
			return &BusError{Op: "data", Cmd: cmd, Err: err}
		}
		data = data[n:]
	}
	return nil
}
