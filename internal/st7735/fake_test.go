package st7735

import (
	"errors"
	"sync"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
)

var errTx = errors.New("spi: transfer failed")

// event is one observable action on the wires or the clock.
type event struct {
	kind  string // "tx", "sleep" or a pin name
	level gpio.Level
	data  []byte
	delay time.Duration
}

// recorder keeps every action, in order, across the fake conn, pins and clock.
type recorder struct {
	mu     sync.Mutex
	events []event
	txs    int
	// failAt makes the failAt-th transfer (1-based) fail.
	failAt int
	reply  []byte
}

func (r *recorder) add(e event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
	r.txs = 0
}

func (r *recorder) txCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.txs
}

type fakeConn struct {
	rec *recorder
}

func (c *fakeConn) String() string { return "fake" }

func (c *fakeConn) Duplex() conn.Duplex { return conn.Half }

func (c *fakeConn) Tx(w, r []byte) error {
	c.rec.mu.Lock()
	c.rec.txs++
	n := c.rec.txs
	fail := c.rec.failAt
	reply := c.rec.reply
	c.rec.mu.Unlock()
	if fail > 0 && n == fail {
		return errTx
	}
	copy(r, reply)
	c.rec.add(event{kind: "tx", data: append([]byte(nil), w...)})
	return nil
}

// limitedConn also implements conn.Limits.
type limitedConn struct {
	fakeConn
	limit int
}

func (c *limitedConn) MaxTxSize() int { return c.limit }

type fakePin struct {
	name string
	rec  *recorder
	err  error
}

func (p *fakePin) Out(l gpio.Level) error {
	if p.err != nil {
		return p.err
	}
	p.rec.add(event{kind: p.name, level: l})
	return nil
}

type fakeClock struct {
	rec *recorder
}

func (c *fakeClock) Sleep(d time.Duration) {
	c.rec.add(event{kind: "sleep", delay: d})
}

// rig is a Dev wired to fakes sharing one recorder.
type rig struct {
	dev *Dev
	rec *recorder
	dc  *fakePin
	rst *fakePin
}

func newRig(opts *Opts, withReset bool) *rig {
	rec := &recorder{}
	dc := &fakePin{name: "dc", rec: rec}
	var rst *fakePin
	if opts == nil {
		opts = &Opts{}
	}
	opts.Sleep = (&fakeClock{rec: rec}).Sleep
	var rstPin Pin
	if withReset {
		rst = &fakePin{name: "rst", rec: rec}
		rstPin = rst
	}
	dev, err := New(&fakeConn{rec: rec}, dc, rstPin, opts)
	if err != nil {
		panic(err)
	}
	return &rig{dev: dev, rec: rec, dc: dc, rst: rst}
}

// frames rebuilds the command frames from the DC level at each transfer.
// It fails on a data transfer that is not preceded by a command.
func frames(events []event) ([]CommandFrame, error) {
	var out []CommandFrame
	dc := gpio.High
	for _, e := range events {
		switch e.kind {
		case "dc":
			dc = e.level
		case "tx":
			if dc == gpio.Low {
				if len(e.data) != 1 {
					return nil, errors.New("command phase carried more than one byte")
				}
				out = append(out, CommandFrame{Cmd: e.data[0]})
				continue
			}
			if len(out) == 0 {
				return nil, errors.New("data before any command")
			}
			last := &out[len(out)-1]
			last.Data = append(last.Data, e.data...)
		case "sleep":
			if len(out) > 0 {
				out[len(out)-1].Delay += e.delay
			}
		}
	}
	return out, nil
}
