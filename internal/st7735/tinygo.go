package st7735

import (
	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"tinygo.org/x/drivers"
)

// TinyGoConn lets a Dev run over a tinygo drivers.SPI bus.
type TinyGoConn struct {
	Bus drivers.SPI
	// Limit is reported through conn.Limits; 0 means no limit.
	Limit int
}

func (t *TinyGoConn) String() string { return "tinygo-spi" }

// Tx implements conn.Conn.
func (t *TinyGoConn) Tx(w, r []byte) error { return t.Bus.Tx(w, r) }

// Duplex implements conn.Conn.
func (t *TinyGoConn) Duplex() conn.Duplex { return conn.Half }

// MaxTxSize implements conn.Limits.
func (t *TinyGoConn) MaxTxSize() int { return t.Limit }

// TinyGoPin adapts a tinygo style pin with High and Low methods.
type TinyGoPin struct {
	P interface {
		High()
		Low()
	}
}

// Out implements Pin.
func (p TinyGoPin) Out(l gpio.Level) error {
	if l == gpio.High {
		p.P.High()
	} else {
		p.P.Low()
	}
	return nil
}

var (
	_ conn.Conn   = &TinyGoConn{}
	_ conn.Limits = &TinyGoConn{}
	_ Pin         = TinyGoPin{}
)
