// Package hw opens the panel on the host's SPI port and GPIO lines.
package hw

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"lcdpanel/internal/config"
	appLog "lcdpanel/internal/log"
	"lcdpanel/internal/st7735"
)

// Hardware is an opened panel.
type Hardware struct {
	Dev *st7735.Dev

	port spi.PortCloser
	null *nullConn
}

// PanelOpts derives the driver options from the configuration.
func PanelOpts(cfg *config.Config) (*st7735.Opts, error) {
	rot, err := st7735.ParseRotation(cfg.Panel.Rotation)
	if err != nil {
		return nil, err
	}
	order, err := st7735.ParseColorOrder(cfg.Panel.ColorOrder)
	if err != nil {
		return nil, err
	}
	return &st7735.Opts{
		Geometry:   cfg.Geometry(),
		Rotation:   rot,
		ColorOrder: order,
		WriteOnly:  cfg.Panel.WriteOnly,
		MaxTxSize:  cfg.SPI.MaxTxSize,
		Speed:      physic.Frequency(cfg.SPI.SpeedHz) * physic.Hertz,
	}, nil
}

// Open initializes periph.io, opens the SPI port and the DC and reset
// lines. The panel is not reset; call Dev.Init.
func Open(cfg *config.Config) (*Hardware, error) {
	opts, err := PanelOpts(cfg)
	if err != nil {
		return nil, err
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("hw: periph host init failed: %w", err)
	}

	dc, err := outPin(cfg.Pins.DC, gpio.Low)
	if err != nil {
		return nil, err
	}
	var rst st7735.Pin
	if cfg.Pins.Reset != "" {
		p, err := outPin(cfg.Pins.Reset, gpio.High)
		if err != nil {
			return nil, err
		}
		rst = p
	}

	port, err := spireg.Open(cfg.SPI.Bus)
	if err != nil {
		return nil, fmt.Errorf("hw: failed to open SPI port %q: %w", cfg.SPI.Bus, err)
	}
	dev, err := st7735.NewSPI(port, dc, rst, opts)
	if err != nil {
		_ = port.Close()
		return nil, err
	}
	appLog.Info("panel opened",
		"dev", dev.String(),
		"spi", port.String(),
		"speed", opts.Speed.String(),
		"dc", cfg.Pins.DC,
		"reset", cfg.Pins.Reset,
		"max_tx", dev.MaxTxSize(),
	)
	return &Hardware{Dev: dev, port: port}, nil
}

// OpenNull returns a panel whose bus discards every byte, for running
// without hardware.
func OpenNull(cfg *config.Config) (*Hardware, error) {
	opts, err := PanelOpts(cfg)
	if err != nil {
		return nil, err
	}
	opts.Sleep = func(time.Duration) {}
	nc := &nullConn{}
	dev, err := st7735.New(nc, nullPin{}, nullPin{}, opts)
	if err != nil {
		return nil, err
	}
	appLog.Info("panel opened without hardware", "dev", dev.String())
	return &Hardware{Dev: dev, null: nc}, nil
}

// BytesDiscarded reports how many bytes a null panel has swallowed.
func (h *Hardware) BytesDiscarded() int64 {
	if h.null == nil {
		return 0
	}
	return h.null.n.Load()
}

// Close puts the panel to sleep and releases the SPI port.
func (h *Hardware) Close() error {
	var errs []error
	if err := h.Dev.Halt(); err != nil && !errors.Is(err, st7735.ErrHalted) {
		errs = append(errs, fmt.Errorf("hw: halt: %w", err))
	}
	if h.port != nil {
		if err := h.port.Close(); err != nil {
			errs = append(errs, fmt.Errorf("hw: close SPI: %w", err))
		}
	}
	return errors.Join(errs...)
}

func outPin(name string, initial gpio.Level) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("hw: gpio %s not found", name)
	}
	if err := p.Out(initial); err != nil {
		return nil, fmt.Errorf("hw: gpio %s Out failed: %w", name, err)
	}
	return p, nil
}

type nullConn struct {
	n atomic.Int64
}

func (c *nullConn) String() string      { return "null" }
func (c *nullConn) Duplex() conn.Duplex { return conn.Half }
func (c *nullConn) Tx(w, r []byte) error {
	c.n.Add(int64(len(w)))
	clear(r)
	return nil
}

type nullPin struct{}

func (nullPin) Out(gpio.Level) error { return nil }
