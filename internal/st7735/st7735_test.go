package st7735

import (
	"bytes"
	"errors"
	"image"
	"sync"
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// flat is a geometry without offsets so memory and visible coordinates agree.
var flat = Geometry{Width: 128, Height: 128, MemWidth: 128, MemHeight: 128}

func TestAddressMode(t *testing.T) {
	tests := []struct {
		rot   Rotation
		order ColorOrder
		want  byte
	}{
		{Rotate0, BGR, AddrMX | AddrMY},
		{Rotate0, RGB, AddrMX | AddrMY | AddrRGB},
		{Rotate90, BGR, AddrMX | AddrMV},
		{Rotate90, RGB, AddrMX | AddrMV | AddrRGB},
		{Rotate180, BGR, 0},
		{Rotate180, RGB, AddrRGB},
		{Rotate270, BGR, AddrMY | AddrMV},
		{Rotate270, RGB, AddrMY | AddrMV | AddrRGB},
	}
	for _, tt := range tests {
		t.Run(tt.rot.String()+"/"+tt.order.String(), func(t *testing.T) {
			if got := AddressMode(tt.rot, tt.order); got != tt.want {
				t.Errorf("AddressMode(%v, %v) = 0x%02X, want 0x%02X", tt.rot, tt.order, got, tt.want)
			}
		})
	}

	if AddressMode(Rotate0, BGR) != 0xC0 || AddressMode(Rotate90, BGR) != 0x60 || AddressMode(Rotate270, BGR) != 0xA0 {
		t.Error("rotation bits do not match MY=0x80 MX=0x40 MV=0x20")
	}

	seen := map[byte]Rotation{}
	for _, r := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		if prev, dup := seen[r.Bits()]; dup {
			t.Errorf("%v and %v share bits 0x%02X", prev, r, r.Bits())
		}
		seen[r.Bits()] = r
		if r.Bits()&AddrRGB != 0 {
			t.Errorf("%v bits overlap the color order bit", r)
		}
	}
}

func TestParseRotation(t *testing.T) {
	for _, deg := range []int{0, 90, 180, 270} {
		if _, err := ParseRotation(deg); err != nil {
			t.Errorf("ParseRotation(%d) error = %v", deg, err)
		}
	}
	for _, deg := range []int{-90, 45, 360} {
		if _, err := ParseRotation(deg); !errors.Is(err, ErrRotation) {
			t.Errorf("ParseRotation(%d) error = %v, want ErrRotation", deg, err)
		}
	}
}

func TestParseColorOrder(t *testing.T) {
	tests := []struct {
		in      string
		want    ColorOrder
		wantErr bool
	}{
		{"rgb", RGB, false},
		{"RGB", RGB, false},
		{"bgr", BGR, false},
		{"", BGR, false},
		{"grb", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseColorOrder(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseColorOrder(%q) error = %v", tt.in, err)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("ParseColorOrder(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

// golden is the register programming of the 128x128 module, with the
// MADCTL payload left for the caller.
func golden(madctl byte) []CommandFrame {
	return []CommandFrame{
		{Cmd: 0xB1, Data: []byte{0x05, 0x3c, 0x3c}},
		{Cmd: 0xB2, Data: []byte{0x05, 0x3c, 0x3c}},
		{Cmd: 0xB3, Data: []byte{0x05, 0x3c, 0x3c, 0x05, 0x3c, 0x3c}},
		{Cmd: 0xB4, Data: []byte{0x03}},
		{Cmd: 0xC0, Data: []byte{0x0e, 0x0e, 0x04}},
		{Cmd: 0xC1, Data: []byte{0xc0}},
		{Cmd: 0xC2, Data: []byte{0x0d, 0x00}},
		{Cmd: 0xC3, Data: []byte{0x8d, 0x2a}},
		{Cmd: 0xC4, Data: []byte{0x8d, 0xee}},
		{Cmd: 0xC5, Data: []byte{0x0c}},
		{Cmd: 0x36, Data: []byte{madctl}},
		{Cmd: 0x21},
		{Cmd: 0xE0, Data: []byte{
			0x0c, 0x1c, 0x0f, 0x18, 0x36, 0x2f, 0x27, 0x2a,
			0x27, 0x25, 0x2d, 0x3c, 0x00, 0x05, 0x03, 0x10,
		}},
		{Cmd: 0xE1, Data: []byte{
			0x0c, 0x1a, 0x09, 0x09, 0x26, 0x22, 0x1e, 0x25,
			0x25, 0x25, 0x2e, 0x3b, 0x00, 0x05, 0x03, 0x10,
		}},
		{Cmd: 0x3A, Data: []byte{0x05}},
		{Cmd: 0x2A, Data: []byte{0x00, 0x00, 0x00, 0x83}},
		{Cmd: 0x2B, Data: []byte{0x00, 0x00, 0x00, 0x83}},
		{Cmd: 0x11, Delay: 120 * time.Millisecond},
		{Cmd: 0x29, Delay: 120 * time.Millisecond},
	}
}

func compareFrames(t *testing.T, got, want []CommandFrame) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d frames, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i].Cmd != want[i].Cmd {
			t.Errorf("frame %d: cmd 0x%02X, want 0x%02X", i, got[i].Cmd, want[i].Cmd)
		}
		if !bytes.Equal(got[i].Data, want[i].Data) {
			t.Errorf("frame %d (0x%02X): data % X, want % X", i, want[i].Cmd, got[i].Data, want[i].Data)
		}
		if got[i].Delay != want[i].Delay {
			t.Errorf("frame %d (0x%02X): delay %v, want %v", i, want[i].Cmd, got[i].Delay, want[i].Delay)
		}
	}
}

func TestInitializeGoldenSequence(t *testing.T) {
	for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		for _, order := range []ColorOrder{BGR, RGB} {
			t.Run(rot.String()+"/"+order.String(), func(t *testing.T) {
				r := newRig(nil, true)
				if err := r.dev.Initialize(rot, order); err != nil {
					t.Fatalf("Initialize() error = %v", err)
				}
				got, err := frames(r.rec.snapshot())
				if err != nil {
					t.Fatal(err)
				}
				compareFrames(t, got, golden(AddressMode(rot, order)))
				if !r.dev.Initialized() {
					t.Error("Initialized() = false after success")
				}
				if r.dev.Rotation() != rot || r.dev.ColorOrder() != order {
					t.Errorf("active config = %v/%v, want %v/%v", r.dev.Rotation(), r.dev.ColorOrder(), rot, order)
				}
			})
		}
	}
}

func TestInitializeFramingDiscipline(t *testing.T) {
	r := newRig(nil, true)
	if err := r.dev.Initialize(Rotate0, BGR); err != nil {
		t.Fatal(err)
	}
	// Every command byte goes out alone with DC low, and DC is high for
	// every parameter transfer.
	dc := gpio.High
	for i, e := range r.rec.snapshot() {
		switch e.kind {
		case "dc":
			dc = e.level
		case "tx":
			if dc == gpio.Low && len(e.data) != 1 {
				t.Errorf("event %d: %d bytes sent with DC low", i, len(e.data))
			}
		}
	}
}

func TestInitializeStopsOnBusError(t *testing.T) {
	total := 0
	{
		r := newRig(nil, true)
		if err := r.dev.Initialize(Rotate0, BGR); err != nil {
			t.Fatal(err)
		}
		total = r.rec.txCount()
	}

	for n := 1; n <= total; n++ {
		r := newRig(nil, true)
		r.rec.failAt = n
		err := r.dev.Initialize(Rotate0, BGR)
		if err == nil {
			t.Fatalf("failAt=%d: Initialize() succeeded", n)
		}
		var be *BusError
		if !errors.As(err, &be) {
			t.Fatalf("failAt=%d: error %v is not a *BusError", n, err)
		}
		if !errors.Is(err, errTx) {
			t.Errorf("failAt=%d: error %v does not wrap the transport error", n, err)
		}
		if got := r.rec.txCount(); got != n {
			t.Errorf("failAt=%d: %d transfers attempted, want %d", n, got, n)
		}
		if r.dev.Initialized() {
			t.Errorf("failAt=%d: Initialized() = true", n)
		}
	}
}

func TestInitializeDCFailure(t *testing.T) {
	r := newRig(nil, true)
	r.dc.err = errors.New("gpio: line busy")
	err := r.dev.Initialize(Rotate0, BGR)
	var se *SequenceError
	if !errors.As(err, &se) {
		t.Fatalf("Initialize() error = %v, want *SequenceError", err)
	}
	if r.rec.txCount() != 0 {
		t.Errorf("%d transfers after DC failure", r.rec.txCount())
	}
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	r := newRig(nil, true)
	if err := r.dev.Initialize(Rotation(45), BGR); !errors.Is(err, ErrRotation) {
		t.Errorf("Initialize(45) error = %v, want ErrRotation", err)
	}
	if err := r.dev.Initialize(Rotate0, ColorOrder(7)); !errors.Is(err, ErrColorOrder) {
		t.Errorf("Initialize(order 7) error = %v, want ErrColorOrder", err)
	}
	if len(r.rec.snapshot()) != 0 {
		t.Error("invalid configuration reached the bus")
	}
}

func TestHardwareResetTiming(t *testing.T) {
	r := newRig(nil, true)
	if err := r.dev.HardwareReset(); err != nil {
		t.Fatalf("HardwareReset() error = %v", err)
	}
	ev := r.rec.snapshot()
	if len(ev) < 3 {
		t.Fatalf("got %d events, want at least 3", len(ev))
	}
	if ev[0].kind != "rst" || ev[0].level != gpio.Low {
		t.Fatalf("first event = %+v, want reset asserted low", ev[0])
	}
	released := -1
	var asserted time.Duration
	for i, e := range ev[1:] {
		if e.kind == "rst" {
			if e.level != gpio.High {
				t.Fatalf("second reset transition = %v, want High", e.level)
			}
			released = i + 1
			break
		}
		asserted += e.delay
	}
	if released < 0 {
		t.Fatal("reset never released")
	}
	if asserted < time.Millisecond {
		t.Errorf("reset asserted for %v, want >= 1ms", asserted)
	}
	var settle time.Duration
	for _, e := range ev[released+1:] {
		if e.kind == "tx" || e.kind == "rst" {
			t.Fatalf("unexpected %s after release", e.kind)
		}
		settle += e.delay
	}
	if settle < 130*time.Millisecond {
		t.Errorf("release to return = %v, want >= 130ms (10ms hold + 120ms boot)", settle)
	}
}

func TestHardwareResetGPIOFailure(t *testing.T) {
	r := newRig(nil, true)
	r.rst.err = errors.New("gpio: permission denied")
	err := r.dev.HardwareReset()
	var se *SequenceError
	if !errors.As(err, &se) {
		t.Fatalf("HardwareReset() error = %v, want *SequenceError", err)
	}
	if len(r.rec.snapshot()) != 0 {
		t.Error("events recorded after the reset line failed")
	}
}

func TestSoftResetWithoutResetLine(t *testing.T) {
	r := newRig(nil, false)
	if err := r.dev.HardwareReset(); err != nil {
		t.Fatal(err)
	}
	got, err := frames(r.rec.snapshot())
	if err != nil {
		t.Fatal(err)
	}
	compareFrames(t, got, []CommandFrame{{Cmd: 0x01, Delay: 120 * time.Millisecond}})
}

func TestInitRunsResetThenInitialize(t *testing.T) {
	r := newRig(&Opts{Rotation: Rotate90, ColorOrder: RGB}, true)
	if err := r.dev.Init(); err != nil {
		t.Fatal(err)
	}
	ev := r.rec.snapshot()
	if ev[0].kind != "rst" {
		t.Fatalf("first event %q, want rst", ev[0].kind)
	}
	got, err := frames(ev)
	if err != nil {
		t.Fatal(err)
	}
	compareFrames(t, got, golden(0x68))
}

func TestSetWindow(t *testing.T) {
	r := newRig(&Opts{Geometry: flat}, true)
	w := AddressWindow{ColStart: 0, ColEnd: 83, RowStart: 0, RowEnd: 83}
	if err := r.dev.SetWindow(w); err != nil {
		t.Fatal(err)
	}
	got, err := frames(r.rec.snapshot())
	if err != nil {
		t.Fatal(err)
	}
	compareFrames(t, got, []CommandFrame{
		{Cmd: 0x2A, Data: []byte{0x00, 0x00, 0x00, 0x53}},
		{Cmd: 0x2B, Data: []byte{0x00, 0x00, 0x00, 0x53}},
		{Cmd: 0x2C},
	})
}

func TestSetWindowHighByte(t *testing.T) {
	g := Geometry{Width: 320, Height: 300, MemWidth: 320, MemHeight: 300}
	r := newRig(&Opts{Geometry: g}, true)
	w := AddressWindow{ColStart: 0x100, ColEnd: 0x13F, RowStart: 0x0A, RowEnd: 0x12B}
	if err := r.dev.SetWindow(w); err != nil {
		t.Fatal(err)
	}
	got, _ := frames(r.rec.snapshot())
	if !bytes.Equal(got[0].Data, []byte{0x01, 0x00, 0x01, 0x3F}) {
		t.Errorf("CASET data = % X", got[0].Data)
	}
	if !bytes.Equal(got[1].Data, []byte{0x00, 0x0A, 0x01, 0x2B}) {
		t.Errorf("RASET data = % X", got[1].Data)
	}
}

func TestSetWindowValidation(t *testing.T) {
	tests := []struct {
		name string
		w    AddressWindow
	}{
		{"inverted columns", AddressWindow{ColStart: 10, ColEnd: 9, RowStart: 0, RowEnd: 0}},
		{"inverted rows", AddressWindow{ColStart: 0, ColEnd: 0, RowStart: 5, RowEnd: 4}},
		{"column past memory", AddressWindow{ColStart: 0, ColEnd: 128, RowStart: 0, RowEnd: 0}},
		{"row past memory", AddressWindow{ColStart: 0, ColEnd: 0, RowStart: 0, RowEnd: 200}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(&Opts{Geometry: flat}, true)
			if err := r.dev.SetWindow(tt.w); !errors.Is(err, ErrWindow) {
				t.Errorf("SetWindow(%v) error = %v, want ErrWindow", tt.w, err)
			}
			if len(r.rec.snapshot()) != 0 {
				t.Error("invalid window reached the bus")
			}
		})
	}
}

func pixelData(t *testing.T, r *rig) []byte {
	t.Helper()
	got, err := frames(r.rec.snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[2].Cmd != 0x2C {
		t.Fatalf("frames = %+v, want CASET, RASET, RAMWR", got)
	}
	return got[2].Data
}

func TestFlushByteOrder(t *testing.T) {
	fb := NewFrameBuffer(image.Rect(0, 0, 2, 2))
	copy(fb.Pix, []uint16{0xF800, 0x07E0, 0x001F, 0xFFFF})
	want := []byte{0xF8, 0x00, 0x07, 0xE0, 0x00, 0x1F, 0xFF, 0xFF}

	for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		t.Run(rot.String(), func(t *testing.T) {
			r := newRig(&Opts{Geometry: flat, Rotation: rot}, true)
			if err := r.dev.Flush(fb, fb.Bounds()); err != nil {
				t.Fatal(err)
			}
			if got := pixelData(t, r); !bytes.Equal(got, want) {
				t.Errorf("pixel data = % X, want % X", got, want)
			}
		})
	}
}

func TestFlushWindow(t *testing.T) {
	r := newRig(&Opts{Geometry: flat}, true)
	w := AddressWindow{ColStart: 4, ColEnd: 5, RowStart: 7, RowEnd: 8}
	if err := r.dev.FlushWindow([]uint16{0xF800, 0x07E0, 0x001F, 0xFFFF}, w); err != nil {
		t.Fatal(err)
	}
	got, _ := frames(r.rec.snapshot())
	compareFrames(t, got, []CommandFrame{
		{Cmd: 0x2A, Data: []byte{0x00, 0x04, 0x00, 0x05}},
		{Cmd: 0x2B, Data: []byte{0x00, 0x07, 0x00, 0x08}},
		{Cmd: 0x2C, Data: []byte{0xF8, 0x00, 0x07, 0xE0, 0x00, 0x1F, 0xFF, 0xFF}},
	})

	if err := r.dev.FlushWindow(make([]uint16, 3), w); !errors.Is(err, ErrBufferSize) {
		t.Errorf("FlushWindow(3 pixels) error = %v, want ErrBufferSize", err)
	}
}

func TestFlushIdempotent(t *testing.T) {
	fb := NewFrameBuffer(image.Rect(0, 0, 128, 128))
	for i := range fb.Pix {
		fb.Pix[i] = uint16(i * 37)
	}
	r := newRig(nil, true)
	rect := image.Rect(10, 20, 50, 60)

	if err := r.dev.Flush(fb, rect); err != nil {
		t.Fatal(err)
	}
	first := r.rec.snapshot()
	r.rec.reset()
	if err := r.dev.Flush(fb, rect); err != nil {
		t.Fatal(err)
	}
	second := r.rec.snapshot()

	if len(first) != len(second) {
		t.Fatalf("event count %d != %d", len(first), len(second))
	}
	for i := range first {
		if first[i].kind != second[i].kind || first[i].level != second[i].level || !bytes.Equal(first[i].data, second[i].data) {
			t.Fatalf("event %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestFlushAppliesOffsets(t *testing.T) {
	full := image.Rect(0, 0, 128, 128)
	tests := []struct {
		rot  Rotation
		want AddressWindow
	}{
		{Rotate0, AddressWindow{ColStart: 2, ColEnd: 129, RowStart: 1, RowEnd: 128}},
		{Rotate180, AddressWindow{ColStart: 2, ColEnd: 129, RowStart: 1, RowEnd: 128}},
		{Rotate90, AddressWindow{ColStart: 2, ColEnd: 129, RowStart: 1, RowEnd: 128}},
		{Rotate270, AddressWindow{ColStart: 2, ColEnd: 129, RowStart: 1, RowEnd: 128}},
	}
	for _, tt := range tests {
		t.Run(tt.rot.String(), func(t *testing.T) {
			r := newRig(&Opts{Rotation: tt.rot}, true)
			if err := r.dev.Flush(NewFrameBuffer(full), full); err != nil {
				t.Fatal(err)
			}
			got, _ := frames(r.rec.snapshot())
			w := tt.want
			if !bytes.Equal(got[0].Data, rangeBytes(w.ColStart, w.ColEnd)) ||
				!bytes.Equal(got[1].Data, rangeBytes(w.RowStart, w.RowEnd)) {
				t.Errorf("window = CASET % X RASET % X, want %v", got[0].Data, got[1].Data, w)
			}
			if len(got[2].Data) != 128*128*2 {
				t.Errorf("pixel bytes = %d, want %d", len(got[2].Data), 128*128*2)
			}
		})
	}
}

func TestFlushOffsetsIgnoreRotation(t *testing.T) {
	fb := NewFrameBuffer(image.Rect(0, 0, 128, 128))
	for _, rot := range []Rotation{Rotate0, Rotate90, Rotate180, Rotate270} {
		t.Run(rot.String(), func(t *testing.T) {
			r := newRig(&Opts{Rotation: rot}, true)
			if err := r.dev.Flush(fb, image.Rect(0, 0, 1, 1)); err != nil {
				t.Fatal(err)
			}
			got, _ := frames(r.rec.snapshot())
			if want := []byte{0x00, 0x02, 0x00, 0x02}; !bytes.Equal(got[0].Data, want) {
				t.Errorf("CASET = % X, want % X", got[0].Data, want)
			}
			if want := []byte{0x00, 0x01, 0x00, 0x01}; !bytes.Equal(got[1].Data, want) {
				t.Errorf("RASET = % X, want % X", got[1].Data, want)
			}
		})
	}
}

func TestFlushClipsRectangle(t *testing.T) {
	r := newRig(&Opts{Geometry: flat}, true)
	fb := NewFrameBuffer(image.Rect(0, 0, 128, 128))

	if err := r.dev.Flush(fb, image.Rect(120, 120, 300, 300)); err != nil {
		t.Fatal(err)
	}
	got, _ := frames(r.rec.snapshot())
	if !bytes.Equal(got[0].Data, []byte{0, 120, 0, 127}) {
		t.Errorf("clipped CASET = % X", got[0].Data)
	}
	if len(got[2].Data) != 8*8*2 {
		t.Errorf("clipped pixel bytes = %d, want %d", len(got[2].Data), 8*8*2)
	}

	r.rec.reset()
	if err := r.dev.Flush(fb, image.Rect(200, 200, 300, 300)); err != nil {
		t.Fatal(err)
	}
	if n := len(r.rec.snapshot()); n != 0 {
		t.Errorf("empty rectangle produced %d events", n)
	}
}

func TestFlushChunking(t *testing.T) {
	r := newRig(&Opts{Geometry: flat, MaxTxSize: 3}, true)
	fb := NewFrameBuffer(image.Rect(0, 0, 2, 2))
	copy(fb.Pix, []uint16{0xF800, 0x07E0, 0x001F, 0xFFFF})
	if err := r.dev.Flush(fb, fb.Bounds()); err != nil {
		t.Fatal(err)
	}

	ev := r.rec.snapshot()
	// Find the RAMWR command and inspect the data phase after it.
	start := -1
	for i, e := range ev {
		if e.kind == "tx" && len(e.data) == 1 && e.data[0] == 0x2C {
			start = i + 1
		}
	}
	if start < 0 {
		t.Fatal("no RAMWR command")
	}
	var sizes []int
	highs := 0
	for _, e := range ev[start:] {
		switch e.kind {
		case "dc":
			highs++
		case "tx":
			sizes = append(sizes, len(e.data))
		}
	}
	if highs != 1 {
		t.Errorf("DC driven %d times during the data phase, want 1", highs)
	}
	want := []int{3, 3, 2}
	if len(sizes) != len(want) {
		t.Fatalf("chunk sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Fatalf("chunk sizes = %v, want %v", sizes, want)
		}
	}
	if got := pixelData(t, r); !bytes.Equal(got, []byte{0xF8, 0x00, 0x07, 0xE0, 0x00, 0x1F, 0xFF, 0xFF}) {
		t.Errorf("reassembled data = % X", got)
	}
}

func TestMaxTxSizeFromConnLimits(t *testing.T) {
	rec := &recorder{}
	c := &limitedConn{fakeConn: fakeConn{rec: rec}, limit: 4096}
	dev, err := New(c, &fakePin{name: "dc", rec: rec}, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if dev.MaxTxSize() != 4096 {
		t.Errorf("MaxTxSize() = %d, want 4096", dev.MaxTxSize())
	}

	dev, err = New(c, &fakePin{name: "dc", rec: rec}, nil, &Opts{MaxTxSize: 64})
	if err != nil {
		t.Fatal(err)
	}
	if dev.MaxTxSize() != 64 {
		t.Errorf("MaxTxSize() with override = %d, want 64", dev.MaxTxSize())
	}
}

func TestFlushBusErrorLeavesBufferIntact(t *testing.T) {
	r := newRig(&Opts{Geometry: flat}, true)
	fb := NewFrameBuffer(image.Rect(0, 0, 2, 2))
	copy(fb.Pix, []uint16{1, 2, 3, 4})
	r.rec.failAt = 6 // the pixel data transfer
	err := r.dev.Flush(fb, fb.Bounds())
	var be *BusError
	if !errors.As(err, &be) || be.Op != "data" || be.Cmd != 0x2C {
		t.Fatalf("Flush() error = %v, want data BusError on RAMWR", err)
	}
	for i, want := range []uint16{1, 2, 3, 4} {
		if fb.Pix[i] != want {
			t.Errorf("Pix[%d] = %d, want %d", i, fb.Pix[i], want)
		}
	}

	r.rec.failAt = 0
	r.rec.reset()
	if err := r.dev.Flush(fb, fb.Bounds()); err != nil {
		t.Fatalf("retry error = %v", err)
	}
}

func TestHalt(t *testing.T) {
	r := newRig(nil, true)
	if err := r.dev.Halt(); err != nil {
		t.Fatal(err)
	}
	got, _ := frames(r.rec.snapshot())
	compareFrames(t, got, []CommandFrame{{Cmd: 0x28}, {Cmd: 0x10}})

	fb := NewFrameBuffer(image.Rect(0, 0, 1, 1))
	checks := map[string]error{
		"Flush":         r.dev.Flush(fb, fb.Bounds()),
		"FlushWindow":   r.dev.FlushWindow([]uint16{0}, AddressWindow{}),
		"SetWindow":     r.dev.SetWindow(AddressWindow{}),
		"Initialize":    r.dev.Initialize(Rotate0, BGR),
		"HardwareReset": r.dev.HardwareReset(),
		"Send":          r.dev.Send(CommandFrame{Cmd: 0x00}),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrHalted) {
			t.Errorf("%s after Halt error = %v, want ErrHalted", name, err)
		}
	}
	if err := r.dev.Halt(); err != nil {
		t.Errorf("second Halt() error = %v", err)
	}
}

func TestReadID(t *testing.T) {
	r := newRig(nil, true)
	// 0x7C89F0 shifted right by one dummy bit.
	r.rec.reply = []byte{0x00, 0x3E, 0x44, 0xF8, 0x00}
	id, err := r.dev.ReadID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 0x7C89F0 {
		t.Errorf("ReadID() = 0x%06X, want 0x7C89F0", id)
	}

	w := newRig(&Opts{WriteOnly: true}, true)
	if _, err := w.dev.ReadID(); !errors.Is(err, ErrWriteOnly) {
		t.Errorf("ReadID() on write-only panel error = %v, want ErrWriteOnly", err)
	}
}

func TestConcurrentFlushesDoNotInterleave(t *testing.T) {
	r := newRig(&Opts{Geometry: flat}, true)
	fb := NewFrameBuffer(image.Rect(0, 0, 128, 128))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rect := image.Rect(i, i, i+4+i, i+3)
			if err := r.dev.Flush(fb, rect); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	got, err := frames(r.rec.snapshot())
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 8*3 {
		t.Fatalf("got %d frames, want %d", len(got), 8*3)
	}
	for i := 0; i < len(got); i += 3 {
		if got[i].Cmd != 0x2A || got[i+1].Cmd != 0x2B || got[i+2].Cmd != 0x2C {
			t.Fatalf("frames %d..%d = %02X %02X %02X, want 2A 2B 2C", i, i+2, got[i].Cmd, got[i+1].Cmd, got[i+2].Cmd)
		}
		cols := int(got[i].Data[3]) - int(got[i].Data[1]) + 1
		rows := int(got[i+1].Data[3]) - int(got[i+1].Data[1]) + 1
		if len(got[i+2].Data) != cols*rows*2 {
			t.Errorf("flush %d: %d pixel bytes for a %dx%d window", i/3, len(got[i+2].Data), cols, rows)
		}
	}
}

func TestNewValidation(t *testing.T) {
	rec := &recorder{}
	c := &fakeConn{rec: rec}
	dc := &fakePin{name: "dc", rec: rec}

	if _, err := New(c, nil, nil, nil); err == nil {
		t.Error("New without dc succeeded")
	}
	if _, err := New(c, dc, nil, &Opts{Rotation: 45}); !errors.Is(err, ErrRotation) {
		t.Errorf("New(rotation 45) error = %v", err)
	}
	bad := Geometry{Width: 130, Height: 128, MemWidth: 132, MemHeight: 132, LeftOffset: 4}
	if _, err := New(c, dc, nil, &Opts{Geometry: bad}); err == nil {
		t.Error("New with visible area past memory succeeded")
	}
	d, err := New(c, dc, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d.Geometry() != DefaultGeometry {
		t.Errorf("Geometry() = %+v, want DefaultGeometry", d.Geometry())
	}
	if want := "st7735.Dev{fake, 128x128, 0°}"; d.String() != want {
		t.Errorf("String() = %q, want %q", d.String(), want)
	}
}

func TestGeometryRotate(t *testing.T) {
	g := Geometry{Width: 160, Height: 80, MemWidth: 162, MemHeight: 132, LeftOffset: 1, TopOffset: 26}
	if got := g.Rotate(Rotate180); got != g {
		t.Errorf("Rotate(180) = %+v, want unchanged", got)
	}
	want := Geometry{Width: 80, Height: 160, MemWidth: 132, MemHeight: 162, LeftOffset: 1, TopOffset: 26}
	if got := g.Rotate(Rotate90); got != want {
		t.Errorf("Rotate(90) = %+v, want %+v", got, want)
	}
	if got := g.Rotate(Rotate90).Bounds(); got != image.Rect(0, 0, 80, 160) {
		t.Errorf("rotated bounds = %v", got)
	}
}

func TestFrameBufferAccess(t *testing.T) {
	fb := NewFrameBuffer(image.Rect(2, 3, 6, 5))
	fb.SetRGB565(5, 4, 0xF800)
	fb.SetRGB565(6, 4, 0x07E0) // outside, ignored
	tests := []struct {
		x, y int
		want uint16
	}{
		{5, 4, 0xF800},
		{2, 3, 0},
		{6, 4, 0},
		{1, 3, 0},
	}
	for _, tt := range tests {
		if got := fb.RGB565At(tt.x, tt.y); got != tt.want {
			t.Errorf("RGB565At(%d, %d) = %#04x, want %#04x", tt.x, tt.y, got, tt.want)
		}
	}
	if i := fb.PixOffset(5, 4); i != 7 || fb.Pix[i] != 0xF800 {
		t.Errorf("PixOffset(5, 4) = %d", i)
	}
}
