package record

import (
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/halvore/screenrec/internal/graphics"
)

const pullTimeout = 2 * time.Second

// fakePool records RecreatePool calls in place of a capture session.
type fakePool struct {
	mu    sync.Mutex
	calls []image.Point
	err   error
}

func (p *fakePool) RecreatePool(size image.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, size)
	return nil
}

func (p *fakePool) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// flakyDevice wraps the software device and fails a configured number of
// texture creations, optionally classifying the failure as recoverable.
type flakyDevice struct {
	graphics.Device
	mu          sync.Mutex
	failCreates int
	failErr     error
	recoverable bool
}

func (d *flakyDevice) CreateTexture(w, h int) (graphics.Texture, error) {
	d.mu.Lock()
	if d.failCreates > 0 {
		d.failCreates--
		err := d.failErr
		d.mu.Unlock()
		return nil, err
	}
	d.mu.Unlock()
	return d.Device.CreateTexture(w, h)
}

func (d *flakyDevice) Recoverable(err error) bool {
	return err != nil && d.recoverable
}

func newTestExchange(t *testing.T, width, height int, pool *fakePool, onTeardown func()) (*Exchange, graphics.Device) {
	t.Helper()
	dev := graphics.NewSoftwareDevice()
	stab, err := NewStabilizer(dev, width, height)
	if err != nil {
		t.Fatalf("stabilizer: %v", err)
	}
	factory := func() (graphics.Device, error) { return graphics.NewSoftwareDevice(), nil }
	rec := NewRecovery(factory, pool, dev)
	return NewExchange(stab, rec, image.Point{}, onTeardown), dev
}

func makeFrame(t *testing.T, dev graphics.Device, size image.Point, ts time.Duration, c color.RGBA) *Frame {
	t.Helper()
	tex, err := dev.CreateTexture(size.X, size.Y)
	if err != nil {
		t.Fatalf("frame texture: %v", err)
	}
	tex.Fill(c)
	return &Frame{Texture: tex, Timestamp: ts, ContentSize: size}
}

// pullAsync runs one Pull on its own goroutine, the way the pump thread does.
func pullAsync(e *Exchange) (<-chan *Frame, <-chan error) {
	frames := make(chan *Frame, 1)
	errs := make(chan error, 1)
	go func() {
		f, err := e.Pull()
		if err != nil {
			errs <- err
			return
		}
		frames <- f
	}()
	return frames, errs
}
