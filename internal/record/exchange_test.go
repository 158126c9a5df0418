package record

import (
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/halvore/screenrec/internal/graphics"
)

var (
	white = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	red   = color.RGBA{R: 255, A: 255}
)

func TestPushOverwritesUnconsumedFrame(t *testing.T) {
	pool := &fakePool{}
	ex, dev := newTestExchange(t, 64, 64, pool, nil)
	defer ex.Dispose()

	frameA := makeFrame(t, dev, image.Pt(64, 64), 10*time.Millisecond, white)
	frameB := makeFrame(t, dev, image.Pt(64, 64), 20*time.Millisecond, white)
	ex.Push(frameA)
	ex.Push(frameB)

	if frameA.Texture != nil {
		t.Fatalf("expected overwritten frame to be released")
	}

	got, err := ex.Pull()
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer got.Release()
	if got.Timestamp != 20*time.Millisecond {
		t.Fatalf("expected frame B (20ms), got %s", got.Timestamp)
	}

	m := ex.Metrics()
	if m.Pushed != 2 || m.Dropped != 1 {
		t.Fatalf("expected 2 pushed / 1 dropped, got %d / %d", m.Pushed, m.Dropped)
	}
}

func TestPullBlocksUntilPush(t *testing.T) {
	ex, dev := newTestExchange(t, 64, 64, &fakePool{}, nil)
	defer ex.Dispose()

	frames, errs := pullAsync(ex)
	select {
	case f := <-frames:
		t.Fatalf("pull returned %v before any push", f)
	case err := <-errs:
		t.Fatalf("pull failed before any push: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	ex.Push(makeFrame(t, dev, image.Pt(64, 64), time.Millisecond, white))
	select {
	case f := <-frames:
		f.Release()
	case err := <-errs:
		t.Fatalf("pull: %v", err)
	case <-time.After(pullTimeout):
		t.Fatalf("pull did not wake after push")
	}
}

func TestClosedTakesPrecedenceOverPendingFrame(t *testing.T) {
	ex, dev := newTestExchange(t, 64, 64, &fakePool{}, nil)

	frame := makeFrame(t, dev, image.Pt(64, 64), time.Millisecond, white)
	ex.Push(frame)
	ex.Close()

	if _, err := ex.Pull(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed with frame pending, got %v", err)
	}
	if frame.Texture != nil {
		t.Fatalf("expected pending frame to be released on closure")
	}
}

func TestCloseWakesBlockedPull(t *testing.T) {
	ex, _ := newTestExchange(t, 64, 64, &fakePool{}, nil)

	frames, errs := pullAsync(ex)
	time.Sleep(20 * time.Millisecond)
	ex.Close()

	select {
	case f := <-frames:
		t.Fatalf("expected closure, got frame %v", f)
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(pullTimeout):
		t.Fatalf("pull did not wake after close")
	}
}

func TestPushAfterCloseIsReleased(t *testing.T) {
	ex, dev := newTestExchange(t, 64, 64, &fakePool{}, nil)
	defer ex.Dispose()

	ex.Close()
	frame := makeFrame(t, dev, image.Pt(64, 64), time.Millisecond, white)
	ex.Push(frame)
	if frame.Texture != nil {
		t.Fatalf("expected push after close to release the frame")
	}
}

func TestTeardownRunsExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	teardowns := 0
	ex, _ := newTestExchange(t, 64, 64, &fakePool{}, func() {
		mu.Lock()
		teardowns++
		mu.Unlock()
	})

	// A blocked pull observing closure and two concurrent disposals all
	// funnel into the same guarded teardown.
	_, errs := pullAsync(ex)
	time.Sleep(10 * time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ex.Dispose()
		}()
	}
	wg.Wait()

	select {
	case err := <-errs:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed, got %v", err)
		}
	case <-time.After(pullTimeout):
		t.Fatalf("pull did not observe closure")
	}
	ex.Dispose()

	mu.Lock()
	defer mu.Unlock()
	if teardowns != 1 {
		t.Fatalf("expected exactly one teardown, got %d", teardowns)
	}
}

func TestResizeRecreatesPoolAndKeepsPulling(t *testing.T) {
	pool := &fakePool{}
	ex, dev := newTestExchange(t, 64, 64, pool, nil)
	defer ex.Dispose()

	ex.Push(makeFrame(t, dev, image.Pt(32, 32), time.Millisecond, white))
	got, err := ex.Pull()
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer got.Release()

	if pool.callCount() != 1 {
		t.Fatalf("expected one pool recreation, got %d", pool.callCount())
	}
	if b := got.Texture.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected stabilized 64x64 surface, got %dx%d", b.Dx(), b.Dy())
	}

	// Same size again: no further recreation.
	ex.Push(makeFrame(t, dev, image.Pt(32, 32), 2*time.Millisecond, white))
	next, err := ex.Pull()
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	next.Release()
	if pool.callCount() != 1 {
		t.Fatalf("expected pool recreation count to stay at 1, got %d", pool.callCount())
	}
}

func TestDeviceLossDuringStabilizeIsInvisible(t *testing.T) {
	pool := &fakePool{}
	lossErr := errors.New("fake device removed")
	flaky := &flakyDevice{
		Device:      graphics.NewSoftwareDevice(),
		failErr:     lossErr,
		recoverable: true,
	}
	stab, err := NewStabilizer(flaky, 64, 64)
	if err != nil {
		t.Fatalf("stabilizer: %v", err)
	}
	// Arm the failure only after the blank texture exists, so the first
	// Stabilize is what hits the loss.
	flaky.mu.Lock()
	flaky.failCreates = 1
	flaky.mu.Unlock()
	factory := func() (graphics.Device, error) { return graphics.NewSoftwareDevice(), nil }
	rec := NewRecovery(factory, pool, flaky)
	ex := NewExchange(stab, rec, image.Point{}, nil)
	defer ex.Dispose()

	// First frame hits the device loss inside Stabilize and is sacrificed
	// to recovery; Pull keeps waiting and delivers the next frame.
	ex.Push(makeFrame(t, flaky.Device, image.Pt(64, 64), time.Millisecond, white))
	frames, errs := pullAsync(ex)

	select {
	case f := <-frames:
		t.Fatalf("expected pull to keep waiting after recovery, got frame at %s", f.Timestamp)
	case err := <-errs:
		t.Fatalf("expected recovery to absorb the loss, got %v", err)
	case <-time.After(100 * time.Millisecond):
	}

	// Frame textures are device-independent surfaces; a spare device keeps
	// the test off the recovery's internals.
	spare := graphics.NewSoftwareDevice()
	ex.Push(makeFrame(t, spare, image.Pt(64, 64), 2*time.Millisecond, red))
	select {
	case f := <-frames:
		if f.Timestamp != 2*time.Millisecond {
			t.Fatalf("expected post-recovery frame, got %s", f.Timestamp)
		}
		f.Release()
	case err := <-errs:
		t.Fatalf("pull after recovery: %v", err)
	case <-time.After(pullTimeout):
		t.Fatalf("pull did not resume after recovery")
	}

	if ex.Metrics().Recoveries != 1 {
		t.Fatalf("expected one recorded recovery, got %d", ex.Metrics().Recoveries)
	}
	if pool.callCount() == 0 {
		t.Fatalf("expected pool recreation during recovery")
	}
}

func TestResizeEscalationRebindsStabilizer(t *testing.T) {
	pool := &fakePool{err: errors.New("fake device removed")}
	flaky := &flakyDevice{Device: graphics.NewSoftwareDevice(), recoverable: true}
	stab, err := NewStabilizer(flaky, 64, 64)
	if err != nil {
		t.Fatalf("stabilizer: %v", err)
	}
	factory := func() (graphics.Device, error) {
		// The replacement device comes with a working pool.
		pool.mu.Lock()
		pool.err = nil
		pool.mu.Unlock()
		return graphics.NewSoftwareDevice(), nil
	}
	rec := NewRecovery(factory, pool, flaky)
	ex := NewExchange(stab, rec, image.Point{}, nil)
	defer ex.Dispose()

	// The smaller frame forces a resize whose pool recreation dies with the
	// device. The escalated replacement must reach the stabilizer too, or
	// the next stabilize runs against the closed device.
	ex.Push(makeFrame(t, flaky.Device, image.Pt(32, 32), time.Millisecond, white))
	got, err := ex.Pull()
	if err != nil {
		t.Fatalf("pull through escalated resize: %v", err)
	}
	defer got.Release()
	if b := got.Texture.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected stabilized 64x64 surface, got %dx%d", b.Dx(), b.Dy())
	}
	if ex.Metrics().Recoveries != 1 {
		t.Fatalf("expected one recorded recovery, got %d", ex.Metrics().Recoveries)
	}
}

func TestSeededSizeSkipsFirstFrameResize(t *testing.T) {
	pool := &fakePool{}
	dev := graphics.NewSoftwareDevice()
	stab, err := NewStabilizer(dev, 64, 64)
	if err != nil {
		t.Fatalf("stabilizer: %v", err)
	}
	factory := func() (graphics.Device, error) { return graphics.NewSoftwareDevice(), nil }
	rec := NewRecovery(factory, pool, dev)
	// The capture source reports the raw display size, which may exceed the
	// even-truncated stabilizer surface by a pixel on each axis.
	ex := NewExchange(stab, rec, image.Pt(65, 65), nil)
	defer ex.Dispose()

	ex.Push(makeFrame(t, dev, image.Pt(65, 65), time.Millisecond, white))
	got, err := ex.Pull()
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	defer got.Release()
	if pool.callCount() != 0 {
		t.Fatalf("expected no pool recreation for the seeded size, got %d", pool.callCount())
	}
	if b := got.Texture.Bounds(); b.Dx() != 64 || b.Dy() != 64 {
		t.Fatalf("expected clamped 64x64 surface, got %dx%d", b.Dx(), b.Dy())
	}

	// A genuine size change still recreates the pool.
	ex.Push(makeFrame(t, dev, image.Pt(33, 33), 2*time.Millisecond, white))
	next, err := ex.Pull()
	if err != nil {
		t.Fatalf("pull after size change: %v", err)
	}
	next.Release()
	if pool.callCount() != 1 {
		t.Fatalf("expected one pool recreation after a real size change, got %d", pool.callCount())
	}
}
