package record

import (
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"

	"github.com/kataras/golog"
)

// ErrClosed is returned by Pull once the exchange has been closed; no frame
// will ever be delivered after a caller has observed it.
var ErrClosed = errors.New("record: exchange closed")

// errRetryFrame marks a frame sacrificed to device recovery; Pull drops it
// and waits for the next one instead of surfacing an error.
var errRetryFrame = errors.New("record: frame dropped for recovery")

// Exchange is the single-slot handoff between the capture callback thread
// and the pump thread. Push overwrites any unconsumed frame (latest wins,
// no history); Pull blocks until a frame arrives or the exchange closes,
// with closure taking precedence when both are pending. Closing is the only
// cancellation mechanism; Pull has no timeout.
//
// Only one outstanding Pull is supported at a time.
type Exchange struct {
	log     *golog.Logger
	stab    *Stabilizer
	rec     *Recovery
	metrics *sessionMetrics

	mu      sync.Mutex
	cond    *sync.Cond
	current *Frame
	closed  bool

	// lastSize is touched only on the pull thread after construction.
	lastSize   image.Point
	torn       uint32
	onTeardown func()
}

// NewExchange creates an exchange whose pulls stabilize frames via stab and
// recover graphics resources via rec. initialSize is the content size the
// source starts delivering at, so the first frame does not trigger a
// spurious pool recreation; zero falls back to the stabilizer's output
// size. onTeardown, if non-nil, runs exactly once when the exchange tears
// down, regardless of how many times closure or disposal is signalled.
func NewExchange(stab *Stabilizer, rec *Recovery, initialSize image.Point, onTeardown func()) *Exchange {
	e := &Exchange{
		log:        golog.Child("[exchange]"),
		stab:       stab,
		rec:        rec,
		metrics:    newSessionMetrics(),
		lastSize:   initialSize,
		onTeardown: onTeardown,
	}
	if e.lastSize == (image.Point{}) && stab != nil {
		e.lastSize = stab.Size()
	}
	e.cond = sync.NewCond(&e.mu)
	return e
}

// Push stores f as the current frame, releasing any unconsumed predecessor,
// and wakes a blocked Pull. Never blocks. Called from the capture callback
// thread; frames pushed after Close are released immediately.
func (e *Exchange) Push(f *Frame) {
	if f == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		f.Release()
		return
	}
	prev := e.current
	e.current = f
	e.cond.Signal()
	e.mu.Unlock()
	if prev != nil {
		prev.Release()
	}
	e.metrics.addPush(prev != nil)
}

// Pull blocks until a frame is available or the exchange closes, then
// returns the stabilized frame. Returns ErrClosed after closure, running
// teardown on the way out. Content-size changes and recoverable device
// errors are absorbed here: the pool (and device, when lost) is recreated
// and Pull keeps waiting for the next frame.
func (e *Exchange) Pull() (*Frame, error) {
	for {
		e.mu.Lock()
		for e.current == nil && !e.closed {
			e.cond.Wait()
		}
		if e.closed {
			// Closed wins even when a frame is pending.
			leftover := e.current
			e.current = nil
			e.mu.Unlock()
			if leftover != nil {
				leftover.Release()
			}
			e.teardown()
			return nil, ErrClosed
		}
		raw := e.current
		e.current = nil
		e.mu.Unlock()

		stable, err := e.process(raw)
		if err == nil {
			e.metrics.addPull()
			return stable, nil
		}
		if errors.Is(err, errRetryFrame) {
			continue
		}
		e.metrics.setError(err)
		return nil, err
	}
}

// process runs the resize check and stabilization for one raw frame,
// consuming it. Device loss is cured in place; the frame that hit it is
// dropped and errRetryFrame returned.
func (e *Exchange) process(raw *Frame) (*Frame, error) {
	if raw.ContentSize.X != e.lastSize.X || raw.ContentSize.Y != e.lastSize.Y {
		e.log.Infof("content size changed %dx%d -> %dx%d, recreating pool",
			e.lastSize.X, e.lastSize.Y, raw.ContentSize.X, raw.ContentSize.Y)
		replaced, err := e.rec.Resize(raw.ContentSize)
		if err != nil {
			raw.Release()
			return nil, fmt.Errorf("record: pool resize: %w", err)
		}
		if replaced != nil {
			// The resize escalated to a device replacement; rebind the
			// stabilizer before it touches the closed device.
			e.metrics.addRecovery()
			if resetErr := e.stab.Reset(replaced); resetErr != nil {
				raw.Release()
				return nil, fmt.Errorf("record: stabilizer reset: %w", resetErr)
			}
		}
		e.lastSize = raw.ContentSize
	}

	stable, err := e.stab.Stabilize(raw)
	ts, size := raw.Timestamp, raw.ContentSize
	raw.Release()
	if err != nil {
		if e.rec.Recoverable(err) {
			e.log.Warnf("device lost during stabilize: %v", err)
			e.metrics.addRecovery()
			dev := e.rec.Reset(size)
			if resetErr := e.stab.Reset(dev); resetErr != nil {
				return nil, fmt.Errorf("record: stabilizer reset: %w", resetErr)
			}
			return nil, errRetryFrame
		}
		return nil, fmt.Errorf("record: stabilize: %w", err)
	}
	return &Frame{Texture: stable, Timestamp: ts, ContentSize: size}, nil
}

// Close marks the exchange closed and wakes a blocked Pull. Idempotent and
// callable from any thread; used by the source's session-closed callback.
func (e *Exchange) Close() {
	e.mu.Lock()
	e.closed = true
	e.cond.Broadcast()
	e.mu.Unlock()
}

// Dispose closes the exchange and runs teardown immediately. Safe to call
// at any time and concurrently with a Pull observing closure; the release
// steps run once.
func (e *Exchange) Dispose() {
	e.Close()
	e.teardown()
}

// Metrics returns a snapshot of pipeline counters.
func (e *Exchange) Metrics() MetricsSnapshot {
	return e.metrics.snapshot()
}

func (e *Exchange) teardown() {
	if !atomic.CompareAndSwapUint32(&e.torn, 0, 1) {
		return
	}
	e.mu.Lock()
	leftover := e.current
	e.current = nil
	e.mu.Unlock()
	if leftover != nil {
		leftover.Release()
	}
	if e.stab != nil {
		e.stab.Release()
	}
	if e.rec != nil {
		e.rec.Close()
	}
	if e.onTeardown != nil {
		e.onTeardown()
	}
	e.log.Debug("exchange torn down")
}
