package record

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kataras/golog"

	"github.com/halvore/screenrec/internal/graphics"
)

// Pump states. Stopped is terminal.
const (
	stateIdle int32 = iota
	stateRecording
	stateStopped
)

// Sample is one unit handed to the transcoding engine: the stabilized
// texture plus its capture timestamp.
type Sample struct {
	Texture   graphics.Texture
	Timestamp time.Duration
}

// Release frees the sample's texture.
func (s *Sample) Release() {
	if s == nil || s.Texture == nil {
		return
	}
	s.Texture.Release()
	s.Texture = nil
}

// Pump drives the transcoding engine's pull protocol from the frame
// exchange: it answers the engine's start-position query with the first
// frame's timestamp and then supplies one sample per request, signalling
// end-of-stream once the exchange closes. The engine calls in synchronously
// from its own thread; every call blocks inside Exchange.Pull.
type Pump struct {
	log      *golog.Logger
	exchange *Exchange
	state    int32
	// pending holds the peeked start-position frame so it is also the
	// first sample delivered, not consumed twice. Guarded against a
	// Dispose racing the engine thread.
	pendingMu sync.Mutex
	pending   *Sample
	tap       func(*Sample)
}

// NewPump creates a pump over the exchange. tap, if non-nil, is invoked
// with each produced sample before it is handed to the engine; it must not
// block and must not retain the sample's texture.
func NewPump(exchange *Exchange, tap func(*Sample)) *Pump {
	return &Pump{
		log:      golog.Child("[pump]"),
		exchange: exchange,
		tap:      tap,
	}
}

// Start moves the pump from Idle to Recording. Further Start calls while
// recording or stopped are no-ops.
func (p *Pump) Start() {
	if atomic.CompareAndSwapInt32(&p.state, stateIdle, stateRecording) {
		p.log.Info("recording started")
	}
}

// StartPosition answers the engine's initial query by peeking the first
// frame and reporting its timestamp. The peeked frame is retained and
// becomes the first sample NextSample returns. Reports ok=false when the
// stream ended before any frame arrived or the pump is not recording.
func (p *Pump) StartPosition() (time.Duration, bool) {
	if atomic.LoadInt32(&p.state) != stateRecording {
		return 0, false
	}
	if s := p.takePending(); s != nil {
		p.setPending(s)
		return s.Timestamp, true
	}
	frame, err := p.exchange.Pull()
	if err != nil {
		p.finish(err)
		return 0, false
	}
	s := &Sample{Texture: frame.Texture, Timestamp: frame.Timestamp}
	p.setPending(s)
	return s.Timestamp, true
}

// NextSample produces the next sample for the engine, or ok=false to signal
// end-of-stream. Stream termination (normal closure or an unrecoverable
// stabilization failure) is never surfaced as an error: the engine has no
// recovery path for a failing sample callback, so the pump logs, signals
// end-of-stream, and tears down instead.
func (p *Pump) NextSample() (*Sample, bool) {
	if atomic.LoadInt32(&p.state) != stateRecording {
		return nil, false
	}
	if s := p.takePending(); s != nil {
		p.offer(s)
		return s, true
	}
	frame, err := p.exchange.Pull()
	if err != nil {
		p.finish(err)
		return nil, false
	}
	s := &Sample{Texture: frame.Texture, Timestamp: frame.Timestamp}
	p.offer(s)
	return s, true
}

// Dispose stops the pump and tears down the exchange. Idempotent, safe from
// any thread, and safe concurrently with the pump's own drain teardown.
func (p *Pump) Dispose() {
	prev := atomic.SwapInt32(&p.state, stateStopped)
	if prev != stateStopped {
		p.log.Info("pump disposed")
	}
	if s := p.takePending(); s != nil {
		s.Release()
	}
	p.exchange.Dispose()
}

func (p *Pump) takePending() *Sample {
	p.pendingMu.Lock()
	s := p.pending
	p.pending = nil
	p.pendingMu.Unlock()
	return s
}

func (p *Pump) setPending(s *Sample) {
	p.pendingMu.Lock()
	p.pending = s
	p.pendingMu.Unlock()
}

// Stopped reports whether the pump has reached its terminal state.
func (p *Pump) Stopped() bool {
	return atomic.LoadInt32(&p.state) == stateStopped
}

func (p *Pump) offer(s *Sample) {
	if p.tap != nil {
		p.tap(s)
	}
}

// finish transitions to Stopped after the exchange reported closure or an
// unrecoverable failure. Exchange.Pull has already run teardown for the
// closure path; disposal here is the guarded no-op that makes the two
// paths meet exactly once.
func (p *Pump) finish(err error) {
	if err != nil && !errors.Is(err, ErrClosed) {
		p.log.Errorf("sample production failed, ending stream: %v", err)
	} else {
		p.log.Info("stream closed, signalling end of stream")
	}
	atomic.StoreInt32(&p.state, stateStopped)
	p.exchange.Dispose()
}
