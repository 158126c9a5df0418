//go:build windows

package capture

import (
	"errors"
	"fmt"
	"image"
	"runtime"
	"sync"
	"time"

	"github.com/kataras/golog"
	"github.com/kirides/go-d3d/d3d11"
	"github.com/kirides/go-d3d/outputduplication"

	"github.com/halvore/screenrec/internal/graphics"
)

var logger = golog.Child("[capture]")

// d3dHandles is implemented by the windows graphics device; the duplication
// session shares its native device pair.
type d3dHandles interface {
	D3D11Handles() (*d3d11.ID3D11Device, *d3d11.ID3D11DeviceContext)
}

type dxgiSession struct {
	device  graphics.Device
	cfg     Config
	bounds  image.Rectangle
	onFrame FrameHandler

	mu       sync.Mutex
	dup      *outputduplication.OutputDuplicator
	quit     chan struct{}
	quitOnce sync.Once
	started  bool
	closed   sync.Once
	onClosed func()
}

// NewDisplaySession creates a DXGI output-duplication session over the
// given display, sharing the graphics device's native D3D11 handles.
func NewDisplaySession(device graphics.Device, cfg Config) (Session, error) {
	if _, ok := device.(d3dHandles); !ok {
		return nil, fmt.Errorf("capture: device has no D3D11 handles")
	}
	bounds, err := DisplayBounds(cfg.Display)
	if err != nil {
		return nil, err
	}
	s := &dxgiSession{
		device: device,
		cfg:    cfg,
		bounds: bounds,
		quit:   make(chan struct{}),
	}
	if err := s.RecreatePool(bounds.Size()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *dxgiSession) OnFrame(h FrameHandler) { s.onFrame = h }

func (s *dxgiSession) OnClosed(fn func()) { s.onClosed = fn }

// RecreatePool rebuilds the duplication interface. DXGI sizes the
// duplication to the output itself, so size only refreshes our notion of
// the capture bounds.
func (s *dxgiSession) RecreatePool(size image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dup != nil {
		s.dup.Release()
		s.dup = nil
	}
	dev, devCtx := s.device.(d3dHandles).D3D11Handles()
	dup, err := outputduplication.NewIDXGIOutputDuplication(dev, devCtx, uint(s.cfg.Display))
	if err != nil {
		return fmt.Errorf("capture: output duplication: %w", err)
	}
	s.dup = dup
	if size.X > 0 && size.Y > 0 {
		s.bounds = image.Rectangle{Max: size}
	}
	return nil
}

func (s *dxgiSession) Start() error {
	if s.onFrame == nil {
		return fmt.Errorf("capture: no frame handler registered")
	}
	if s.started {
		return nil
	}
	s.started = true
	go s.loop()
	return nil
}

// loop runs on its own locked OS thread so D3D/DXGI thread-local state
// stays valid for the lifetime of the duplication.
func (s *dxgiSession) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer s.signalClosed()
	defer s.releasePool()

	limiter := newFrameLimiter(s.cfg.FPS)
	start := time.Now()
	var deadline <-chan time.Time
	if s.cfg.Duration > 0 {
		deadline = time.After(s.cfg.Duration)
	}

	for {
		select {
		case <-s.quit:
			return
		case <-deadline:
			return
		default:
		}
		limiter.Wait()

		s.mu.Lock()
		size := s.bounds.Size()
		dup := s.dup
		s.mu.Unlock()
		if dup == nil {
			return
		}
		tex, err := s.device.CreateTexture(size.X, size.Y)
		if err != nil {
			logger.Errorf("frame texture: %v", err)
			return
		}
		err = dup.GetImage(tex.RGBA(), 0)
		if err != nil {
			tex.Release()
			if errors.Is(err, outputduplication.ErrNoImageYet) {
				continue
			}
			if s.device.Recoverable(err) {
				logger.Warnf("duplication lost, rebuilding: %v", err)
				if rerr := s.RecreatePool(size); rerr != nil {
					logger.Errorf("duplication rebuild failed: %v", rerr)
					return
				}
				continue
			}
			logger.Errorf("frame acquisition: %v", err)
			return
		}
		s.onFrame(tex, time.Since(start), size)
	}
}

func (s *dxgiSession) signalClosed() {
	s.closed.Do(func() {
		logger.Info("capture session closed")
		if s.onClosed != nil {
			s.onClosed()
		}
	})
}

func (s *dxgiSession) releasePool() {
	s.mu.Lock()
	if s.dup != nil {
		s.dup.Release()
		s.dup = nil
	}
	s.mu.Unlock()
}

func (s *dxgiSession) Close() error {
	s.quitOnce.Do(func() { close(s.quit) })
	if !s.started {
		s.releasePool()
		s.signalClosed()
	}
	return nil
}

var _ Session = (*dxgiSession)(nil)
