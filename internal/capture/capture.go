// Package capture wraps the platform screen-capture session. A session
// produces frames on its own thread at the display's cadence, delivering
// each one to a registered callback, and signals closure when capture ends.
// The Windows implementation uses DXGI output duplication; other platforms
// have no capture backend.
package capture

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"

	"github.com/halvore/screenrec/internal/graphics"
)

// ErrNotSupported is returned when no capture backend exists for this platform.
var ErrNotSupported = errors.New("capture: not supported on this platform")

// FrameHandler receives one captured frame: the texture holding its pixels,
// the timestamp relative to session start, and the logical content size.
// Ownership of the texture transfers to the handler.
type FrameHandler func(tex graphics.Texture, timestamp time.Duration, contentSize image.Point)

// Session is a running capture source.
type Session interface {
	// Start begins frame delivery. Callbacks must be registered first.
	Start() error
	// OnFrame registers the new-frame callback.
	OnFrame(h FrameHandler)
	// OnClosed registers the session-closed callback, invoked once when
	// capture stops for any reason.
	OnClosed(fn func())
	// RecreatePool rebuilds the session's frame-buffering resource at the
	// given content size. Called by the recovery policy.
	RecreatePool(size image.Point) error
	// Close stops capture. Idempotent.
	Close() error
}

// Config selects what and how to capture.
type Config struct {
	Display  int           // display index, 0-based
	FPS      int           // target frame rate
	Duration time.Duration // stop after this long; 0 means until Close
}

// NumDisplays returns the number of active displays.
func NumDisplays() int {
	return screenshot.NumActiveDisplays()
}

// DisplayBounds returns the pixel bounds of the given display.
func DisplayBounds(index int) (image.Rectangle, error) {
	if index < 0 || index >= screenshot.NumActiveDisplays() {
		return image.Rectangle{}, fmt.Errorf("capture: display %d not found (%d active)", index, screenshot.NumActiveDisplays())
	}
	return screenshot.GetDisplayBounds(index), nil
}
