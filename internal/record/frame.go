// Package record implements the capture-to-encoder pipeline core: the
// single-slot frame exchange between the capture callback thread and the
// encode pump, device/pool recovery, frame stabilization onto fixed-size
// surfaces, and the pump that feeds the pull-based transcoding engine.
package record

import (
	"image"
	"time"

	"github.com/halvore/screenrec/internal/graphics"
)

// Frame is one captured image: a device texture plus the capture timestamp
// (relative to session start) and the logical content size, which may be
// smaller than the texture's backing allocation.
//
// A Frame is exclusively owned by whichever component currently holds it;
// the holder releases the texture when done or when overwriting it.
type Frame struct {
	Texture     graphics.Texture
	Timestamp   time.Duration
	ContentSize image.Point
}

// Release returns the frame's texture storage to its device.
func (f *Frame) Release() {
	if f == nil || f.Texture == nil {
		return
	}
	f.Texture.Release()
	f.Texture = nil
}
