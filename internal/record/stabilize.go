package record

import (
	"fmt"
	"image"

	"github.com/halvore/screenrec/internal/graphics"
)

// Stabilizer turns variably-sized raw frames into fixed-size surfaces the
// encoder can rely on. Each Stabilize clears an independently-owned
// destination to the blank color and copies only the frame's content region
// into it, so a shrink leaves a blank border rather than stale pixels.
type Stabilizer struct {
	device graphics.Device
	blank  graphics.Texture
	size   image.Point
}

// NewStabilizer allocates the fixed blank staging texture at the session's
// output dimensions on the given device.
func NewStabilizer(device graphics.Device, width, height int) (*Stabilizer, error) {
	blank, err := device.CreateTexture(width, height)
	if err != nil {
		return nil, fmt.Errorf("record: blank texture: %w", err)
	}
	return &Stabilizer{
		device: device,
		blank:  blank,
		size:   image.Pt(width, height),
	}, nil
}

// Size returns the fixed output dimensions.
func (s *Stabilizer) Size() image.Point {
	return s.size
}

// Stabilize copies f's content into a fresh fixed-size texture and returns
// it. The copy region is the content size clamped to both the frame's
// backing allocation and the output dimensions, so a reported size that
// exceeds either never produces an out-of-bounds copy. The device guard is
// held across the clear and copy and released on every path.
func (s *Stabilizer) Stabilize(f *Frame) (graphics.Texture, error) {
	if f == nil || f.Texture == nil {
		return nil, fmt.Errorf("record: stabilize nil frame")
	}
	guard := s.device.Guard()
	guard.Lock()
	defer guard.Unlock()

	dst, err := s.device.CreateTexture(s.size.X, s.size.Y)
	if err != nil {
		return nil, err
	}
	if err := dst.CopyFrom(s.blank, s.blank.Bounds()); err != nil {
		dst.Release()
		return nil, err
	}

	backing := f.Texture.Bounds()
	w := clamp(f.ContentSize.X, 0, backing.Dx())
	h := clamp(f.ContentSize.Y, 0, backing.Dy())
	w = clamp(w, 0, s.size.X)
	h = clamp(h, 0, s.size.Y)
	if w > 0 && h > 0 {
		if err := dst.CopyFrom(f.Texture, image.Rect(0, 0, w, h)); err != nil {
			dst.Release()
			return nil, err
		}
	}
	return dst, nil
}

// Reset rebinds the stabilizer to a freshly recovered device, recreating
// the blank staging texture at the same fixed size.
func (s *Stabilizer) Reset(device graphics.Device) error {
	if s.blank != nil {
		s.blank.Release()
		s.blank = nil
	}
	blank, err := device.CreateTexture(s.size.X, s.size.Y)
	if err != nil {
		return fmt.Errorf("record: blank texture: %w", err)
	}
	s.device = device
	s.blank = blank
	return nil
}

// Release frees the blank staging texture. Idempotent.
func (s *Stabilizer) Release() {
	if s.blank != nil {
		s.blank.Release()
		s.blank = nil
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
