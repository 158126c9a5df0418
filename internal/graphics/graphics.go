// Package graphics abstracts the machine's graphics device for the recording
// pipeline: texture allocation, clear/copy primitives, the guard that
// serializes multithreaded device access, and classification of device-loss
// errors. The recording core only ever talks to these interfaces; the
// D3D11-backed implementation lives behind a windows build tag.
package graphics

import (
	"errors"
	"image"
	"image/color"
	"sync"
)

// Blank is the clear color stabilized surfaces are filled with before each
// copy, so shrinking content leaves a black border instead of stale pixels.
var Blank = color.RGBA{R: 0, G: 0, B: 0, A: 255}

// ErrDeviceLost reports that the device behind a texture operation has been
// invalidated and must be recreated before further use.
var ErrDeviceLost = errors.New("graphics: device lost")

// Texture is a device-owned image surface of fixed dimensions.
type Texture interface {
	// Bounds returns the texture's backing dimensions, origin at (0,0).
	Bounds() image.Rectangle
	// Fill overwrites every pixel with c.
	Fill(c color.RGBA)
	// CopyFrom copies region from src into this texture at the origin.
	// The caller is responsible for clamping region to both surfaces.
	CopyFrom(src Texture, region image.Rectangle) error
	// RGBA exposes the texture's pixels for readback. The returned image
	// aliases the texture's storage and is only valid until Release.
	RGBA() *image.RGBA
	// Release returns the texture's storage to the device. Idempotent.
	Release()
}

// Device owns a graphics context and allocates textures on it.
type Device interface {
	// CreateTexture allocates a width x height texture, filled with Blank.
	CreateTexture(width, height int) (Texture, error)
	// Guard returns the device's multithread-protection lock. Any texture
	// copy or clear that may run concurrently with other device use must
	// hold it.
	Guard() sync.Locker
	// Recoverable reports whether err indicates device loss that a fresh
	// device would cure, as opposed to a permanent failure.
	Recoverable(err error) bool
	// Close releases the device context. Textures created on the device
	// must not be used afterwards.
	Close() error
}

// Factory creates a device. Creation is fallible and may transiently fail
// right after a device reset; callers retry.
type Factory func() (Device, error)
