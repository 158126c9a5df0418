package record

import (
	"image"

	"github.com/kataras/golog"

	"github.com/halvore/screenrec/internal/graphics"
)

// PoolRecreator is the slice of the capture source the recovery policy
// needs: rebuilding the source's frame-buffering resource at a new size.
type PoolRecreator interface {
	RecreatePool(size image.Point) error
}

// Recovery recreates graphics resources after a content resize or device
// loss. Resize keeps the current device and only rebuilds the frame pool;
// a lost device is replaced wholesale, retrying creation until it succeeds.
// The exchange's open/closed state is never touched here.
type Recovery struct {
	log     *golog.Logger
	factory graphics.Factory
	pool    PoolRecreator
	device  graphics.Device
}

// NewRecovery wires the recovery policy to a device factory, the capture
// source's pool, and the initially created device.
func NewRecovery(factory graphics.Factory, pool PoolRecreator, device graphics.Device) *Recovery {
	return &Recovery{
		log:     golog.Child("[recovery]"),
		factory: factory,
		pool:    pool,
		device:  device,
	}
}

// Device returns the currently active device.
func (r *Recovery) Device() graphics.Device {
	return r.device
}

// Recoverable reports whether err is a device loss the Reset loop can cure.
func (r *Recovery) Recoverable(err error) bool {
	if r.device == nil {
		return false
	}
	return r.device.Recoverable(err)
}

// Resize recreates the frame pool at size on the existing device. A pool
// recreation that itself hits device loss escalates to a full Reset; the
// replacement device is returned so the caller can rebind anything still
// holding the old one.
func (r *Recovery) Resize(size image.Point) (graphics.Device, error) {
	err := r.pool.RecreatePool(size)
	if err == nil {
		return nil, nil
	}
	if r.Recoverable(err) {
		r.log.Warnf("pool recreation hit device loss: %v", err)
		return r.Reset(size), nil
	}
	return nil, err
}

// Reset discards the current device and loops until a replacement device
// and frame pool are both constructed. Creation failures are retried, not
// propagated; the platform eventually hands back a usable device. Returns
// the new device.
func (r *Recovery) Reset(size image.Point) graphics.Device {
	if r.device != nil {
		r.device.Close()
		r.device = nil
	}
	attempt := 0
	for {
		attempt++
		dev, err := r.factory()
		if err != nil {
			r.log.Warnf("device creation failed (attempt %d): %v", attempt, err)
			continue
		}
		r.device = dev
		if err := r.pool.RecreatePool(size); err != nil {
			if dev.Recoverable(err) {
				r.log.Warnf("pool recreation failed on new device (attempt %d): %v", attempt, err)
				dev.Close()
				r.device = nil
				continue
			}
			// Pool failed for a non-device reason; keep the device and
			// let the next frame's resize path report it.
			r.log.Errorf("pool recreation failed: %v", err)
		}
		r.log.Infof("device recovered after %d attempt(s)", attempt)
		return dev
	}
}

// Close releases the active device.
func (r *Recovery) Close() {
	if r.device != nil {
		r.device.Close()
		r.device = nil
	}
}
