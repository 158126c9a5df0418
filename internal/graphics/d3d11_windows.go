//go:build windows

package graphics

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/kirides/go-d3d/d3d11"
)

// d3d11Device couples a real D3D11 device (used by the DXGI duplication
// session) with software texture storage for the frames the duplication API
// has already read back. Losing the D3D device invalidates the whole pair.
type d3d11Device struct {
	soft      Device
	device    *d3d11.ID3D11Device
	deviceCtx *d3d11.ID3D11DeviceContext
	closeOnce sync.Once
}

// NewDevice creates a D3D11 device for capture plus its texture storage.
// Creation fails transiently right after a GPU reset; callers retry.
func NewDevice() (Device, error) {
	device, deviceCtx, err := d3d11.NewD3D11Device()
	if err != nil {
		return nil, fmt.Errorf("graphics: d3d11 device creation: %w", err)
	}
	return &d3d11Device{
		soft:      NewSoftwareDevice(),
		device:    device,
		deviceCtx: deviceCtx,
	}, nil
}

// D3D11Handles exposes the native device pair for the duplication session.
func (d *d3d11Device) D3D11Handles() (*d3d11.ID3D11Device, *d3d11.ID3D11DeviceContext) {
	return d.device, d.deviceCtx
}

func (d *d3d11Device) CreateTexture(width, height int) (Texture, error) {
	return d.soft.CreateTexture(width, height)
}

func (d *d3d11Device) Guard() sync.Locker { return d.soft.Guard() }

// Recoverable classifies duplication errors that a fresh device cures.
// The DXGI layer reports loss as access-lost/device-removed HRESULTs; the
// wrapper library surfaces them by name in the error text.
func (d *d3d11Device) Recoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDeviceLost) {
		return true
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "ACCESS_LOST") ||
		strings.Contains(msg, "DEVICE_REMOVED") ||
		strings.Contains(msg, "DEVICE_RESET")
}

func (d *d3d11Device) Close() error {
	d.closeOnce.Do(func() {
		if d.deviceCtx != nil {
			d.deviceCtx.Release()
		}
		if d.device != nil {
			d.device.Release()
		}
	})
	return d.soft.Close()
}

var _ Device = (*d3d11Device)(nil)
