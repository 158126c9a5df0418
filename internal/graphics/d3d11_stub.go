//go:build !windows

package graphics

// NewDevice falls back to the software device on platforms without a D3D11
// capture path.
func NewDevice() (Device, error) {
	return NewSoftwareDevice(), nil
}
