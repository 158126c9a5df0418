//go:build !windows

package capture

import (
	"github.com/halvore/screenrec/internal/graphics"
)

// NewDisplaySession has no capture backend off Windows.
func NewDisplaySession(device graphics.Device, cfg Config) (Session, error) {
	return nil, ErrNotSupported
}
