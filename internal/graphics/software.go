package graphics

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"sync"
	"sync/atomic"
)

// softwareDevice implements Device on plain RGBA buffers. It backs every
// platform's texture storage: even the DXGI capture path surrenders frames
// as RGBA once they leave the duplication API, so downstream stabilization
// and encoding operate on these surfaces everywhere.
type softwareDevice struct {
	guard  sync.Mutex
	pool   sync.Pool // *image.RGBA backings, reused across frames
	closed uint32    // atomic, CreateTexture runs concurrently with Close
}

// NewSoftwareDevice returns a Device whose textures live in process memory.
func NewSoftwareDevice() Device {
	return &softwareDevice{}
}

func (d *softwareDevice) CreateTexture(width, height int) (Texture, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("graphics: invalid texture size %dx%d", width, height)
	}
	if atomic.LoadUint32(&d.closed) == 1 {
		return nil, fmt.Errorf("graphics: device closed")
	}
	needed := width * height * 4
	var img *image.RGBA
	if v := d.pool.Get(); v != nil {
		img = v.(*image.RGBA)
	}
	if img == nil || cap(img.Pix) < needed {
		img = &image.RGBA{Pix: make([]byte, needed), Stride: width * 4, Rect: image.Rect(0, 0, width, height)}
	} else {
		img.Pix = img.Pix[:needed]
		img.Stride = width * 4
		img.Rect = image.Rect(0, 0, width, height)
	}
	t := &softwareTexture{dev: d, img: img}
	t.Fill(Blank)
	return t, nil
}

func (d *softwareDevice) Guard() sync.Locker { return &d.guard }

func (d *softwareDevice) Recoverable(err error) bool { return false }

func (d *softwareDevice) Close() error {
	atomic.StoreUint32(&d.closed, 1)
	return nil
}

type softwareTexture struct {
	dev *softwareDevice
	img *image.RGBA
}

func (t *softwareTexture) Bounds() image.Rectangle {
	if t.img == nil {
		return image.Rectangle{}
	}
	return t.img.Rect
}

func (t *softwareTexture) Fill(c color.RGBA) {
	if t.img == nil {
		return
	}
	draw.Draw(t.img, t.img.Rect, &image.Uniform{C: c}, image.Point{}, draw.Src)
}

func (t *softwareTexture) CopyFrom(src Texture, region image.Rectangle) error {
	if t.img == nil {
		return fmt.Errorf("graphics: copy into released texture")
	}
	if src == nil {
		return fmt.Errorf("graphics: copy from nil texture")
	}
	srcImg := src.RGBA()
	if srcImg == nil {
		return fmt.Errorf("graphics: copy from released texture")
	}
	dst := image.Rectangle{Min: image.Point{}, Max: region.Size()}
	draw.Draw(t.img, dst, srcImg, region.Min, draw.Src)
	return nil
}

func (t *softwareTexture) RGBA() *image.RGBA { return t.img }

func (t *softwareTexture) Release() {
	if t.img == nil {
		return
	}
	t.dev.pool.Put(t.img)
	t.img = nil
}

var _ Device = (*softwareDevice)(nil)
var _ Texture = (*softwareTexture)(nil)
