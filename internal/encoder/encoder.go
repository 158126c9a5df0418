// Package encoder drives an external transcoding engine over the pump's
// pull protocol and writes the compressed container. The engine is an
// ffmpeg subprocess fed raw RGBA frames on stdin; codec and container
// settings are plain configuration, nothing here does codec math.
package encoder

import (
	"fmt"
	"io"
	"time"

	"github.com/halvore/screenrec/internal/record"
)

// Config describes the desired output properties for an encode session.
type Config struct {
	Output  string // container path, e.g. capture.mp4
	Width   int
	Height  int
	FPS     int
	Bitrate int    // bits per second
	Binary  string // ffmpeg binary; empty means "ffmpeg" from PATH
}

func (c Config) validate() error {
	if c.Output == "" {
		return fmt.Errorf("encoder: output path required")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("encoder: invalid dimensions %dx%d", c.Width, c.Height)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("encoder: fps must be > 0")
	}
	if c.Bitrate <= 0 {
		return fmt.Errorf("encoder: bitrate must be > 0")
	}
	return nil
}

// Source is the pull protocol the transcoding engine drives: one start
// position query, then one sample per request until ok=false signals
// end-of-stream. The pump implements it.
type Source interface {
	StartPosition() (time.Duration, bool)
	NextSample() (*record.Sample, bool)
}

// drive pulls samples from src and writes each frame to w until the source
// signals end-of-stream. Returns the number of frames written.
func drive(cfg Config, src Source, w io.Writer) (int, error) {
	frames := 0
	for {
		sample, ok := src.NextSample()
		if !ok {
			return frames, nil
		}
		err := writeFrame(cfg, sample, w)
		sample.Release()
		if err != nil {
			return frames, err
		}
		frames++
	}
}

// writeFrame serializes one stabilized sample as tightly-packed RGBA rows.
func writeFrame(cfg Config, sample *record.Sample, w io.Writer) error {
	if sample == nil || sample.Texture == nil {
		return fmt.Errorf("encoder: nil sample")
	}
	img := sample.Texture.RGBA()
	if img == nil {
		return fmt.Errorf("encoder: released sample texture")
	}
	if img.Rect.Dx() != cfg.Width || img.Rect.Dy() != cfg.Height {
		return fmt.Errorf("encoder: frame dimensions mismatch (%dx%d != %dx%d)", img.Rect.Dx(), img.Rect.Dy(), cfg.Width, cfg.Height)
	}
	rowBytes := cfg.Width * 4
	for y := 0; y < cfg.Height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+rowBytes]
		if _, err := w.Write(row); err != nil {
			return fmt.Errorf("encoder: frame write: %w", err)
		}
	}
	return nil
}

// estimateBitrate picks a bitrate from output geometry when the caller
// supplies none. Rough bits-per-pixel heuristic, clamped to sane bounds.
func estimateBitrate(width, height, fps int) int {
	if width <= 0 || height <= 0 || fps <= 0 {
		return 2_000_000
	}
	const bpp = 4
	bitrate := width * height * fps * bpp / 10
	const min = 1_500_000
	const max = 20_000_000
	if bitrate < min {
		return min
	}
	if bitrate > max {
		return max
	}
	return bitrate
}

// DefaultBitrate exposes the heuristic for cmd wiring.
func DefaultBitrate(width, height, fps int) int {
	return estimateBitrate(width, height, fps)
}
