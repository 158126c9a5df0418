package encoder

import (
	"fmt"
	"os/exec"

	"github.com/kataras/golog"
)

var logger = golog.Child("[encoder]")

// FFmpegEngine transcodes the raw frame stream into an H.264 container by
// piping tightly-packed RGBA frames into an ffmpeg subprocess. Closing
// stdin after the last frame finalizes the container.
type FFmpegEngine struct {
	cfg Config
}

// NewFFmpeg validates cfg and returns an engine for it.
func NewFFmpeg(cfg Config) (*FFmpegEngine, error) {
	if cfg.Bitrate <= 0 {
		cfg.Bitrate = estimateBitrate(cfg.Width, cfg.Height, cfg.FPS)
	}
	if cfg.Binary == "" {
		cfg.Binary = "ffmpeg"
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &FFmpegEngine{cfg: cfg}, nil
}

func buildArgs(cfg Config) []string {
	return []string{
		"-y",
		"-f", "rawvideo",
		"-pixel_format", "rgba",
		"-video_size", fmt.Sprintf("%dx%d", cfg.Width, cfg.Height),
		"-framerate", fmt.Sprintf("%d", cfg.FPS),
		"-i", "-",
		"-c:v", "libx264",
		"-b:v", fmt.Sprintf("%d", cfg.Bitrate),
		"-pix_fmt", "yuv420p",
		"-preset", "veryfast",
		cfg.Output,
	}
}

// Encode runs the engine to completion: queries the source's start
// position, pulls one sample per request, and finalizes the container when
// the source signals end-of-stream. Blocks until finalization; the caller
// runs it on the engine's own goroutine.
func (e *FFmpegEngine) Encode(src Source) error {
	start, ok := src.StartPosition()
	if !ok {
		return fmt.Errorf("encoder: stream ended before first frame")
	}
	logger.Infof("encode starting at %s, writing %s", start, e.cfg.Output)

	cmd := exec.Command(e.cfg.Binary, buildArgs(e.cfg)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("encoder: stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("encoder: start %s: %w", e.cfg.Binary, err)
	}

	frames, driveErr := drive(e.cfg, src, stdin)
	stdin.Close()
	waitErr := cmd.Wait()

	if driveErr != nil {
		return driveErr
	}
	if waitErr != nil {
		return fmt.Errorf("encoder: %s exited: %w", e.cfg.Binary, waitErr)
	}
	logger.Infof("encode finished, %d frame(s) written", frames)
	return nil
}
