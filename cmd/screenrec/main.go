// screenrec records a display to an H.264 container, with an optional live
// websocket preview. Capture, frame exchange, and the encode pump come from
// internal/record; ffmpeg writes the container.
package main

import (
	"flag"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kataras/golog"

	"github.com/halvore/screenrec/internal/capture"
	"github.com/halvore/screenrec/internal/encoder"
	"github.com/halvore/screenrec/internal/graphics"
	"github.com/halvore/screenrec/internal/preview"
	"github.com/halvore/screenrec/internal/record"
)

func main() {
	var (
		display     = flag.Int("display", 0, "display index to record")
		fps         = flag.Int("fps", 30, "target frame rate")
		bitrate     = flag.Int("bitrate", 0, "video bitrate in bits/s (0 = auto)")
		duration    = flag.Duration("duration", 0, "stop after this long (0 = until interrupted)")
		output      = flag.String("o", "capture.mp4", "output file")
		previewAddr = flag.String("preview", "", "preview listen address, e.g. 127.0.0.1:8089 (empty = off)")
		ffmpegBin   = flag.String("ffmpeg", "", "ffmpeg binary (default: ffmpeg from PATH)")
		verbose     = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	golog.SetTimeFormat("2006-01-02 15:04:05")
	if *verbose || os.Getenv("SCREENREC_DEBUG") == "1" {
		golog.SetLevel("debug")
	}

	if err := run(*display, *fps, *bitrate, *duration, *output, *previewAddr, *ffmpegBin); err != nil {
		golog.Fatal(err)
	}
}

func run(display, fps, bitrate int, duration time.Duration, output, previewAddr, ffmpegBin string) error {
	if n := capture.NumDisplays(); n == 0 {
		return fmt.Errorf("no active display found")
	} else if display < 0 || display >= n {
		return fmt.Errorf("display %d not found (%d active)", display, n)
	}
	bounds, err := capture.DisplayBounds(display)
	if err != nil {
		return err
	}
	// libx264 with yuv420p needs even dimensions.
	width := bounds.Dx() &^ 1
	height := bounds.Dy() &^ 1
	golog.Infof("recording display %d (%dx%d) at %d fps to %s", display, width, height, fps, output)

	device, err := graphics.NewDevice()
	if err != nil {
		return fmt.Errorf("graphics device: %w", err)
	}

	session, err := capture.NewDisplaySession(device, capture.Config{
		Display:  display,
		FPS:      fps,
		Duration: duration,
	})
	if err != nil {
		return err
	}

	stab, err := record.NewStabilizer(device, width, height)
	if err != nil {
		return err
	}
	rec := record.NewRecovery(graphics.NewDevice, session, device)
	// The source delivers frames at the full display size, which may be
	// odd while the encoder surface is truncated to even dimensions.
	exchange := record.NewExchange(stab, rec, bounds.Size(), func() {
		session.Close()
	})

	var tap func(*record.Sample)
	var view *preview.Server
	if previewAddr != "" {
		view = preview.New(exchange.Metrics)
		tap = func(s *record.Sample) {
			view.Offer(s.Texture.RGBA())
		}
		go func() {
			if err := view.Run(previewAddr); err != nil {
				golog.Warnf("preview server: %v", err)
			}
		}()
	}

	pump := record.NewPump(exchange, tap)
	session.OnFrame(func(tex graphics.Texture, ts time.Duration, size image.Point) {
		exchange.Push(&record.Frame{Texture: tex, Timestamp: ts, ContentSize: size})
	})
	session.OnClosed(exchange.Close)

	engine, err := encoder.NewFFmpeg(encoder.Config{
		Output:  output,
		Width:   width,
		Height:  height,
		FPS:     fps,
		Bitrate: bitrate,
		Binary:  ffmpegBin,
	})
	if err != nil {
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupt
		golog.Info("interrupted, stopping capture")
		session.Close()
	}()

	raisePriority()
	if err := session.Start(); err != nil {
		return err
	}
	pump.Start()

	// The engine drives the pump's pull protocol from this thread.
	encodeErr := engine.Encode(pump)
	pump.Dispose()
	if view != nil {
		view.Close()
	}
	return encodeErr
}
