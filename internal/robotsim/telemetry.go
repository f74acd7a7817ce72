package robotsim

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"time"

	"github.com/large-farva/robotpi-teleop/internal/protocol"
)

const (
	frameWidth  = 64
	frameHeight = 48
	// Every dropFrameEvery-th frame goes out empty, like a camera that
	// occasionally fails to grab.
	dropFrameEvery = 10
)

func (r *Robot) batteryLoop(ctx context.Context) {
	t := time.NewTicker(r.opts.BatteryInterval)
	defer t.Stop()

	last := math.Round(r.Status().Battery)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		r.mu.Lock()
		r.battery = math.Max(0, r.battery-r.opts.BatteryDrain)
		level := math.Round(r.battery)
		r.mu.Unlock()

		if level != last {
			last = level
			r.log.WithField("level", level).Debug("battery changed")
			r.hub.BroadcastJSON(protocol.NewBattery(level))
		}
	}
}

func (r *Robot) cameraLoop(ctx context.Context) {
	t := time.NewTicker(r.opts.CameraInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		n := r.frames.Add(1)
		if n%dropFrameEvery == 0 {
			r.hub.BroadcastJSON(protocol.NewCameraFrame(nil))
			continue
		}
		b, err := renderFrame(n)
		if err != nil {
			r.log.WithError(err).Warn("frame encode failed")
			continue
		}
		r.hub.BroadcastJSON(protocol.NewCameraFrame(b))
	}
}

// renderFrame draws a moving gradient so consecutive frames differ.
func renderFrame(n int64) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	shift := int(n % frameWidth)
	for y := 0; y < frameHeight; y++ {
		for x := 0; x < frameWidth; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8((x + shift) * 255 / frameWidth % 256),
				G: uint8(y * 255 / frameHeight),
				B: 128,
				A: 255,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
