// Package fake implements a camera that synthesizes frames in memory. It is
// used in tests and by the daemon's --fake-camera mode when no real device
// is attached.
package fake

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"sync"

	"github.com/pkg/errors"
)

// Camera produces a solid-color frame whose shade shifts every capture so
// consecutive frames differ. The zero value is usable.
type Camera struct {
	mu       sync.Mutex
	open     bool
	captures int

	Width  int
	Height int

	// OpenErr and CaptureErr, when set, are returned by the corresponding
	// calls. Used to exercise failure paths.
	OpenErr    error
	CaptureErr error
}

// Open marks the camera ready. Idempotent.
func (c *Camera) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.OpenErr != nil {
		return c.OpenErr
	}
	c.open = true
	return nil
}

// CaptureFrame returns a synthesized JPEG frame.
func (c *Camera) CaptureFrame(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CaptureErr != nil {
		return nil, c.CaptureErr
	}
	if !c.open {
		return nil, errors.New("fake camera is not open")
	}

	width, height := c.Width, c.Height
	if width == 0 {
		width = 64
	}
	if height == 0 {
		height = 48
	}
	shade := uint8(c.captures * 16)
	c.captures++

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: shade, G: shade, B: shade, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Opened reports whether the camera is currently open.
func (c *Camera) Opened() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Captures reports how many frames have been produced.
func (c *Camera) Captures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.captures
}

// Close marks the camera released. Safe to call multiple times.
func (c *Camera) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	return nil
}
