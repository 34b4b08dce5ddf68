// Package camera owns the capture side of DekhoSuno: enumerating webcam
// devices, opening one at a medium resolution, and taking single still
// frames as JPEG bytes for the analysis pipeline.
package camera

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNoCamera is returned by Open when device enumeration finds no
	// usable video device.
	ErrNoCamera = errors.New("no camera available")
	// ErrCaptureFailed is returned by CaptureFrame when the device is not
	// open or not ready.
	ErrCaptureFailed = errors.New("camera is not ready to capture")
)

// Camera is a single exclusively-owned capture device. Open is idempotent;
// CaptureFrame requires a prior successful Open; Close is safe to call more
// than once.
type Camera interface {
	Open(ctx context.Context) error
	CaptureFrame(ctx context.Context) ([]byte, error)
	Close(ctx context.Context) error
}

// Medium-resolution capture target. Frames larger than this are downscaled
// before they leave the package; the remote analyzer gains nothing from
// full-resolution uploads.
const (
	DefaultWidth  = 640
	DefaultHeight = 480
)

// Config selects and shapes the capture device.
type Config struct {
	// PreferredLabel is matched case-insensitively against device labels.
	// When empty, rear/back-facing devices are preferred, then the first
	// device found.
	PreferredLabel string `json:"preferred_label,omitempty"`
	Width          int    `json:"width,omitempty"`
	Height         int    `json:"height,omitempty"`
	JPEGQuality    int    `json:"jpeg_quality,omitempty"`
}

func (c Config) widthOrDefault() int {
	if c.Width > 0 {
		return c.Width
	}
	return DefaultWidth
}

func (c Config) heightOrDefault() int {
	if c.Height > 0 {
		return c.Height
	}
	return DefaultHeight
}

func (c Config) jpegQualityOrDefault() int {
	if c.JPEGQuality > 0 {
		return c.JPEGQuality
	}
	return 85
}
