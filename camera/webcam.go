package camera

import (
	"bytes"
	"context"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	driverutils "github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"
)

// rear-facing device labels seen across platforms; matched as substrings.
var rearFacingHints = []string{"back", "rear", "environment"}

// Webcam captures still frames from a local video device through the
// mediadevices driver manager.
type Webcam struct {
	mu     sync.Mutex
	conf   Config
	logger golog.Logger

	driver driverutils.Driver
	reader video.Reader
}

// NewWebcam returns an unopened webcam. Open performs device selection.
func NewWebcam(conf Config, logger golog.Logger) *Webcam {
	return &Webcam{conf: conf, logger: logger}
}

// Open enumerates video devices, picks one, and starts a capture session at
// the closest available resolution to the configured target. Calling Open on
// an already-open webcam is a no-op success.
func (w *Webcam) Open(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reader != nil {
		return nil
	}

	mediadevicescamera.Initialize()
	drivers := driverutils.GetManager().Query(driverutils.FilterVideoRecorder())
	if len(drivers) == 0 {
		return ErrNoCamera
	}

	labels := make([]string, 0, len(drivers))
	for _, d := range drivers {
		labels = append(labels, d.Info().Label)
	}
	d := drivers[chooseDriverIndex(labels, w.conf.PreferredLabel)]

	if d.Status() == driverutils.StateClosed {
		if err := d.Open(); err != nil {
			return errors.Wrapf(err, "cannot open camera %q", d.Info().Label)
		}
	}

	selected := chooseProp(d.Properties(), w.conf.widthOrDefault(), w.conf.heightOrDefault())
	recorder, ok := d.(driverutils.VideoRecorder)
	if !ok {
		goutils.UncheckedError(d.Close())
		return errors.Errorf("device %q cannot record video", d.Info().Label)
	}
	reader, err := recorder.VideoRecord(selected)
	if err != nil {
		goutils.UncheckedError(d.Close())
		return errors.Wrapf(err, "cannot start capture on %q", d.Info().Label)
	}

	w.logger.Infow("camera opened",
		"label", d.Info().Label,
		"width", selected.Video.Width,
		"height", selected.Video.Height,
	)
	w.driver = d
	w.reader = reader
	return nil
}

// CaptureFrame reads one frame from the open device and returns it as JPEG
// bytes, downscaled to the medium-resolution target when larger.
func (w *Webcam) CaptureFrame(ctx context.Context) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reader == nil {
		return nil, ErrCaptureFailed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	img, release, err := w.reader.Read()
	if err != nil {
		return nil, errors.Wrap(ErrCaptureFailed, err.Error())
	}
	if release != nil {
		defer release()
	}

	maxW, maxH := w.conf.widthOrDefault(), w.conf.heightOrDefault()
	bounds := img.Bounds()
	if bounds.Dx() > maxW || bounds.Dy() > maxH {
		img = imaging.Fit(img, maxW, maxH, imaging.Linear)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(w.conf.jpegQualityOrDefault())); err != nil {
		return nil, errors.Wrap(err, "cannot encode frame")
	}
	return buf.Bytes(), nil
}

// Close releases the device. Safe to call multiple times.
func (w *Webcam) Close(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.driver == nil {
		return nil
	}
	err := w.driver.Close()
	w.driver = nil
	w.reader = nil
	return err
}

// chooseDriverIndex picks a device by label: an exact preference match wins,
// then a rear-facing label, then the first device.
func chooseDriverIndex(labels []string, preferred string) int {
	if preferred != "" {
		for i, label := range labels {
			if strings.Contains(strings.ToLower(label), strings.ToLower(preferred)) {
				return i
			}
		}
	}
	for i, label := range labels {
		lower := strings.ToLower(label)
		for _, hint := range rearFacingHints {
			if strings.Contains(lower, hint) {
				return i
			}
		}
	}
	return 0
}

// chooseProp picks the advertised media property closest to the target
// resolution. Falls back to requesting the target directly when the driver
// advertises nothing.
func chooseProp(props []prop.Media, width, height int) prop.Media {
	if len(props) == 0 {
		var p prop.Media
		p.Video.Width = width
		p.Video.Height = height
		return p
	}
	best := props[0]
	bestScore := resolutionDistance(best, width, height)
	for _, p := range props[1:] {
		if score := resolutionDistance(p, width, height); score < bestScore {
			best, bestScore = p, score
		}
	}
	return best
}

func resolutionDistance(p prop.Media, width, height int) int {
	dw := p.Video.Width - width
	if dw < 0 {
		dw = -dw
	}
	dh := p.Video.Height - height
	if dh < 0 {
		dh = -dh
	}
	return dw + dh
}
