// Package roadcross implements the road-crossing analysis loop: on a fixed
// cadence it captures a frame, submits it to the remote analyzer with the
// traffic prompt, parses the reply, and notifies the registered callback.
// Failures never escape a cycle; subscribers always receive a structured
// result, conservative by default.
package roadcross

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/chandanpandeys/dekhosuno/camera"
	"github.com/chandanpandeys/dekhosuno/traffic"
	"github.com/chandanpandeys/dekhosuno/vision"
)

// DefaultInterval is the cadence of the background analysis loop.
const DefaultInterval = 2 * time.Second

// ErrClosed is returned by operations on a closed service.
var ErrClosed = errors.New("road crossing service is closed")

// Params contain everything needed to construct a Service.
type Params struct {
	Camera   camera.Camera
	Analyzer vision.Analyzer
	// Interval between periodic cycles; DefaultInterval when zero.
	Interval time.Duration
	// OnAnalysis fires exactly once per completed cycle, success or fallback.
	OnAnalysis func(traffic.Analysis)
	// OnSpeak fires only from AnalyzeNow with the Hindi instruction of the
	// fresh result, to drive the client's text-to-speech.
	OnSpeak func(text string)
	Logger  golog.Logger
	// Clock defaults to the wall clock; tests inject a mock.
	Clock clock.Clock
}

// Validate checks that required parameters are present.
func (p Params) Validate() error {
	if p.Camera == nil {
		return errors.New("missing required parameter camera")
	}
	if p.Analyzer == nil {
		return errors.New("missing required parameter analyzer")
	}
	if p.Logger == nil {
		return errors.New("missing required parameter logger")
	}
	return nil
}

// Service owns the periodic capture-analyze-notify loop. At most one cycle
// is in flight at a time: ticks that arrive while a cycle runs are dropped,
// never queued. A user-triggered AnalyzeNow waits for the slot instead,
// since the camera is a single exclusive device.
type Service struct {
	camera     camera.Camera
	analyzer   vision.Analyzer
	interval   time.Duration
	onAnalysis func(traffic.Analysis)
	onSpeak    func(string)
	logger     golog.Logger
	clock      clock.Clock

	// cycleMu is the single-flight slot: held for the duration of one cycle.
	cycleMu sync.Mutex

	mu                      sync.Mutex
	opened                  bool
	active                  bool
	analyzing               bool
	closed                  bool
	lastAnalysis            *traffic.Analysis
	lastErr                 string
	tickCancel              context.CancelFunc
	activeBackgroundWorkers sync.WaitGroup

	// cycleCtx outlives Stop so an in-flight cycle can finish and still
	// fire its callback; it is cancelled only on Close.
	cycleCtx    context.Context
	cycleCancel context.CancelFunc
}

// New constructs a Service in the idle state; nothing runs until Start or
// AnalyzeNow.
func New(p Params) (*Service, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	cycleCtx, cycleCancel := context.WithCancel(context.Background())
	return &Service{
		camera:      p.Camera,
		analyzer:    p.Analyzer,
		interval:    p.Interval,
		onAnalysis:  p.OnAnalysis,
		onSpeak:     p.OnSpeak,
		logger:      p.Logger,
		clock:       p.Clock,
		cycleCtx:    cycleCtx,
		cycleCancel: cycleCancel,
	}, nil
}

// Start opens the camera if needed, runs one immediate cycle to completion,
// then arms the periodic loop. Starting an already-active service is a
// no-op success. Camera failures are the one class of error Start surfaces;
// everything inside a cycle is converted to the fallback result instead.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.active {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.openCamera(ctx); err != nil {
		return err
	}

	// First reading before the ticker arms, so callers have a result as
	// soon as Start returns.
	s.cycleMu.Lock()
	s.runCycle(ctx)
	s.cycleMu.Unlock()

	tickCtx, tickCancel := context.WithCancel(context.Background())
	s.mu.Lock()
	if s.closed || s.active {
		s.mu.Unlock()
		tickCancel()
		return nil
	}
	s.active = true
	s.tickCancel = tickCancel
	s.activeBackgroundWorkers.Add(1)
	s.mu.Unlock()

	// Ticker is armed before Start returns so no tick can be missed
	// between Start and the loop goroutine coming up.
	ticker := s.clock.Ticker(s.interval)
	goutils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		defer ticker.Stop()
		s.tickLoop(tickCtx, ticker)
	})
	s.logger.Infow("road crossing analysis started", "interval", s.interval)
	return nil
}

func (s *Service) tickLoop(tickCtx context.Context, ticker *clock.Ticker) {
	for {
		select {
		case <-tickCtx.Done():
			return
		case <-ticker.C:
		}

		// Skip, never queue: a tick landing mid-cycle is dropped.
		if !s.cycleMu.TryLock() {
			s.logger.Debug("analysis cycle already in flight, dropping tick")
			continue
		}
		s.mu.Lock()
		if !s.active {
			s.mu.Unlock()
			s.cycleMu.Unlock()
			return
		}
		s.activeBackgroundWorkers.Add(1)
		s.mu.Unlock()

		goutils.PanicCapturingGo(func() {
			defer s.activeBackgroundWorkers.Done()
			defer s.cycleMu.Unlock()
			s.runCycle(s.cycleCtx)
		})
	}
}

// Stop disarms the periodic loop and waits for any in-flight cycle to finish
// (it still fires its callback). Idempotent; the camera stays open so the
// service remains ready.
func (s *Service) Stop() {
	s.mu.Lock()
	tickCancel := s.tickCancel
	s.tickCancel = nil
	s.active = false
	s.mu.Unlock()

	if tickCancel != nil {
		tickCancel()
	}
	s.activeBackgroundWorkers.Wait()
}

// AnalyzeNow runs one cycle immediately, regardless of the periodic loop,
// and then fires the speak callback with the result's Hindi instruction.
// If a periodic cycle is in flight it waits for the single-flight slot
// rather than racing it for the camera.
func (s *Service) AnalyzeNow(ctx context.Context) (traffic.Analysis, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return traffic.Analysis{}, ErrClosed
	}
	s.mu.Unlock()

	if err := s.openCamera(ctx); err != nil {
		return traffic.Analysis{}, err
	}

	s.cycleMu.Lock()
	result := s.runCycle(ctx)
	s.cycleMu.Unlock()

	if s.onSpeak != nil {
		s.onSpeak(result.HindiInstruction)
	}
	return result, nil
}

// Close stops the loop and releases the camera, in that order. An in-flight
// cycle is abandoned via context cancellation rather than awaited at length.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cycleCancel()
	s.Stop()
	return s.camera.Close(ctx)
}

// Active reports whether the periodic loop is armed.
func (s *Service) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Analyzing reports whether a cycle is currently in flight.
func (s *Service) Analyzing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.analyzing
}

// LastAnalysis returns the most recent result, if any cycle has completed.
func (s *Service) LastAnalysis() (traffic.Analysis, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastAnalysis == nil {
		return traffic.Analysis{}, false
	}
	return *s.lastAnalysis, true
}

// LastError returns the failure message of the most recent cycle, empty when
// the last cycle succeeded.
func (s *Service) LastError() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Service) openCamera(ctx context.Context) error {
	s.mu.Lock()
	opened := s.opened
	s.mu.Unlock()
	if opened {
		return nil
	}
	if err := s.camera.Open(ctx); err != nil {
		return errors.Wrap(err, "cannot open camera")
	}
	s.mu.Lock()
	s.opened = true
	s.mu.Unlock()
	return nil
}

// runCycle executes one capture-analyze-notify unit of work. The caller must
// hold cycleMu. Errors at any stage become the conservative fallback; the
// callback fires exactly once either way.
func (s *Service) runCycle(ctx context.Context) traffic.Analysis {
	s.setAnalyzing(true)
	defer s.setAnalyzing(false)

	result, errMsg := s.analyzeOnce(ctx)

	s.mu.Lock()
	s.lastAnalysis = &result
	s.lastErr = errMsg
	s.mu.Unlock()

	if s.onAnalysis != nil {
		s.onAnalysis(result)
	}
	return result
}

func (s *Service) analyzeOnce(ctx context.Context) (traffic.Analysis, string) {
	frame, err := s.camera.CaptureFrame(ctx)
	if err != nil {
		s.logger.Warnw("frame capture failed, returning fallback", "error", err)
		return traffic.ErrorAnalysis(), err.Error()
	}

	text, err := s.analyzer.Analyze(ctx, vision.TrafficPrompt, frame)
	if err != nil {
		s.logger.Warnw("remote traffic analysis failed, returning fallback", "error", err)
		return traffic.ErrorAnalysis(), err.Error()
	}
	return traffic.Parse(text), ""
}

func (s *Service) setAnalyzing(analyzing bool) {
	s.mu.Lock()
	s.analyzing = analyzing
	s.mu.Unlock()
}
