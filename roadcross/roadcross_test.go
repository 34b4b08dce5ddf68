package roadcross

import (
	"context"
	"sync"
	"testing"
	"time"

	clk "github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/chandanpandeys/dekhosuno/camera/fake"
	"github.com/chandanpandeys/dekhosuno/traffic"
)

const safeResponse = "STATUS: SAFE\nVEHICLES: none\nINSTRUCTION: You can cross now\nHINDI: आप अभी सड़क पार कर सकते हैं"

// scriptedAnalyzer returns a fixed response, optionally blocking from the
// given call number onward until released.
type scriptedAnalyzer struct {
	mu        sync.Mutex
	calls     int
	response  string
	err       error
	blockFrom int           // 0 means never block
	started   chan struct{} // signalled when a blocking call begins
	release   chan struct{}
}

func (a *scriptedAnalyzer) Analyze(ctx context.Context, prompt string, jpegFrame []byte) (string, error) {
	a.mu.Lock()
	a.calls++
	call := a.calls
	a.mu.Unlock()

	if a.blockFrom > 0 && call >= a.blockFrom {
		a.started <- struct{}{}
		select {
		case <-a.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return a.response, a.err
}

func (a *scriptedAnalyzer) callCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

type recorder struct {
	mu      sync.Mutex
	results []traffic.Analysis
	spoken  []string
	fired   chan struct{}
}

func newRecorder() *recorder {
	return &recorder{fired: make(chan struct{}, 16)}
}

func (r *recorder) onAnalysis(a traffic.Analysis) {
	r.mu.Lock()
	r.results = append(r.results, a)
	r.mu.Unlock()
	r.fired <- struct{}{}
}

func (r *recorder) onSpeak(text string) {
	r.mu.Lock()
	r.spoken = append(r.spoken, text)
	r.mu.Unlock()
}

func (r *recorder) resultCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.results)
}

func (r *recorder) result(i int) traffic.Analysis {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[i]
}

func (r *recorder) waitForResult(t *testing.T) {
	t.Helper()
	select {
	case <-r.fired:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for analysis callback")
	}
}

func newTestService(t *testing.T, p Params) *Service {
	t.Helper()
	if p.Camera == nil {
		p.Camera = &fake.Camera{}
	}
	if p.Logger == nil {
		p.Logger = golog.NewTestLogger(t)
	}
	svc, err := New(p)
	test.That(t, err, test.ShouldBeNil)
	return svc
}

func TestParamsValidate(t *testing.T) {
	err := Params{}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "camera")

	err = Params{Camera: &fake.Camera{}}.Validate()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "analyzer")
}

func TestStartRunsImmediateCycle(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, Params{
		Analyzer:   &scriptedAnalyzer{response: safeResponse},
		OnAnalysis: rec.onAnalysis,
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	test.That(t, svc.Active(), test.ShouldBeTrue)

	// the immediate cycle completes before Start returns
	test.That(t, rec.resultCount(), test.ShouldEqual, 1)
	test.That(t, rec.result(0).Status, test.ShouldEqual, traffic.StatusSafe)
	test.That(t, rec.result(0).CanCross, test.ShouldBeTrue)

	last, ok := svc.LastAnalysis()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last.Instruction, test.ShouldEqual, "You can cross now")
}

func TestStartPropagatesCameraFailure(t *testing.T) {
	cam := &fake.Camera{OpenErr: errors.New("device is busy")}
	svc := newTestService(t, Params{
		Camera:   cam,
		Analyzer: &scriptedAnalyzer{response: safeResponse},
	})

	err := svc.Start(context.Background())
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "device is busy")
	test.That(t, svc.Active(), test.ShouldBeFalse)
}

func TestCaptureFailureYieldsFallback(t *testing.T) {
	cam := &fake.Camera{CaptureErr: errors.New("sensor wedged")}
	rec := newRecorder()
	svc := newTestService(t, Params{
		Camera:     cam,
		Analyzer:   &scriptedAnalyzer{response: safeResponse},
		OnAnalysis: rec.onAnalysis,
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)

	// the cycle failed but the callback still fired, with the fallback,
	// and the loop stays armed
	test.That(t, rec.resultCount(), test.ShouldEqual, 1)
	test.That(t, rec.result(0), test.ShouldResemble, traffic.ErrorAnalysis())
	test.That(t, rec.result(0).CanCross, test.ShouldBeFalse)
	test.That(t, svc.Active(), test.ShouldBeTrue)
	test.That(t, svc.LastError(), test.ShouldContainSubstring, "sensor wedged")
}

func TestRemoteFailureYieldsFallback(t *testing.T) {
	rec := newRecorder()
	svc := newTestService(t, Params{
		Analyzer:   &scriptedAnalyzer{err: errors.New("api quota exhausted")},
		OnAnalysis: rec.onAnalysis,
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	test.That(t, rec.result(0), test.ShouldResemble, traffic.ErrorAnalysis())
	test.That(t, svc.Active(), test.ShouldBeTrue)
}

func TestTickDroppedWhileCycleInFlight(t *testing.T) {
	mockClock := clk.NewMock()
	logger, observed := golog.NewObservedTestLogger(t)
	rec := newRecorder()
	analyzer := &scriptedAnalyzer{
		response:  safeResponse,
		blockFrom: 2, // immediate Start cycle is fast, tick cycles block
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	svc := newTestService(t, Params{
		Analyzer:   analyzer,
		OnAnalysis: rec.onAnalysis,
		Logger:     logger,
		Clock:      mockClock,
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	rec.waitForResult(t) // immediate cycle

	// first tick starts a cycle that parks inside the analyzer
	mockClock.Add(DefaultInterval)
	<-analyzer.started

	// second tick lands while that cycle is in flight and must be dropped
	mockClock.Add(DefaultInterval)
	waitFor(t, func() bool {
		return observed.FilterMessageSnippet("dropping tick").Len() > 0
	})

	close(analyzer.release)
	rec.waitForResult(t) // the in-flight cycle completes

	// exactly one callback for the two ticks: immediate + one tick cycle
	test.That(t, rec.resultCount(), test.ShouldEqual, 2)
	test.That(t, analyzer.callCount(), test.ShouldEqual, 2)
}

func TestAnalyzeNowWaitsForInFlightCycle(t *testing.T) {
	mockClock := clk.NewMock()
	rec := newRecorder()
	analyzer := &scriptedAnalyzer{
		response:  safeResponse,
		blockFrom: 2,
		started:   make(chan struct{}, 1),
		release:   make(chan struct{}),
	}
	svc := newTestService(t, Params{
		Analyzer:   analyzer,
		OnAnalysis: rec.onAnalysis,
		OnSpeak:    rec.onSpeak,
		Clock:      mockClock,
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	rec.waitForResult(t)

	mockClock.Add(DefaultInterval)
	<-analyzer.started

	done := make(chan traffic.Analysis, 1)
	go func() {
		result, err := svc.AnalyzeNow(context.Background())
		test.That(t, err, test.ShouldBeNil)
		done <- result
	}()

	// AnalyzeNow is queued behind the in-flight cycle, not racing it
	select {
	case <-done:
		t.Fatal("AnalyzeNow finished while a cycle was still in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(analyzer.release)
	result := <-done
	test.That(t, result.Status, test.ShouldEqual, traffic.StatusSafe)

	rec.mu.Lock()
	spoken := append([]string{}, rec.spoken...)
	rec.mu.Unlock()
	test.That(t, spoken, test.ShouldResemble, []string{"आप अभी सड़क पार कर सकते हैं"})
}

func TestAnalyzeNowWithoutStart(t *testing.T) {
	cam := &fake.Camera{}
	rec := newRecorder()
	svc := newTestService(t, Params{
		Camera:     cam,
		Analyzer:   &scriptedAnalyzer{response: safeResponse},
		OnAnalysis: rec.onAnalysis,
		OnSpeak:    rec.onSpeak,
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	result, err := svc.AnalyzeNow(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, result.CanCross, test.ShouldBeTrue)
	test.That(t, cam.Opened(), test.ShouldBeTrue)
	test.That(t, svc.Active(), test.ShouldBeFalse)
	test.That(t, rec.resultCount(), test.ShouldEqual, 1)
}

func TestStopIsIdempotent(t *testing.T) {
	cam := &fake.Camera{}
	svc := newTestService(t, Params{
		Camera:   cam,
		Analyzer: &scriptedAnalyzer{response: safeResponse},
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	svc.Stop()
	svc.Stop()
	test.That(t, svc.Active(), test.ShouldBeFalse)
	// still ready: the camera stays open and on-demand checks still work
	test.That(t, cam.Opened(), test.ShouldBeTrue)
	_, err := svc.AnalyzeNow(context.Background())
	test.That(t, err, test.ShouldBeNil)
}

func TestStartStopStartRestartsLoop(t *testing.T) {
	svc := newTestService(t, Params{
		Analyzer: &scriptedAnalyzer{response: safeResponse},
	})
	defer func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	}()

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	svc.Stop()
	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	test.That(t, svc.Active(), test.ShouldBeTrue)
}

func TestCloseStopsLoopThenReleasesCamera(t *testing.T) {
	cam := &fake.Camera{}
	svc := newTestService(t, Params{
		Camera:   cam,
		Analyzer: &scriptedAnalyzer{response: safeResponse},
	})

	test.That(t, svc.Start(context.Background()), test.ShouldBeNil)
	test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	test.That(t, svc.Active(), test.ShouldBeFalse)
	test.That(t, cam.Opened(), test.ShouldBeFalse)

	// closed for good
	test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	test.That(t, svc.Start(context.Background()), test.ShouldBeError, ErrClosed)
	_, err := svc.AnalyzeNow(context.Background())
	test.That(t, err, test.ShouldBeError, ErrClosed)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}
