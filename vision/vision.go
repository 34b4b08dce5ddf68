// Package vision exposes the remote multimodal analyzer the app's AI
// features share: a single capability that accepts an instructional prompt
// plus a JPEG frame and returns free-form text. Task helpers wrap that
// capability with the fixed prompts for each feature.
package vision

import (
	"context"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
)

// ErrRemoteAnalysis wraps any failure from the remote analyzer collaborator.
var ErrRemoteAnalysis = errors.New("remote analysis failed")

// Analyzer is the opaque remote capability. Implementations own their
// transport, timeout, and retry policy.
type Analyzer interface {
	Analyze(ctx context.Context, prompt string, jpegFrame []byte) (string, error)
}

// Fixed instructional prompts for the app's AI features. TrafficPrompt asks
// for the labeled-line format traffic.Parse understands.
const (
	TrafficPrompt = `You are assisting a visually impaired pedestrian who wants to cross a road.
Look at this image of the road and answer in EXACTLY this format:
STATUS: <SAFE, CAUTION or DANGER>
VEHICLES: <comma separated list of vehicles you see, or none>
INSTRUCTION: <one short sentence of crossing guidance in English>
HINDI: <the same guidance in Hindi>`

	ScenePrompt = `Describe this scene for a visually impaired person in two short sentences.
Mention obstacles, people and anything they should be aware of. Keep it simple and direct.`

	ReadTextPrompt = `Read out all text visible in this image, top to bottom.
If there is no readable text, answer exactly: no text found`

	ObjectsPrompt = `List the main objects in this image as a short comma separated list,
nearest first. If you see nothing notable, answer exactly: nothing detected`
)

// Service bundles the analyzer with the fixed prompts of the app's AI modes.
type Service struct {
	analyzer Analyzer
	logger   golog.Logger
}

// NewService wraps analyzer with the app's task prompts.
func NewService(analyzer Analyzer, logger golog.Logger) *Service {
	return &Service{analyzer: analyzer, logger: logger}
}

// DescribeScene returns a short spoken-style description of the frame.
func (s *Service) DescribeScene(ctx context.Context, frame []byte) (string, error) {
	return s.run(ctx, "describe_scene", ScenePrompt, frame)
}

// ReadText returns the text visible in the frame.
func (s *Service) ReadText(ctx context.Context, frame []byte) (string, error) {
	return s.run(ctx, "read_text", ReadTextPrompt, frame)
}

// DetectObjects returns the main objects visible in the frame.
func (s *Service) DetectObjects(ctx context.Context, frame []byte) (string, error) {
	return s.run(ctx, "detect_objects", ObjectsPrompt, frame)
}

func (s *Service) run(ctx context.Context, task, prompt string, frame []byte) (string, error) {
	text, err := s.analyzer.Analyze(ctx, prompt, frame)
	if err != nil {
		s.logger.Warnw("analysis task failed", "task", task, "error", err)
		return "", errors.Wrap(ErrRemoteAnalysis, err.Error())
	}
	return strings.TrimSpace(text), nil
}

// Summary trims a response down to its first non-empty line, the piece worth
// handing to text-to-speech.
func Summary(response string) string {
	for _, line := range strings.Split(response, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}
