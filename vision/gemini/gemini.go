// Package gemini implements vision.Analyzer on the Gemini multimodal API.
package gemini

import (
	"context"
	"strings"

	"github.com/edaniels/golog"
	"github.com/google/generative-ai-go/genai"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "gemini-1.5-flash"

// Client is a vision.Analyzer backed by the Gemini API.
type Client struct {
	client *genai.Client
	model  *genai.GenerativeModel
	logger golog.Logger
}

// New dials the Gemini API. The caller owns Close.
func New(ctx context.Context, apiKey, model string, logger golog.Logger) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: api key is required")
	}
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, errors.Wrap(err, "gemini: cannot create client")
	}
	return &Client{
		client: client,
		model:  client.GenerativeModel(model),
		logger: logger,
	}, nil
}

// Analyze submits the prompt and frame and returns the concatenated text of
// the first candidate.
func (c *Client) Analyze(ctx context.Context, prompt string, jpegFrame []byte) (string, error) {
	resp, err := c.model.GenerateContent(ctx,
		genai.Text(prompt),
		genai.ImageData("jpeg", jpegFrame),
	)
	if err != nil {
		return "", errors.Wrap(err, "gemini: generate content")
	}
	text := responseText(resp)
	if text == "" {
		return "", errors.New("gemini: response contained no text")
	}
	return text, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		// only the first candidate is wanted
		break
	}
	return sb.String()
}
