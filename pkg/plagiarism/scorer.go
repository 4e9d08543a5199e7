package plagiarism

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when there is nothing to score.
var ErrEmptyText = errors.New("plagiarism: text is empty")

// Request is the text sent to a scorer.
type Request struct {
	Text  string `json:"text"`
	Title string `json:"title"`
}

// Result is a similarity score in the range 0..100 and an optional report link.
// Score is nil when the vendor answered without a numeric score.
type Result struct {
	Score     *float64
	ReportURL string
}

// Scorer computes a plagiarism score for a text body.
type Scorer interface {
	Score(ctx context.Context, req Request) (Result, error)
	Name() string
}

// ClampScore bounds a score to 0..100.
func ClampScore(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	default:
		return score
	}
}

// Options selects and configures a scorer backend.
type Options struct {
	Provider      string
	Endpoint      string
	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string
}

// NewScorer builds the scorer named by opts.Provider. The "none" provider yields a nil scorer.
func NewScorer(opts Options) (Scorer, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "none":
		return nil, nil
	case "http":
		scorer, err := NewHTTPScorer(opts.Endpoint, nil)
		if err != nil {
			return nil, err
		}
		return scorer, nil
	case "openai":
		scorer, err := NewOpenAIScorer(OpenAIConfig{
			APIKey:  opts.OpenAIKey,
			Model:   opts.OpenAIModel,
			BaseURL: opts.OpenAIBaseURL,
		})
		if err != nil {
			return nil, err
		}
		return scorer, nil
	default:
		return nil, fmt.Errorf("unsupported plagiarism provider %q", opts.Provider)
	}
}
