package plagiarism

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxResponseBytes = 1 << 20

// HTTPScorer posts {text, title} to a scoring endpoint and reads {plagiarismScore, report_url}.
type HTTPScorer struct {
	endpoint string
	client   *http.Client
}

// NewHTTPScorer builds a scorer for the given endpoint. A nil client gets an instrumented default.
func NewHTTPScorer(endpoint string, client *http.Client) (*HTTPScorer, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("plagiarism endpoint is required")
	}
	return &HTTPScorer{endpoint: endpoint, client: InstrumentClient(client)}, nil
}

// InstrumentClient wraps an HTTP client with the OpenTelemetry transport.
func InstrumentClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	client.Transport = otelhttp.NewTransport(base)
	return client
}

// Name identifies the scorer in logs and metrics.
func (s *HTTPScorer) Name() string {
	return "http"
}

// Score calls the endpoint. Cancellation and deadlines come from ctx.
func (s *HTTPScorer) Score(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrEmptyText
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Result{}, fmt.Errorf("encode plagiarism request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build plagiarism request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return Result{}, fmt.Errorf("call plagiarism endpoint: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read plagiarism response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{}, fmt.Errorf("plagiarism endpoint returned status %d", resp.StatusCode)
	}

	var decoded struct {
		PlagiarismScore *float64 `json:"plagiarismScore"`
		ReportURL       string   `json:"report_url"`
	}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode plagiarism response: %w", err)
	}

	result := Result{ReportURL: decoded.ReportURL}
	if decoded.PlagiarismScore != nil {
		score := ClampScore(*decoded.PlagiarismScore)
		result.Score = &score
	}
	return result, nil
}
