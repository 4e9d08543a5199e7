package plagiarism

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const maxPromptChars = 24000

// ChatClient is the subset of the OpenAI client used by the scorer.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// OpenAIConfig configures the OpenAI backed scorer.
type OpenAIConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
}

// OpenAIScorer estimates originality with a chat completion that answers in JSON.
type OpenAIScorer struct {
	client ChatClient
	cfg    OpenAIConfig
	tracer trace.Tracer
}

// NewOpenAIScorer builds a scorer using the official API client.
func NewOpenAIScorer(cfg OpenAIConfig) (*OpenAIScorer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai api key is required")
	}

	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	config.HTTPClient = InstrumentClient(nil)

	return NewOpenAIScorerWithClient(openai.NewClientWithConfig(config), cfg), nil
}

// NewOpenAIScorerWithClient builds a scorer around an existing chat client.
func NewOpenAIScorerWithClient(client ChatClient, cfg OpenAIConfig) *OpenAIScorer {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 256
	}
	return &OpenAIScorer{
		client: client,
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/campus-portal-api/pkg/plagiarism/openai"),
	}
}

// Name identifies the scorer in logs and metrics.
func (s *OpenAIScorer) Name() string {
	return "openai"
}

// Score asks the model for a similarity estimate.
func (s *OpenAIScorer) Score(parent context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Result{}, ErrEmptyText
	}

	ctx, span := s.tracer.Start(parent, "openai.plagiarism_score", trace.WithAttributes(
		attribute.String("model", s.cfg.Model),
	))
	defer span.End()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: scorerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildScorePrompt(req)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("openai score: %w", err)
	}
	if len(resp.Choices) == 0 {
		err := fmt.Errorf("no choices returned from openai")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	result, err := parseScoreResponse(resp.Choices[0].Message.Content)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	return result, nil
}

const scorerSystemPrompt = "You review student coursework for plagiarism. Respond with a JSON object " +
	"{\"score\": number from 0 to 100 estimating how much of the text is unoriginal, \"report_url\": string or empty}."

func buildScorePrompt(req Request) string {
	text := req.Text
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	builder := strings.Builder{}
	builder.WriteString("# ")
	builder.WriteString(req.Title)
	builder.WriteString("\n\n")
	builder.WriteString(text)
	builder.WriteString("\n\nReturn JSON.")
	return builder.String()
}

func parseScoreResponse(content string) (Result, error) {
	var payload struct {
		Score     *float64 `json:"score"`
		ReportURL string   `json:"report_url"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &payload); err != nil {
		return Result{}, fmt.Errorf("parse plagiarism json: %w", err)
	}
	if payload.Score == nil {
		return Result{}, fmt.Errorf("plagiarism json has no score")
	}

	score := ClampScore(*payload.Score)
	return Result{Score: &score, ReportURL: payload.ReportURL}, nil
}
