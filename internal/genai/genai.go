// Package genai drafts WhatsApp message templates with the OpenAI chat API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BTreeMap/FlowDesk/internal/models"
	"github.com/BTreeMap/FlowDesk/internal/templates"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Constants for GenAI configuration
const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = string(openai.ChatModelGPT4oMini)
	// DefaultTemperature keeps drafts close to the requested wording.
	DefaultTemperature = 0.4
	// DefaultDraftCount is the number of drafts requested when Count is unset.
	DefaultDraftCount = 3
)

var (
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrNoUsableDrafts    = errors.New("model returned no usable drafts")
)

// chatService defines the minimal chat completion surface used by Client.
type chatService interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model name.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// Client drafts templates through the chat completion API.
type Client struct {
	chat        chatService
	model       string
	temperature float64
}

// NewClient creates a client. The API key falls back to OPENAI_API_KEY.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Model: DefaultModel, Temperature: DefaultTemperature}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	slog.Debug("GenAI.NewClient: options set", "APIKey_set", cfg.APIKey != "", "model", cfg.Model)
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &Client{chat: &cli.Chat.Completions, model: cfg.Model, temperature: cfg.Temperature}, nil
}

// DraftRequest describes the templates an operator wants drafted.
type DraftRequest struct {
	Purpose         string                 `json:"purpose"`
	Language        string                 `json:"language,omitempty"`
	Category        string                 `json:"category,omitempty"`
	ParameterFormat models.ParameterFormat `json:"parameter_format,omitempty"`
	Count           int                    `json:"count,omitempty"`
}

// Validate checks the request and fills defaults.
func (r *DraftRequest) Validate() error {
	r.Purpose = strings.TrimSpace(r.Purpose)
	if r.Purpose == "" {
		return models.ErrMissingDraftPurpose
	}
	if r.Language == "" {
		r.Language = "pt_BR"
	}
	if r.Category == "" {
		r.Category = "MARKETING"
	}
	if r.ParameterFormat == "" {
		r.ParameterFormat = models.ParameterFormatPositional
	}
	if !models.IsValidParameterFormat(r.ParameterFormat) {
		return fmt.Errorf("%w: %q", models.ErrInvalidParamFormat, r.ParameterFormat)
	}
	if r.Count <= 0 {
		r.Count = DefaultDraftCount
	}
	if r.Count > models.MaxDraftCount {
		r.Count = models.MaxDraftCount
	}
	return nil
}

// DraftResult holds the accepted drafts and the reasons others were dropped.
type DraftResult struct {
	Drafts   []models.Template `json:"drafts"`
	Rejected []string          `json:"rejected,omitempty"`
}

const draftSystemPrompt = `You write WhatsApp Business message templates.
Reply with a JSON object {"drafts": [...]} and nothing else. Each draft has:
"name" (lowercase letters, digits and underscores), "category", "language",
"parameter_format" ("positional" or "named") and "components", a list of
{"type": "HEADER"|"BODY"|"FOOTER", "format": "TEXT", "text": "..."}.
Positional placeholders are {{1}}, {{2}}, ... numbered from 1 without gaps.
Named placeholders are lowercase identifiers such as {{customer_name}}.
Footers never contain placeholders. Bodies stay under 1024 characters.`

func draftUserPrompt(req DraftRequest) string {
	return fmt.Sprintf(`Purpose: %s
Language: %s
Category: %s
Parameter format: %s
Number of drafts: %d`, req.Purpose, req.Language, req.Category, req.ParameterFormat, req.Count)
}

// DraftTemplates asks the model for template drafts. Drafts whose
// placeholders fail template validation are dropped and reported.
func (c *Client) DraftTemplates(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(draftSystemPrompt),
			openai.UserMessage(draftUserPrompt(req)),
		},
		Temperature: openai.Float(c.temperature),
	}
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		slog.Error("GenAI.DraftTemplates: completion failed", "error", err)
		return nil, fmt.Errorf("failed to draft templates: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, ErrNoChoicesReturned
	}
	result, err := parseDrafts(resp.Choices[0].Message.Content, req)
	if err != nil {
		return nil, err
	}
	slog.Info("GenAI.DraftTemplates: drafted", "accepted", len(result.Drafts), "rejected", len(result.Rejected))
	return result, nil
}

// parseDrafts decodes the model reply, tolerating a fenced code block.
func parseDrafts(content string, req DraftRequest) (*DraftResult, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var reply struct {
		Drafts []models.Template `json:"drafts"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse drafts: %w", err)
	}

	result := &DraftResult{Drafts: []models.Template{}}
	for i, draft := range reply.Drafts {
		if draft.Language == "" {
			draft.Language = req.Language
		}
		if draft.Category == "" {
			draft.Category = req.Category
		}
		if draft.ParameterFormat == "" {
			draft.ParameterFormat = req.ParameterFormat
		}
		if draft.Name == "" {
			result.Rejected = append(result.Rejected, fmt.Sprintf("draft %d: missing name", i))
			continue
		}
		if err := templates.ValidateTemplate(draft); err != nil {
			result.Rejected = append(result.Rejected, fmt.Sprintf("draft %d (%s): %v", i, draft.Name, err))
			continue
		}
		result.Drafts = append(result.Drafts, draft)
		if len(result.Drafts) == req.Count {
			break
		}
	}
	if len(result.Drafts) == 0 {
		return result, ErrNoUsableDrafts
	}
	return result, nil
}

// MockDrafter returns canned drafts (for tests).
type MockDrafter struct {
	Result *DraftResult
	Err    error
	Calls  []DraftRequest
}

func (m *MockDrafter) DraftTemplates(ctx context.Context, req DraftRequest) (*DraftResult, error) {
	m.Calls = append(m.Calls, req)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Result, nil
}
