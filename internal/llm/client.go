// Package llm implements pattern discovery against the Anthropic Messages
// API. It makes exactly one request per prompt batch and never retries.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/scbrown/transcripts/internal/model"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-sonnet-4-20250514"
	DefaultBatchSize = 100
	apiVersion       = "2023-06-01"
	maxTokens        = 4096
	maxErrorBody     = 512
)

// Config configures a Client.
type Config struct {
	APIKey     string
	BaseURL    string // Without the /v1/messages suffix.
	Model      string
	BatchSize  int
	HTTPClient *http.Client
}

// Client is an extract.Analyzer backed by the Messages API.
type Client struct {
	apiKey    string
	endpoint  string
	model     string
	batchSize int
	http      *http.Client
}

// New returns a Client. The credential is required; sourcing it is the
// caller's job.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, &AuthError{Message: "no API key configured (set ANTHROPIC_API_KEY or pass --api-key)"}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	c := &Client{
		apiKey:    cfg.APIKey,
		endpoint:  base + "/v1/messages",
		model:     cfg.Model,
		batchSize: cfg.BatchSize,
		http:      cfg.HTTPClient,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.batchSize <= 0 {
		c.batchSize = DefaultBatchSize
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	return c, nil
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiErrorBody struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// discovery is the JSON document the model is asked to produce.
type discovery struct {
	Patterns []struct {
		Summary    string   `json:"summary"`
		Examples   []string `json:"examples"`
		Confidence string   `json:"confidence"`
		Category   string   `json:"category"`
	} `json:"patterns"`
	CustomCategories []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	} `json:"custom_categories"`
}

// Analyze sends prompts in batches and returns the union of the discovered
// patterns as candidates. The first failing batch aborts the call.
func (c *Client) Analyze(ctx context.Context, prompts []model.Prompt) ([]model.Candidate, error) {
	var out []model.Candidate
	for start := 0; start < len(prompts); start += c.batchSize {
		end := min(start+c.batchSize, len(prompts))
		cands, err := c.analyzeBatch(ctx, prompts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, cands...)
	}
	return out, nil
}

func (c *Client) analyzeBatch(ctx context.Context, prompts []model.Prompt) ([]model.Candidate, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: maxTokens,
		System:    DiscoverySystemPrompt,
		Messages:  []message{{Role: "user", Content: UserMessage(prompts)}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
			return nil, &TimeoutError{Err: ctxErr}
		}
		return nil, &UpstreamError{Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Err: ctx.Err()}
		}
		return nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	if err := statusError(resp, respBody); err != nil {
		return nil, err
	}

	var mr messagesResponse
	if err := json.Unmarshal(respBody, &mr); err != nil {
		return nil, &UpstreamError{Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	var text strings.Builder
	for _, block := range mr.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseDiscovery(text.String())
}

// statusError maps a non-2xx response to a typed error.
func statusError(resp *http.Response, body []byte) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := errorMessage(body)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthError{Status: resp.StatusCode, Message: msg}
	case resp.StatusCode == http.StatusTooManyRequests:
		e := &RateLimitError{Message: msg}
		if secs, err := strconv.Atoi(resp.Header.Get("retry-after")); err == nil {
			e.RetryAfter = time.Duration(secs) * time.Second
		}
		return e
	case resp.StatusCode == http.StatusRequestTimeout || resp.StatusCode == http.StatusGatewayTimeout:
		return &TimeoutError{Err: fmt.Errorf("status %d: %s", resp.StatusCode, msg)}
	default:
		return &UpstreamError{Status: resp.StatusCode, Err: errors.New(msg)}
	}
}

func errorMessage(body []byte) string {
	var eb apiErrorBody
	if json.Unmarshal(body, &eb) == nil && eb.Error.Message != "" {
		return eb.Error.Message
	}
	s := strings.TrimSpace(string(body))
	if len(s) > maxErrorBody {
		s = s[:maxErrorBody]
	}
	return s
}

// ParseDiscovery decodes the model's reply, tolerating a Markdown code
// fence around the JSON. Descriptions of custom categories are attached to
// the candidates filed under them; predefined categories keep their own.
func ParseDiscovery(text string) ([]model.Candidate, error) {
	var d discovery
	if err := json.Unmarshal([]byte(StripFence(text)), &d); err != nil {
		return nil, &UpstreamError{Err: fmt.Errorf("parse discovery JSON: %w", err)}
	}
	custom := make(map[string]string, len(d.CustomCategories))
	for _, c := range d.CustomCategories {
		name, desc := strings.TrimSpace(c.Name), strings.TrimSpace(c.Description)
		if name == "" || desc == "" || model.CategoryDescription(name) != "" {
			continue
		}
		if _, ok := custom[name]; !ok {
			custom[name] = desc
		}
	}
	out := make([]model.Candidate, 0, len(d.Patterns))
	for _, p := range d.Patterns {
		if strings.TrimSpace(p.Summary) == "" {
			continue
		}
		conf := p.Confidence
		if conf == "" {
			conf = "low"
		}
		out = append(out, model.Candidate{
			Category:            p.Category,
			CategoryDescription: custom[strings.TrimSpace(p.Category)],
			Text:                p.Summary,
			Confidence:          conf,
			Examples:            p.Examples,
		})
	}
	return out, nil
}

// StripFence returns the body of the first ```json (or bare ```) fence in
// text, or text unchanged when there is none.
func StripFence(text string) string {
	for _, open := range []string{"```json", "```"} {
		_, rest, ok := strings.Cut(text, open)
		if !ok {
			continue
		}
		body, _, _ := strings.Cut(rest, "```")
		return strings.TrimSpace(body)
	}
	return strings.TrimSpace(text)
}
