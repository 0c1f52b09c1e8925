// Package ollama implements the Suggester port over an Ollama-compatible chat API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.Suggester = (*Suggester)(nil)

const systemPrompt = "You are a DevOps expert. Provide brief, actionable suggestions."

// Config holds the chat endpoint settings.
type Config struct {
	BaseURL string // e.g. http://localhost:11434
	Model   string
	Token   string // Bearer token; empty sends no Authorization header.
}

// Suggester asks a chat model for a one-paragraph suggestion per diagnostic.
type Suggester struct {
	cfg        Config
	httpClient *http.Client
}

// NewSuggester creates a Suggester. Request deadlines come from the caller's context.
func NewSuggester(cfg Config) *Suggester {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Suggester{cfg: cfg, httpClient: &http.Client{}}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatResponse struct {
	Message chatMessage `json:"message"`
}

// Suggest returns the first paragraph of the model's reply. Non-2xx responses
// and empty replies return driven.ErrSuggestionUnavailable.
func (s *Suggester) Suggest(ctx context.Context, d model.Diagnostic) (string, error) {
	payload, err := json.Marshal(chatRequest{
		Model: s.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(d)},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("%w: ollama API error (%d): %s", driven.ErrSuggestionUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("ollama chat decode: %w", err)
	}

	suggestion := firstParagraph(out.Message.Content)
	if suggestion == "" {
		return "", driven.ErrSuggestionUnavailable
	}
	return suggestion, nil
}

// firstParagraph returns the first non-blank paragraph of s, trimmed.
func firstParagraph(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	for _, p := range strings.Split(s, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			return p
		}
	}
	return ""
}

func buildPrompt(d model.Diagnostic) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a DevOps expert analyzing CI/CD pipeline issues.\nGiven this diagnostic: %s\n\n", d.Message)
	b.WriteString("Provide a brief, actionable suggestion (1-2 sentences) on how to fix or investigate this issue.\n")
	b.WriteString("Focus on practical steps an engineer can take immediately.\n")

	md := d.Metadata
	switch d.Type {
	case model.DiagnosticRegression:
		fmt.Fprintf(&b, "\nThe build regressed %.1f%% after commit %s.\nWhat should the engineer check first?\n",
			number(md, "regression_percent"), shortHash(text(md, "commit_hash")))
	case model.DiagnosticStepRegression:
		fmt.Fprintf(&b, "\nStep '%s' regressed %.1f%%.\nWhat could cause this specific step to slow down?\n",
			text(md, "step_name"), number(md, "regression_percent"))
	case model.DiagnosticResourceWaste:
		fmt.Fprintf(&b, "\nResource limits are %.1f× higher than actual usage.\nWhat's the best way to optimize this?\n",
			number(md, "waste_ratio"))
	case model.DiagnosticCrossRepoRegressed:
		fmt.Fprintf(&b, "\nStep '%s' slowed down in %d repositories at once.\nWhat shared change could explain it?\n",
			text(md, "step_name"), int(number(md, "repo_count")))
	case model.DiagnosticPatternMatch:
		fmt.Fprintf(&b, "\nThis failure pattern has been seen %d times.\nWhat's the likely root cause and how to prevent it?\n",
			count(md, "matches"))
	}
	return b.String()
}

func number(md map[string]any, key string) float64 {
	switch v := md[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

func text(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return s
}

// count returns the length of a list value, or the value itself when numeric.
func count(md map[string]any, key string) int {
	switch v := md[key].(type) {
	case []any:
		return len(v)
	case []map[string]any:
		return len(v)
	}
	return int(number(md, key))
}

func shortHash(h string) string {
	if len(h) > 8 {
		return h[:8]
	}
	return h
}
