package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

func newTestSuggester(t *testing.T, token string, handler http.HandlerFunc) *Suggester {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return NewSuggester(Config{BaseURL: server.URL + "/", Model: "llama3.2", Token: token})
}

func regressionDiag() model.Diagnostic {
	return model.Diagnostic{
		Type:    model.DiagnosticRegression,
		Message: "Repo api is slow because builds regressed 25.0%.",
		Metadata: map[string]any{
			"regression_percent": 25.0,
			"commit_hash":        "0123456789abcdef",
		},
	}
}

func TestSuggest(t *testing.T) {
	var got chatRequest
	s := newTestSuggester(t, "secret", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"\n Bisect the dependency bump in 01234567. \n\nSecond paragraph."}}`))
	})

	text, err := s.Suggest(context.Background(), regressionDiag())
	require.NoError(t, err)
	assert.Equal(t, "Bisect the dependency bump in 01234567.", text)

	assert.Equal(t, "llama3.2", got.Model)
	assert.False(t, got.Stream)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Contains(t, got.Messages[1].Content, "regressed 25.0% after commit 01234567.")
}

func TestSuggest_NoToken(t *testing.T) {
	s := newTestSuggester(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"message":{"content":"ok"}}`))
	})

	_, err := s.Suggest(context.Background(), regressionDiag())
	require.NoError(t, err)
}

func TestSuggest_Unavailable(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"model not loaded"}`},
		{"empty content", http.StatusOK, `{"message":{"content":"   "}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSuggester(t, "", func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := s.Suggest(context.Background(), regressionDiag())
			assert.ErrorIs(t, err, driven.ErrSuggestionUnavailable)
		})
	}
}

func TestBuildPrompt(t *testing.T) {
	tests := []struct {
		name string
		diag model.Diagnostic
		want string
	}{
		{
			"step regression",
			model.Diagnostic{Type: model.DiagnosticStepRegression, Metadata: map[string]any{"step_name": "test", "regression_percent": 40.0}},
			"Step 'test' regressed 40.0%.",
		},
		{
			"resource waste",
			model.Diagnostic{Type: model.DiagnosticResourceWaste, Metadata: map[string]any{"waste_ratio": 2.5}},
			"Resource limits are 2.5× higher than actual usage.",
		},
		{
			"pattern match counts matches",
			model.Diagnostic{Type: model.DiagnosticPatternMatch, Metadata: map[string]any{
				"matches": []map[string]any{{"failure_id": 1}, {"failure_id": 2}},
			}},
			"This failure pattern has been seen 2 times.",
		},
		{
			"cross repo",
			model.Diagnostic{Type: model.DiagnosticCrossRepoRegressed, Metadata: map[string]any{"step_name": "lint", "repo_count": 3}},
			"Step 'lint' slowed down in 3 repositories at once.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Contains(t, buildPrompt(tt.diag), tt.want)
		})
	}
}

func TestFirstParagraph(t *testing.T) {
	assert.Equal(t, "one", firstParagraph("\r\n\r\n one \r\n\r\ntwo"))
	assert.Equal(t, "a\nb", firstParagraph("a\nb\n\nc"))
	assert.Empty(t, firstParagraph(" \n\n "))
}
