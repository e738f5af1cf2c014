package claude

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbonduro/cubby/internal/emoji"
)

func messageResponse(text string) map[string]any {
	return map[string]any{
		"id":          "msg_1",
		"type":        "message",
		"role":        "assistant",
		"model":       "claude-haiku-4-5",
		"stop_reason": "end_turn",
		"content":     []map[string]any{{"type": "text", "text": text}},
		"usage":       map[string]any{"input_tokens": 20, "output_tokens": 2},
	}
}

func TestSuggest(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("🧂"))
	}))
	defer srv.Close()

	s := NewSuggesterWithBaseURL("test-key", "claude-haiku-4-5", srv.URL)
	got, err := s.Suggest(context.Background(), "Salt", "coarse sea salt")
	require.NoError(t, err)
	assert.Equal(t, "🧂", got)

	assert.Equal(t, "claude-haiku-4-5", gotBody["model"])
	messages, ok := gotBody["messages"].([]any)
	require.True(t, ok)
	require.Len(t, messages, 1)
}

func TestSuggestNoEmoji(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(messageResponse("I am not sure."))
	}))
	defer srv.Close()

	_, err := NewSuggesterWithBaseURL("k", "m", srv.URL).Suggest(context.Background(), "Thing", "")
	assert.ErrorIs(t, err, emoji.ErrNoEmoji)
}

func TestSuggestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"type":  "error",
			"error": map[string]any{"type": "authentication_error", "message": "invalid x-api-key"},
		})
	}))
	defer srv.Close()

	_, err := NewSuggesterWithBaseURL("bad", "m", srv.URL).Suggest(context.Background(), "Thing", "")
	require.Error(t, err)
}
