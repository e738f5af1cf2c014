package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/vbonduro/cubby/internal/emoji"
)

type Suggester struct {
	host   string
	model  string
	client *http.Client
}

var _ emoji.Suggester = (*Suggester)(nil)

func NewSuggester(host, model string) *Suggester {
	return &Suggester{
		host:   host,
		model:  model,
		client: &http.Client{},
	}
}

func (s *Suggester) Suggest(ctx context.Context, title, description string) (string, error) {
	payload, err := json.Marshal(map[string]any{
		"model":  s.model,
		"prompt": emoji.Prompt(title, description),
		"stream": false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call ollama: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Error("failed to close ollama response body", "error", err)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ollama returned status %d", resp.StatusCode)
	}

	var respBody struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	return emoji.ParseResponse(respBody.Response)
}
