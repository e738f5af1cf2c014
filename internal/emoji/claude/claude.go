package claude

import (
	"context"
	"errors"
	"fmt"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/vbonduro/cubby/internal/emoji"
)

// maxTokens leaves room for a multi-codepoint emoji plus any chatter the
// model adds despite the prompt.
const maxTokens = 16

type Suggester struct {
	client *anthropic.Client
	model  string
}

var _ emoji.Suggester = (*Suggester)(nil)

func NewSuggester(apiKey, model string) *Suggester {
	return &Suggester{client: anthropic.NewClient(apiKey), model: model}
}

// NewSuggesterWithBaseURL points the client at baseURL, e.g. a test server.
func NewSuggesterWithBaseURL(apiKey, model, baseURL string) *Suggester {
	return &Suggester{client: anthropic.NewClient(apiKey, anthropic.WithBaseURL(baseURL)), model: model}
}

func (s *Suggester) Suggest(ctx context.Context, title, description string) (string, error) {
	resp, err := s.client.CreateMessages(ctx, anthropic.MessagesRequest{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		Messages: []anthropic.Message{
			anthropic.NewUserTextMessage(emoji.Prompt(title, description)),
		},
	})
	if err != nil {
		var apiErr *anthropic.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("claude returned %s: %s", apiErr.Type, apiErr.Message)
		}
		return "", fmt.Errorf("failed to call claude: %w", err)
	}

	for _, c := range resp.Content {
		if c.Type == anthropic.MessagesContentTypeText {
			return emoji.ParseResponse(c.GetText())
		}
	}
	return "", emoji.ErrNoEmoji
}
