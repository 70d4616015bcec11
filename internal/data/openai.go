package data

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"
)

// generationRepo implements the Generation repository on an
// OpenAI-compatible chat completion endpoint
type generationRepo struct {
	client *openai.Client
	model  string
}

// NewGenerationRepo creates a generation repository. baseURL may be
// empty for the default endpoint.
func NewGenerationRepo(apiKey, baseURL, model string) repo.GenerationRepo {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &generationRepo{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

// Complete sends the assembled context and returns the generated text
func (r *generationRepo) Complete(ctx context.Context, req repo.CompletionRequest) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: req.System,
	})
	for _, m := range req.Messages {
		role := openai.ChatMessageRoleUser
		if m.Role == domain.RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Name:    m.AuthorName,
			Content: m.Text,
		})
	}

	resp, err := r.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    r.model,
		Messages: messages,
		User:     req.RequestID,
	})
	if err != nil {
		return "", classifyError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &domain.GenerationError{
			Kind: domain.GenUnavailable,
			Err:  fmt.Errorf("no response choices"),
		}
	}
	return resp.Choices[0].Message.Content, nil
}

// classifyError maps an upstream failure onto the pipeline's
// generation error taxonomy
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.GenerationError{Kind: domain.GenTimeout, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429:
			return &domain.GenerationError{Kind: domain.GenRateLimited, Err: err}
		case apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 500:
			return &domain.GenerationError{Kind: domain.GenInvalidRequest, Err: err}
		case apiErr.HTTPStatusCode >= 500:
			return &domain.GenerationError{Kind: domain.GenUnavailable, Err: err}
		}
	}
	return &domain.GenerationError{Kind: domain.GenUnavailable, Err: err}
}
