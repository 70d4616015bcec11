package repo

import (
	"context"

	"github.com/replygate/replygate/internal/biz/domain"
)

// CompletionRequest is one assembled generation call
type CompletionRequest struct {
	// System is the rendered preprompt
	System string

	// Messages is the bounded conversation context, newest last
	Messages []domain.ContextMessage

	// RequestID tags the call for upstream abuse attribution and logs
	RequestID string
}

// GenerationRepo calls the generative-text API.
// Failures are returned as *domain.GenerationError so the pipeline
// can distinguish transient classes for retry.
type GenerationRepo interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}
