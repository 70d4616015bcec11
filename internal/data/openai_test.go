package data

import (
	"context"
	"errors"
	"fmt"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/replygate/replygate/internal/biz/domain"
)

func kindOf(t *testing.T, err error) domain.GenerationErrorKind {
	t.Helper()
	var genErr *domain.GenerationError
	if !errors.As(err, &genErr) {
		t.Fatalf("Expected *domain.GenerationError, got %T", err)
	}
	return genErr.Kind
}

func TestClassifyError(t *testing.T) {
	if got := kindOf(t, classifyError(context.DeadlineExceeded)); got != domain.GenTimeout {
		t.Errorf("Expected timeout for deadline exceeded, got %s", got)
	}
	if got := kindOf(t, classifyError(&openai.APIError{HTTPStatusCode: 429})); got != domain.GenRateLimited {
		t.Errorf("Expected rate limited for 429, got %s", got)
	}
	if got := kindOf(t, classifyError(&openai.APIError{HTTPStatusCode: 400})); got != domain.GenInvalidRequest {
		t.Errorf("Expected invalid request for 400, got %s", got)
	}
	if got := kindOf(t, classifyError(&openai.APIError{HTTPStatusCode: 503})); got != domain.GenUnavailable {
		t.Errorf("Expected unavailable for 503, got %s", got)
	}
	if got := kindOf(t, classifyError(fmt.Errorf("connection refused"))); got != domain.GenUnavailable {
		t.Errorf("Expected unavailable for transport error, got %s", got)
	}
}

func TestClassifyErrorTransience(t *testing.T) {
	transient := []error{
		classifyError(context.DeadlineExceeded),
		classifyError(&openai.APIError{HTTPStatusCode: 429}),
		classifyError(&openai.APIError{HTTPStatusCode: 500}),
	}
	for _, err := range transient {
		var genErr *domain.GenerationError
		errors.As(err, &genErr)
		if !genErr.Transient() {
			t.Errorf("Expected %s transient", genErr.Kind)
		}
	}

	var genErr *domain.GenerationError
	errors.As(classifyError(&openai.APIError{HTTPStatusCode: 400}), &genErr)
	if genErr.Transient() {
		t.Error("Expected invalid request not transient")
	}
}
