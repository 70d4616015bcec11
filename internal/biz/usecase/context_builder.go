package usecase

import (
	"fmt"
	"unicode/utf8"

	"github.com/replygate/replygate/internal/biz/domain"
)

// TokenEstimator approximates the token cost of a text. Estimates
// must be monotonic: longer text never estimates fewer tokens.
type TokenEstimator func(text string) int

// DefaultTokenEstimator approximates one token per six runes
func DefaultTokenEstimator(text string) int {
	return utf8.RuneCountInString(text) / 6
}

// ContextAssembler builds the bounded conversation window attached to
// a generation request. Stateless between requests; the same log and
// budget always produce the same context.
type ContextAssembler struct {
	budget   int
	estimate TokenEstimator
}

// NewContextAssembler creates an assembler with a token budget. A
// negative budget is a configuration defect, not a runtime condition.
func NewContextAssembler(budget int, estimate TokenEstimator) (*ContextAssembler, error) {
	if budget < 0 {
		return nil, fmt.Errorf("context token budget must be non-negative, got %d", budget)
	}
	if estimate == nil {
		estimate = DefaultTokenEstimator
	}
	return &ContextAssembler{budget: budget, estimate: estimate}, nil
}

// Assemble returns the longest suffix of the channel log, newest
// last, whose estimated token cost fits the budget. The triggering
// message is always present, truncated as a last resort rather than
// dropped. Messages with empty content and messages from excluded
// authors are skipped.
func (a *ContextAssembler) Assemble(
	log []domain.Message,
	trigger domain.Message,
	excluded map[string]struct{},
) []domain.ContextMessage {
	current := domain.FromMessage(trigger)
	spent := a.estimate(current.Text)
	if spent > a.budget {
		current.Text = a.truncate(current.Text, a.budget)
		return []domain.ContextMessage{current}
	}

	// Walk the log newest-first, taking messages while they fit
	var picked []domain.ContextMessage
	for i := len(log) - 1; i >= 0; i-- {
		m := log[i]
		if m.ID == trigger.ID {
			continue
		}
		if m.Content == "" {
			continue
		}
		if _, out := excluded[m.SenderID]; out {
			continue
		}
		cost := a.estimate(m.Content)
		if spent+cost > a.budget {
			break
		}
		spent += cost
		picked = append(picked, domain.FromMessage(m))
	}

	// Reverse to chronological order and put the trigger last
	result := make([]domain.ContextMessage, 0, len(picked)+1)
	for i := len(picked) - 1; i >= 0; i-- {
		result = append(result, picked[i])
	}
	return append(result, current)
}

// truncate returns the longest rune prefix whose estimate fits the
// budget. Binary search is valid because the estimator is monotonic.
func (a *ContextAssembler) truncate(text string, budget int) string {
	runes := []rune(text)
	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if a.estimate(string(runes[:mid])) <= budget {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return string(runes[:lo])
}
