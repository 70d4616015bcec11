package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"
	"github.com/replygate/replygate/internal/biz/usecase"
)

type mockGateway struct {
	mu      sync.Mutex
	history []domain.Message
	histErr error
	replies []string
	notices []string
	sendErr error
}

func (m *mockGateway) GetChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	if m.histErr != nil {
		return nil, m.histErr
	}
	return m.history, nil
}

func (m *mockGateway) SendReply(ctx context.Context, channelID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.replies = append(m.replies, text)
	return nil
}

func (m *mockGateway) SendNotice(ctx context.Context, channelID, text string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

type mockGeneration struct {
	mu    sync.Mutex
	calls int
	// errs are returned in order; once exhausted, text is returned
	errs []error
	text string
	last repo.CompletionRequest
}

func (m *mockGeneration) Complete(ctx context.Context, req repo.CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = req
	m.calls++
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	return m.text, nil
}

type mockOptOutStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
}

func newMockOptOutStore() *mockOptOutStore {
	return &mockOptOutStore{entries: make(map[string]time.Time)}
}

func (m *mockOptOutStore) LoadAll(ctx context.Context) ([]domain.OptOutEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OptOutEntry
	for id, exp := range m.entries {
		out = append(out, domain.OptOutEntry{UserID: id, LockoutExpiresAt: exp})
	}
	return out, nil
}

func (m *mockOptOutStore) Save(ctx context.Context, e domain.OptOutEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[e.UserID] = e.LockoutExpiresAt
	return nil
}

func (m *mockOptOutStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, userID)
	return nil
}

func (m *mockOptOutStore) Close() error { return nil }

type fixture struct {
	pipeline *Pipeline
	gateway  *mockGateway
	gen      *mockGeneration
	limiter  *usecase.RateLimiter
	optout   *usecase.OptOutRegistry
	sleeps   *int
}

func newFixture(t *testing.T, cfg Config, whitelist []string, limits map[domain.ScopeKind]domain.BucketConfig) *fixture {
	t.Helper()

	if cfg.BotName == "" {
		cfg.BotName = "replygate"
	}
	if cfg.DefaultLockout == 0 {
		cfg.DefaultLockout = 30 * 24 * time.Hour
	}
	if cfg.HistoryLimit == 0 {
		cfg.HistoryLimit = 50
	}
	if cfg.RetryMaxAttempts == 0 {
		cfg.RetryMaxAttempts = 3
	}
	if limits == nil {
		limits = map[domain.ScopeKind]domain.BucketConfig{
			domain.ScopeUser:   {Capacity: 5, RefillPerSecond: 1},
			domain.ScopeGlobal: {Capacity: 100, RefillPerSecond: 10},
		}
	}

	optout, err := usecase.NewOptOutRegistry(context.Background(), newMockOptOutStore())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	limiter := usecase.NewRateLimiter(limits)
	assembler, err := usecase.NewContextAssembler(500, nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	renderer := usecase.NewPromptRendererFromMap(map[string]string{
		"preprompt": "You are {{name}} in {{channel}} ({{guild}}) at {{current_time}}.",
	})

	gateway := &mockGateway{}
	gen := &mockGeneration{text: "a generated reply"}

	p := NewPipeline(cfg, usecase.NewWhitelist(whitelist), optout,
		usecase.NewScopeResolver(), limiter, assembler, renderer, gateway, gen)

	sleeps := 0
	p.SetSleep(func(ctx context.Context, d time.Duration) error {
		sleeps++
		return nil
	})

	return &fixture{pipeline: p, gateway: gateway, gen: gen, limiter: limiter, optout: optout, sleeps: &sleeps}
}

func serverEvent() *domain.InboundEvent {
	return &domain.InboundEvent{
		EventID:    "e1",
		UserID:     "u1",
		SenderName: "alice",
		ChannelID:  "c1",
		GuildID:    "g1",
		Text:       "hello bot",
		Timestamp:  time.Now(),
	}
}

func TestHandleHappyPath(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	f.gateway.history = []domain.Message{
		{ID: "m1", SenderID: "u2", SenderName: "bob", Content: "earlier message"},
	}

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageDone {
		t.Fatalf("Expected DONE, got %s at %s (%v)", out.Stage, out.At, out.Err)
	}
	if len(f.gateway.replies) != 1 || f.gateway.replies[0] != "a generated reply" {
		t.Errorf("Expected generated reply sent, got %v", f.gateway.replies)
	}
	if f.gen.last.System == "" {
		t.Error("Expected rendered preprompt in the request")
	}
	if f.gen.last.RequestID == "" {
		t.Error("Expected a request ID assigned")
	}
	if len(f.gen.last.Messages) != 2 {
		t.Errorf("Expected history plus trigger in context, got %d", len(f.gen.last.Messages))
	}
}

func TestHandleWhitelistDenies(t *testing.T) {
	f := newFixture(t, Config{}, []string{"other-channel"}, nil)

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageIgnored || out.At != StageWhitelistCheck {
		t.Fatalf("Expected IGNORED at whitelist, got %s at %s", out.Stage, out.At)
	}
	if len(f.gateway.replies) != 0 {
		t.Error("Expected no reply for a non-whitelisted channel")
	}
}

func TestHandleOptedOutUserSkipsRateLimiter(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	if err := f.optout.OptOut(context.Background(), "u1", 30*24*time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageIgnored || out.At != StageOptOutCheck {
		t.Fatalf("Expected IGNORED at opt-out check, got %s at %s", out.Stage, out.At)
	}
	// The rate limiter must be untouched by an opt-out denial
	if got := f.limiter.Remaining(domain.UserScope("u1")); got != 5 {
		t.Errorf("Expected user bucket untouched at 5, got %d", got)
	}
}

func TestHandleRateLimitDenied(t *testing.T) {
	f := newFixture(t, Config{NotifyRateLimited: true}, nil, map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser: {Capacity: 1, RefillPerSecond: 0},
	})
	ev := serverEvent()

	if out := f.pipeline.Handle(context.Background(), ev); out.Stage != StageDone {
		t.Fatalf("Expected first event to pass, got %s at %s (%v)", out.Stage, out.At, out.Err)
	}

	out := f.pipeline.Handle(context.Background(), ev)
	if out.Stage != StageIgnored || out.At != StageRateLimitCheck {
		t.Fatalf("Expected IGNORED at rate limit, got %s at %s", out.Stage, out.At)
	}
	if len(f.gateway.notices) != 1 {
		t.Errorf("Expected one rate-limit notice, got %d", len(f.gateway.notices))
	}
}

func TestHandleRetriesTransientGenerationFailure(t *testing.T) {
	f := newFixture(t, Config{RetryMaxAttempts: 3}, nil, nil)
	f.gen.errs = []error{
		&domain.GenerationError{Kind: domain.GenUnavailable},
		&domain.GenerationError{Kind: domain.GenRateLimited},
	}

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageDone {
		t.Fatalf("Expected DONE after retries, got %s (%v)", out.Stage, out.Err)
	}
	if f.gen.calls != 3 {
		t.Errorf("Expected 3 generation attempts, got %d", f.gen.calls)
	}
	if *f.sleeps != 2 {
		t.Errorf("Expected 2 backoff sleeps, got %d", *f.sleeps)
	}
}

func TestHandleInvalidRequestDoesNotRetry(t *testing.T) {
	f := newFixture(t, Config{RetryMaxAttempts: 3}, nil, nil)
	f.gen.errs = []error{
		&domain.GenerationError{Kind: domain.GenInvalidRequest},
	}

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageFailed || out.At != StageGenerate {
		t.Fatalf("Expected FAILED at generate, got %s at %s", out.Stage, out.At)
	}
	if f.gen.calls != 1 {
		t.Errorf("Expected a single attempt for invalid request, got %d", f.gen.calls)
	}
}

func TestHandleNoTokenRefundOnFailure(t *testing.T) {
	f := newFixture(t, Config{RetryMaxAttempts: 1}, nil, map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser: {Capacity: 5, RefillPerSecond: 0},
	})
	f.gen.errs = []error{
		&domain.GenerationError{Kind: domain.GenTimeout},
	}

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageFailed {
		t.Fatalf("Expected FAILED, got %s", out.Stage)
	}
	if got := f.limiter.Remaining(domain.UserScope("u1")); got != 4 {
		t.Errorf("Expected debited token not refunded, remaining %d", got)
	}
}

func TestHandleOptOutCommand(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	ev := serverEvent()
	ev.Text = "!optout"

	out := f.pipeline.Handle(context.Background(), ev)
	if out.Stage != StageDone {
		t.Fatalf("Expected DONE, got %s (%v)", out.Stage, out.Err)
	}
	if !f.optout.IsLockedOut(context.Background(), "u1") {
		t.Error("Expected user locked out after !optout")
	}
	if len(f.gateway.replies) != 1 {
		t.Fatalf("Expected confirmation reply, got %d", len(f.gateway.replies))
	}

	ev.Text = "!optin"
	if out := f.pipeline.Handle(context.Background(), ev); out.Stage != StageDone {
		t.Fatalf("Expected DONE, got %s", out.Stage)
	}
	if f.optout.IsLockedOut(context.Background(), "u1") {
		t.Error("Expected lockout cleared after !optin")
	}
}

func TestHandleScrubsLockedOutAuthors(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	if err := f.optout.OptOut(context.Background(), "u2", 30*24*time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	f.gateway.history = []domain.Message{
		{ID: "m1", SenderID: "u2", SenderName: "bob", Content: "from an opted-out user"},
		{ID: "m2", SenderID: "u3", SenderName: "carol", Content: "a normal message"},
	}

	out := f.pipeline.Handle(context.Background(), serverEvent())
	if out.Stage != StageDone {
		t.Fatalf("Expected DONE, got %s (%v)", out.Stage, out.Err)
	}
	for _, m := range f.gen.last.Messages {
		if m.AuthorID == "u2" {
			t.Error("Expected opted-out author scrubbed from context")
		}
	}
	if len(f.gen.last.Messages) != 2 {
		t.Errorf("Expected scrubbed context of 2 messages, got %d", len(f.gen.last.Messages))
	}
}
