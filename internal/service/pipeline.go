package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"
	"github.com/replygate/replygate/internal/biz/usecase"
)

// Stage names one step of the per-event state machine
type Stage string

const (
	StageReceived       Stage = "RECEIVED"
	StageWhitelistCheck Stage = "WHITELIST_CHECK"
	StageOptOutCheck    Stage = "OPTOUT_CHECK"
	StageRateLimitCheck Stage = "RATE_LIMIT_CHECK"
	StageContextBuild   Stage = "CONTEXT_BUILD"
	StagePromptRender   Stage = "PROMPT_RENDER"
	StageGenerate       Stage = "GENERATE"
	StageReply          Stage = "REPLY"
	StageDone           Stage = "DONE"
	StageIgnored        Stage = "IGNORED"
	StageFailed         Stage = "FAILED"
)

// Outcome is the terminal result of one event
type Outcome struct {
	Stage Stage // DONE, IGNORED or FAILED
	At    Stage // the stage that terminated the pipeline
	Err   error // set only for FAILED
}

// Config holds the pipeline's tunable policy
type Config struct {
	BotName           string
	DefaultLockout    time.Duration
	HistoryLimit      int
	GenerateTimeout   time.Duration
	RetryMaxAttempts  int
	RetryBackoff      time.Duration
	NotifyRateLimited bool
	Debug             bool
}

const rateLimitNoticeTTL = 5 * time.Second

// Pipeline sequences admission control and context assembly for one
// inbound event at a time. Stages run strictly in order; each can
// terminate the event without affecting any other in-flight event.
type Pipeline struct {
	cfg       Config
	whitelist *usecase.Whitelist
	optout    *usecase.OptOutRegistry
	resolver  *usecase.ScopeResolver
	limiter   *usecase.RateLimiter
	assembler *usecase.ContextAssembler
	renderer  *usecase.PromptRenderer
	gateway   repo.GatewayRepo
	gen       repo.GenerationRepo

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPipeline wires the admission stages together
func NewPipeline(
	cfg Config,
	whitelist *usecase.Whitelist,
	optout *usecase.OptOutRegistry,
	resolver *usecase.ScopeResolver,
	limiter *usecase.RateLimiter,
	assembler *usecase.ContextAssembler,
	renderer *usecase.PromptRenderer,
	gateway repo.GatewayRepo,
	gen repo.GenerationRepo,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		whitelist: whitelist,
		optout:    optout,
		resolver:  resolver,
		limiter:   limiter,
		assembler: assembler,
		renderer:  renderer,
		gateway:   gateway,
		gen:       gen,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// SetClock replaces the pipeline's clock. Test hook.
func (p *Pipeline) SetClock(now func() time.Time) {
	p.now = now
}

// SetSleep replaces the retry backoff sleeper. Test hook.
func (p *Pipeline) SetSleep(sleep func(ctx context.Context, d time.Duration) error) {
	p.sleep = sleep
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Handle runs one event through the state machine
func (p *Pipeline) Handle(ctx context.Context, ev *domain.InboundEvent) Outcome {
	if p.cfg.Debug {
		fmt.Printf("[Pipeline] %s: event from %s in %s\n", StageReceived, ev.UserID, ev.ChannelID)
	}

	if outcome, handled := p.handleCommand(ctx, ev); handled {
		return outcome
	}

	// WHITELIST_CHECK
	if !p.whitelist.Allowed(ev.ChannelID, ev.CategoryID, ev.GuildID) {
		if p.cfg.Debug {
			fmt.Printf("[Pipeline] Channel %s not whitelisted, ignoring\n", ev.ChannelID)
		}
		return Outcome{Stage: StageIgnored, At: StageWhitelistCheck}
	}

	// OPTOUT_CHECK
	if p.optout.IsLockedOut(ctx, ev.UserID) {
		if p.cfg.Debug {
			fmt.Printf("[Pipeline] User %s is opted out, ignoring\n", ev.UserID)
		}
		return Outcome{Stage: StageIgnored, At: StageOptOutCheck}
	}

	// RATE_LIMIT_CHECK. Denial is final for this event.
	scopes := p.resolver.Resolve(ev)
	decision := p.limiter.Check(scopes)
	if !decision.Admitted {
		fmt.Printf("[Pipeline] Rate limited at %s scope for user %s\n", decision.DeniedKind, ev.UserID)
		if p.cfg.NotifyRateLimited && ev.InGroupChat() {
			notice := "Slow down a little, I am rate limited right now."
			if err := p.gateway.SendNotice(ctx, ev.ChannelID, notice, rateLimitNoticeTTL); err != nil {
				fmt.Printf("[Pipeline] Failed to send rate-limit notice: %v\n", err)
			}
		}
		return Outcome{Stage: StageIgnored, At: StageRateLimitCheck}
	}

	// CONTEXT_BUILD
	messages, err := p.buildContext(ctx, ev)
	if err != nil {
		return Outcome{Stage: StageFailed, At: StageContextBuild, Err: err}
	}

	// PROMPT_RENDER
	system, err := p.renderPrompt(ev)
	if err != nil {
		return Outcome{Stage: StageFailed, At: StagePromptRender, Err: err}
	}

	// GENERATE. Tokens already debited stay debited whatever happens
	// from here on.
	reply, err := p.generate(ctx, system, messages)
	if err != nil {
		p.notifyFailure(ctx, ev)
		return Outcome{Stage: StageFailed, At: StageGenerate, Err: err}
	}

	// REPLY
	if err := p.gateway.SendReply(ctx, ev.ChannelID, reply); err != nil {
		return Outcome{Stage: StageFailed, At: StageReply, Err: fmt.Errorf("send reply: %w", err)}
	}

	return Outcome{Stage: StageDone, At: StageDone}
}

// IsCommand reports whether text is one of the self-service commands
// the pipeline intercepts. Other bots' prefixed commands are not ours
// to answer.
func IsCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "!optout", "!optin":
		return true
	}
	return false
}

// handleCommand intercepts the self-service opt-out commands
func (p *Pipeline) handleCommand(ctx context.Context, ev *domain.InboundEvent) (Outcome, bool) {
	switch strings.ToLower(strings.TrimSpace(ev.Text)) {
	case "!optout":
		if err := p.optout.OptOut(ctx, ev.UserID, p.cfg.DefaultLockout); err != nil {
			return Outcome{Stage: StageFailed, At: StageOptOutCheck, Err: err}, true
		}
		days := int(p.cfg.DefaultLockout.Hours() / 24)
		text := fmt.Sprintf("Understood. I will ignore you for the next %d days. Say !optin to undo.", days)
		if err := p.gateway.SendReply(ctx, ev.ChannelID, text); err != nil {
			return Outcome{Stage: StageFailed, At: StageReply, Err: err}, true
		}
		return Outcome{Stage: StageDone, At: StageDone}, true
	case "!optin":
		if err := p.optout.OptIn(ctx, ev.UserID); err != nil {
			return Outcome{Stage: StageFailed, At: StageOptOutCheck, Err: err}, true
		}
		if err := p.gateway.SendReply(ctx, ev.ChannelID, "Welcome back."); err != nil {
			return Outcome{Stage: StageFailed, At: StageReply, Err: err}, true
		}
		return Outcome{Stage: StageDone, At: StageDone}, true
	}
	return Outcome{}, false
}

func (p *Pipeline) buildContext(ctx context.Context, ev *domain.InboundEvent) ([]domain.ContextMessage, error) {
	history, err := p.gateway.GetChannelHistory(ctx, ev.ChannelID, p.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("get channel history: %w", err)
	}

	// Display names for mention normalization, and the author set for
	// the opt-out scrub
	names := make(map[string]string, len(history))
	authors := make([]string, 0, len(history))
	for _, m := range history {
		if m.SenderID == "" {
			continue
		}
		names[m.SenderID] = m.SenderName
		authors = append(authors, m.SenderID)
	}
	excluded := p.optout.LockedOutSet(ctx, authors)
	delete(excluded, ev.UserID) // the trigger author already passed the opt-out check

	for i := range history {
		history[i].Content = usecase.NormalizeMarkup(history[i].Content, names)
		history[i].SenderName = usecase.SanitizeAuthorName(history[i].SenderName)
	}

	trigger := domain.Message{
		ID:         ev.EventID,
		ChannelID:  ev.ChannelID,
		SenderID:   ev.UserID,
		SenderName: usecase.SanitizeAuthorName(ev.SenderName),
		Content:    usecase.NormalizeMarkup(ev.Text, names),
		CreateTime: ev.Timestamp,
	}

	return p.assembler.Assemble(history, trigger, excluded), nil
}

func (p *Pipeline) renderPrompt(ev *domain.InboundEvent) (string, error) {
	templateID := "preprompt"
	if ev.IsDM && p.renderer.Has("dm_preprompt") {
		templateID = "dm_preprompt"
	}

	guild := ev.GuildID
	if guild == "" {
		guild = "none"
	}
	return p.renderer.Render(templateID, map[string]string{
		"name":         p.cfg.BotName,
		"channel":      ev.ChannelID,
		"guild":        guild,
		"current_time": p.now().UTC().Format("2006-01-02 15:04"),
	})
}

// generate calls the generation API, retrying transient failures with
// exponential backoff up to the configured attempt count
func (p *Pipeline) generate(ctx context.Context, system string, messages []domain.ContextMessage) (string, error) {
	req := repo.CompletionRequest{
		System:    system,
		Messages:  messages,
		RequestID: uuid.NewString(),
	}

	attempts := p.cfg.RetryMaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := p.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			fmt.Printf("[Pipeline] Retrying generation (attempt %d) after %s\n", attempt+1, backoff)
			if err := p.sleep(ctx, backoff); err != nil {
				return "", err
			}
		}

		callCtx := ctx
		var cancel context.CancelFunc
		if p.cfg.GenerateTimeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, p.cfg.GenerateTimeout)
		}
		text, err := p.gen.Complete(callCtx, req)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return text, nil
		}
		lastErr = err

		var genErr *domain.GenerationError
		if !errors.As(err, &genErr) || !genErr.Transient() {
			return "", err
		}
	}
	return "", lastErr
}

func (p *Pipeline) notifyFailure(ctx context.Context, ev *domain.InboundEvent) {
	text := "Sorry, something went wrong while generating a reply."
	if err := p.gateway.SendReply(ctx, ev.ChannelID, text); err != nil {
		fmt.Printf("[Pipeline] Failed to send failure notice: %v\n", err)
	}
}
