package mcpserver

import (
	"context"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/usecase"
)

// AdminServer provides MCP tools for operating the admission control
// state: opt-out entries, rate-limit configuration and the whitelist
type AdminServer struct {
	server    *mcp.Server
	optout    *usecase.OptOutRegistry
	limiter   *usecase.RateLimiter
	whitelist *usecase.Whitelist
}

// NewServer creates the admin MCP server
func NewServer(optout *usecase.OptOutRegistry, limiter *usecase.RateLimiter, whitelist *usecase.Whitelist) *AdminServer {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "replygate-admin",
		Version: "v1.0.0",
	}, nil)

	s := &AdminServer{
		server:    server,
		optout:    optout,
		limiter:   limiter,
		whitelist: whitelist,
	}
	s.registerTools()
	return s
}

func (s *AdminServer) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "optout_status",
		Description: "Check whether a user has an active opt-out lockout and when it expires.",
	}, s.handleOptOutStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "opt_out_user",
		Description: "Lock the bot out for a user for the given number of days. Refreshes an existing lockout.",
	}, s.handleOptOutUser)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "opt_in_user",
		Description: "Remove a user's opt-out lockout regardless of its remaining duration.",
	}, s.handleOptInUser)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "show_rate_limits",
		Description: "Show the configured rate limits per scope kind and the remaining tokens for a specific scope.",
	}, s.handleShowRateLimits)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "reset_rate_limit",
		Description: "Refill one scope's bucket to capacity. Intended for consume-only buckets with refill rate zero.",
	}, s.handleResetRateLimit)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "list_whitelist",
		Description: "List the configured whitelist IDs. An empty whitelist allows every channel.",
	}, s.handleListWhitelist)
}

// OptOutStatusInput is the input for optout_status
type OptOutStatusInput struct {
	UserID string `json:"user_id" jsonschema:"description=The platform user ID to check"`
}

// OptOutStatusOutput is the output for optout_status
type OptOutStatusOutput struct {
	LockedOut bool   `json:"locked_out"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

func (s *AdminServer) handleOptOutStatus(ctx context.Context, req *mcp.CallToolRequest, input OptOutStatusInput) (*mcp.CallToolResult, OptOutStatusOutput, error) {
	expires, locked := s.optout.Status(ctx, input.UserID)
	out := OptOutStatusOutput{LockedOut: locked}
	if locked {
		out.ExpiresAt = expires.UTC().Format(time.RFC3339)
	}
	return nil, out, nil
}

// OptOutUserInput is the input for opt_out_user
type OptOutUserInput struct {
	UserID string `json:"user_id" jsonschema:"description=The platform user ID to lock out"`
	Days   int    `json:"days" jsonschema:"description=Lockout duration in days. Defaults to 30."`
}

// OptOutUserOutput is the output for opt_out_user and opt_in_user
type OptOutUserOutput struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (s *AdminServer) handleOptOutUser(ctx context.Context, req *mcp.CallToolRequest, input OptOutUserInput) (*mcp.CallToolResult, OptOutUserOutput, error) {
	days := input.Days
	if days <= 0 {
		days = 30
	}
	err := s.optout.OptOut(ctx, input.UserID, time.Duration(days)*24*time.Hour)
	if err != nil {
		return nil, OptOutUserOutput{Success: false, Error: err.Error()}, nil
	}
	return nil, OptOutUserOutput{Success: true}, nil
}

// OptInUserInput is the input for opt_in_user
type OptInUserInput struct {
	UserID string `json:"user_id" jsonschema:"description=The platform user ID to opt back in"`
}

func (s *AdminServer) handleOptInUser(ctx context.Context, req *mcp.CallToolRequest, input OptInUserInput) (*mcp.CallToolResult, OptOutUserOutput, error) {
	if err := s.optout.OptIn(ctx, input.UserID); err != nil {
		return nil, OptOutUserOutput{Success: false, Error: err.Error()}, nil
	}
	return nil, OptOutUserOutput{Success: true}, nil
}

// ShowRateLimitsInput is the input for show_rate_limits
type ShowRateLimitsInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"description=Optional scope kind (user, channel, guild, global) to query remaining tokens for"`
	ID   string `json:"id,omitempty" jsonschema:"description=Scope ID to query remaining tokens for. Required with kind except for global."`
}

// KindLimit is one scope kind's configuration
type KindLimit struct {
	Kind            string  `json:"kind"`
	Capacity        int     `json:"capacity"`
	RefillPerSecond float64 `json:"refill_per_second"`
}

// ShowRateLimitsOutput is the output for show_rate_limits
type ShowRateLimitsOutput struct {
	Limits    []KindLimit `json:"limits"`
	Remaining *int        `json:"remaining,omitempty"`
	Error     string      `json:"error,omitempty"`
}

func (s *AdminServer) handleShowRateLimits(ctx context.Context, req *mcp.CallToolRequest, input ShowRateLimitsInput) (*mcp.CallToolResult, ShowRateLimitsOutput, error) {
	var out ShowRateLimitsOutput
	for kind, cfg := range s.limiter.Configs() {
		out.Limits = append(out.Limits, KindLimit{
			Kind:            string(kind),
			Capacity:        cfg.Capacity,
			RefillPerSecond: cfg.RefillPerSecond,
		})
	}

	if input.Kind != "" {
		key, ok := scopeKeyOf(input.Kind, input.ID)
		if !ok {
			out.Error = "unknown scope kind " + input.Kind
			return nil, out, nil
		}
		remaining := s.limiter.Remaining(key)
		out.Remaining = &remaining
	}
	return nil, out, nil
}

// ResetRateLimitInput is the input for reset_rate_limit
type ResetRateLimitInput struct {
	Kind string `json:"kind" jsonschema:"description=Scope kind (user, channel, guild, global)"`
	ID   string `json:"id,omitempty" jsonschema:"description=Scope ID. Ignored for global."`
}

func (s *AdminServer) handleResetRateLimit(ctx context.Context, req *mcp.CallToolRequest, input ResetRateLimitInput) (*mcp.CallToolResult, OptOutUserOutput, error) {
	key, ok := scopeKeyOf(input.Kind, input.ID)
	if !ok {
		return nil, OptOutUserOutput{Success: false, Error: "unknown scope kind " + input.Kind}, nil
	}
	s.limiter.Reset(key)
	return nil, OptOutUserOutput{Success: true}, nil
}

// ListWhitelistInput is empty, no input needed
type ListWhitelistInput struct{}

// ListWhitelistOutput is the output for list_whitelist
type ListWhitelistOutput struct {
	IDs      []string `json:"ids"`
	AllowAll bool     `json:"allow_all"`
}

func (s *AdminServer) handleListWhitelist(ctx context.Context, req *mcp.CallToolRequest, input ListWhitelistInput) (*mcp.CallToolResult, ListWhitelistOutput, error) {
	ids := s.whitelist.Listed()
	return nil, ListWhitelistOutput{IDs: ids, AllowAll: len(ids) == 0}, nil
}

func scopeKeyOf(kind, id string) (domain.ScopeKey, bool) {
	k := domain.ScopeKind(kind)
	if !k.IsValid() {
		return domain.ScopeKey{}, false
	}
	if k == domain.ScopeGlobal {
		return domain.GlobalScope, true
	}
	return domain.ScopeKey{Kind: k, ID: id}, true
}

// Run serves MCP over stdio until the context is cancelled
func (s *AdminServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
