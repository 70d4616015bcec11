package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Platform selects the gateway adapter
type Platform string

const (
	PlatformDiscord Platform = "discord"
	PlatformFeishu  Platform = "feishu"
)

// Config represents application configuration
type Config struct {
	// Gateway selection
	Platform Platform

	// Discord configuration
	Discord DiscordConfig

	// Feishu configuration
	Feishu FeishuConfig

	// Generation API configuration
	OpenAI OpenAIConfig

	// Opt-out configuration
	OptOut OptOutConfig

	// Admission and pipeline configuration
	Pipeline PipelineConfig

	// Debug mode
	Debug bool
}

// DiscordConfig contains Discord gateway configuration
type DiscordConfig struct {
	Token string
}

// FeishuConfig contains Feishu gateway configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// OpenAIConfig contains generation API configuration
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // empty uses the default endpoint
	Model   string
}

// OptOutConfig contains opt-out registry configuration
type OptOutConfig struct {
	DBPath         string
	DefaultLockout time.Duration
}

// PipelineConfig contains admission and pipeline configuration
type PipelineConfig struct {
	BotName             string
	RateLimitConfigPath string
	TemplateDir         string
	ContextTokenBudget  int
	HistoryLimit        int
	Whitelist           []string
	GenerateTimeout     time.Duration
	RetryMaxAttempts    int
	RetryBackoff        time.Duration
	WorkerCount         int
	NotifyRateLimited   bool
}

// ConfigError reports a startup configuration defect. Fatal; the
// process does not start serving.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %s", e.Field, e.Reason)
}

func envInt(name string, def int) int {
	if val := os.Getenv(name); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	platform := Platform(os.Getenv("PLATFORM"))
	if platform == "" {
		platform = PlatformDiscord
	}

	// Opt-out DB path
	dbPath := os.Getenv("OPTOUT_DB_PATH")
	if dbPath == "" {
		homeDir, _ := os.UserHomeDir()
		dbPath = filepath.Join(homeDir, ".replygate", "optout.db")
	}

	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	templateDir := os.Getenv("TEMPLATE_DIR")
	if templateDir == "" {
		templateDir = "templates"
	}

	var whitelist []string
	if raw := os.Getenv("WHITELIST"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				whitelist = append(whitelist, id)
			}
		}
	}

	return &Config{
		Platform: platform,
		Discord: DiscordConfig{
			Token: os.Getenv("DISCORD_TOKEN"),
		},
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   model,
		},
		OptOut: OptOutConfig{
			DBPath:         dbPath,
			DefaultLockout: time.Duration(envInt("OPTOUT_LOCKOUT_DAYS", 30)) * 24 * time.Hour,
		},
		Pipeline: PipelineConfig{
			BotName:             getenvDefault("BOT_NAME", "replygate"),
			RateLimitConfigPath: os.Getenv("RATE_LIMIT_CONFIG_PATH"),
			TemplateDir:         templateDir,
			ContextTokenBudget:  envInt("CONTEXT_TOKEN_BUDGET", 800),
			HistoryLimit:        envInt("HISTORY_LIMIT", 50),
			Whitelist:           whitelist,
			GenerateTimeout:     time.Duration(envInt("GENERATE_TIMEOUT_SECONDS", 60)) * time.Second,
			RetryMaxAttempts:    envInt("RETRY_MAX_ATTEMPTS", 3),
			RetryBackoff:        time.Duration(envInt("RETRY_BACKOFF_MS", 500)) * time.Millisecond,
			WorkerCount:         envInt("WORKER_COUNT", 8),
			NotifyRateLimited:   os.Getenv("NOTIFY_RATE_LIMITED") == "true",
		},
		Debug: os.Getenv("DEBUG") == "true",
	}
}

func getenvDefault(name, def string) string {
	if val := os.Getenv(name); val != "" {
		return val
	}
	return def
}

// Validate checks that the configuration can serve at all
func (c *Config) Validate() error {
	switch c.Platform {
	case PlatformDiscord:
		if c.Discord.Token == "" {
			return &ConfigError{Field: "DISCORD_TOKEN", Reason: "required for platform discord"}
		}
	case PlatformFeishu:
		if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
			return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Reason: "required for platform feishu"}
		}
	default:
		return &ConfigError{Field: "PLATFORM", Reason: fmt.Sprintf("unknown platform %q", c.Platform)}
	}

	if c.OpenAI.APIKey == "" {
		return &ConfigError{Field: "OPENAI_API_KEY", Reason: "required"}
	}
	if c.Pipeline.ContextTokenBudget < 0 {
		return &ConfigError{Field: "CONTEXT_TOKEN_BUDGET", Reason: "must be non-negative"}
	}
	if c.Pipeline.WorkerCount < 1 {
		return &ConfigError{Field: "WORKER_COUNT", Reason: "must be at least 1"}
	}
	return nil
}
