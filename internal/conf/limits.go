package conf

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/replygate/replygate/internal/biz/domain"
)

// limitEntry is the YAML shape of one scope kind's limit
type limitEntry struct {
	Capacity        int     `yaml:"capacity"`
	RefillPerSecond float64 `yaml:"refill_per_second"`
}

// rateLimitsFile is the YAML shape of rate_limits.yaml. A kind left
// out of the file is unlimited.
type rateLimitsFile struct {
	User    *limitEntry `yaml:"user"`
	Channel *limitEntry `yaml:"channel"`
	Guild   *limitEntry `yaml:"guild"`
	Global  *limitEntry `yaml:"global"`
}

// DefaultRateLimits mirror the sample config shipped with the repo
func DefaultRateLimits() map[domain.ScopeKind]domain.BucketConfig {
	return map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser:    {Capacity: 5, RefillPerSecond: 0.05},
		domain.ScopeChannel: {Capacity: 10, RefillPerSecond: 0.1},
		domain.ScopeGuild:   {Capacity: 30, RefillPerSecond: 0.5},
		domain.ScopeGlobal:  {Capacity: 100, RefillPerSecond: 2},
	}
}

// LoadRateLimits loads the per-kind limiter parameters. With no path
// configured it tries the usual locations and falls back to defaults
// when no file exists; a file that exists but does not parse or
// validate is fatal.
func LoadRateLimits(configPath string) (map[domain.ScopeKind]domain.BucketConfig, error) {
	paths := []string{configPath}
	if configPath == "" {
		paths = []string{
			"configs/rate_limits.yaml",
			"./configs/rate_limits.yaml",
			"/etc/replygate/rate_limits.yaml",
		}
		if execPath, err := os.Executable(); err == nil {
			paths = append(paths, filepath.Join(filepath.Dir(execPath), "configs", "rate_limits.yaml"))
		}
	}

	var data []byte
	var loadedPath string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if b, err := os.ReadFile(p); err == nil {
			data = b
			loadedPath = p
			break
		}
	}

	if data == nil {
		if configPath != "" {
			return nil, &ConfigError{Field: "RATE_LIMIT_CONFIG_PATH", Reason: fmt.Sprintf("cannot read %s", configPath)}
		}
		fmt.Println("[Config] No rate_limits.yaml found, using defaults")
		return DefaultRateLimits(), nil
	}

	fmt.Printf("[Config] Loading rate limits from: %s\n", loadedPath)

	var file rateLimitsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &ConfigError{Field: "rate_limits.yaml", Reason: fmt.Sprintf("failed to parse: %v", err)}
	}

	limits := make(map[domain.ScopeKind]domain.BucketConfig)
	entries := map[domain.ScopeKind]*limitEntry{
		domain.ScopeUser:    file.User,
		domain.ScopeChannel: file.Channel,
		domain.ScopeGuild:   file.Guild,
		domain.ScopeGlobal:  file.Global,
	}
	for kind, entry := range entries {
		if entry == nil {
			continue
		}
		if entry.Capacity < 0 {
			return nil, &ConfigError{Field: "rate_limits.yaml", Reason: fmt.Sprintf("%s capacity must be non-negative", kind)}
		}
		if entry.RefillPerSecond < 0 {
			return nil, &ConfigError{Field: "rate_limits.yaml", Reason: fmt.Sprintf("%s refill_per_second must be non-negative", kind)}
		}
		limits[kind] = domain.BucketConfig{
			Capacity:        entry.Capacity,
			RefillPerSecond: entry.RefillPerSecond,
		}
	}

	return limits, nil
}
