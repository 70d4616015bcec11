package conf

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/replygate/replygate/internal/biz/domain"
)

func writeLimits(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rate_limits.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	return path
}

func TestLoadRateLimits(t *testing.T) {
	path := writeLimits(t, `
user:
  capacity: 5
  refill_per_second: 1
global:
  capacity: 100
  refill_per_second: 2.5
`)

	limits, err := LoadRateLimits(path)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(limits) != 2 {
		t.Fatalf("Expected 2 configured kinds, got %d", len(limits))
	}
	if limits[domain.ScopeUser].Capacity != 5 {
		t.Errorf("Expected user capacity 5, got %d", limits[domain.ScopeUser].Capacity)
	}
	if limits[domain.ScopeGlobal].RefillPerSecond != 2.5 {
		t.Errorf("Expected global refill 2.5, got %f", limits[domain.ScopeGlobal].RefillPerSecond)
	}
	if _, ok := limits[domain.ScopeGuild]; ok {
		t.Error("Expected omitted kind to stay unconfigured")
	}
}

func TestLoadRateLimitsMalformedIsFatal(t *testing.T) {
	path := writeLimits(t, "user: [not a map")

	if _, err := LoadRateLimits(path); err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestLoadRateLimitsNegativeValuesAreFatal(t *testing.T) {
	path := writeLimits(t, `
user:
  capacity: -1
  refill_per_second: 1
`)

	if _, err := LoadRateLimits(path); err == nil {
		t.Fatal("Expected error for negative capacity")
	}
}

func TestLoadRateLimitsMissingExplicitPathIsFatal(t *testing.T) {
	if _, err := LoadRateLimits(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error when the configured path cannot be read")
	}
}
