package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kjstillabower/pathogen-map-dashboard/internal/grist"
)

const minimalEnvYAML = `
server:
  port: "8050"
grist:
  doc_id: "doc-from-yaml"
  table_id: "Pathogens"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
reliability:
  retry_max_attempts: 3
  retry_base_delay: "100ms"
  retry_max_delay: "2s"
  rate_limit_rps: 5
  rate_limit_burst: 10
shutdown:
  timeout: "10s"
`

// overriddenVars are cleared for every test so the host environment cannot leak in.
var overriddenVars = []string{
	"ENV_NAME", "GRIST_API_KEY", "GRIST_DOC_ID", "GRIST_TABLE_ID", "GRIST_URL",
	"CACHE_BACKEND", "MEMCACHED_ADDRS", "DEBUG", "HOST", "PORT",
}

// setupDir creates a temp project root with config/dev.yaml, chdirs into it and
// unsets every override variable for the duration of the test.
func setupDir(t *testing.T, yaml string) string {
	t.Helper()
	for _, k := range overriddenVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	dir := t.TempDir()
	writeEnvFile(t, dir, yaml)
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() { _ = os.Chdir(origWd) })
	return dir
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	setupDir(t, minimalEnvYAML)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no GRIST_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "GRIST_API_KEY") {
		t.Errorf("Load() error = %v, want message containing GRIST_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "grist_api_key: key-from-secrets-file\n")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GristAPIKey != "key-from-secrets-file" {
		t.Errorf("GristAPIKey = %q, want key from secrets file", cfg.GristAPIKey)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML)
	content := "GRIST_API_KEY=key-from-dotenv\nGRIST_DOC_ID=doc-from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(content), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("GRIST_API_KEY")
		os.Unsetenv("GRIST_DOC_ID")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GristAPIKey != "key-from-dotenv" {
		t.Errorf("GristAPIKey = %q, want key-from-dotenv", cfg.GristAPIKey)
	}
	if cfg.GristDocID != "doc-from-dotenv" {
		t.Errorf("GristDocID = %q, want .env to override YAML", cfg.GristDocID)
	}
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("GRIST_API_KEY=key-from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("GRIST_API_KEY", "key-from-env-1234")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GristAPIKey != "key-from-env-1234" {
		t.Errorf("GristAPIKey = %q, want environment to win over .env", cfg.GristAPIKey)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	setupDir(t, minimalEnvYAML)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Setenv("GRIST_API_KEY", "test-key-12345")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "config file not found") {
		t.Errorf("Load() error = %v, want config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setupDir(t, "grist:\n  doc_id: d\n  table_id: t\n")
	t.Setenv("GRIST_API_KEY", "test-key-12345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Addr", cfg.Addr(), "0.0.0.0:8050"},
		{"Debug", cfg.Debug, false},
		{"GristURL", cfg.GristURL, grist.DefaultBaseURL},
		{"GristTimeout", cfg.GristTimeout, 10 * time.Second},
		{"GristCoordinatePolicy", cfg.GristCoordinatePolicy, grist.CoordinatesTruthy},
		{"DashboardTitle", cfg.DashboardTitle, "Pathogen Distribution Map"},
		{"RefreshInterval", cfg.RefreshInterval, 5 * time.Minute},
		{"CacheEnabled", cfg.CacheEnabled, true},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"CacheTTL", cfg.CacheTTL, 5 * time.Minute},
		{"StaleCacheTTL", cfg.StaleCacheTTL, time.Hour},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"RequestTimeout", cfg.RequestTimeout, 30 * time.Second},
		{"CacheKey", cfg.CacheKey(), "d/t"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setupDir(t, minimalEnvYAML)
	t.Setenv("GRIST_API_KEY", "test-key-12345")
	t.Setenv("GRIST_DOC_ID", "doc-from-env")
	t.Setenv("GRIST_TABLE_ID", "Outbreaks")
	t.Setenv("GRIST_URL", "https://grist.example.org")
	t.Setenv("CACHE_BACKEND", "Memcached")
	t.Setenv("MEMCACHED_ADDRS", "cache:11211")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.GristDocID != "doc-from-env" || cfg.GristTableID != "Outbreaks" {
		t.Errorf("doc/table = %q/%q, want env values", cfg.GristDocID, cfg.GristTableID)
	}
	if cfg.GristURL != "https://grist.example.org" {
		t.Errorf("GristURL = %q", cfg.GristURL)
	}
	if cfg.CacheBackend != "memcached" || cfg.MemcachedAddrs != "cache:11211" {
		t.Errorf("cache = %q at %q", cfg.CacheBackend, cfg.MemcachedAddrs)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	setupDir(t, minimalEnvYAML+"dashboard:\n  refresh_interval: \"soon\"\n")
	t.Setenv("GRIST_API_KEY", "test-key-12345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %v, want 5m default", cfg.RefreshInterval)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{"missing doc", "grist:\n  table_id: t\n", "GRIST_DOC_ID"},
		{"missing table", "grist:\n  doc_id: d\n", "GRIST_TABLE_ID"},
		{"zero grist timeout", "grist:\n  doc_id: d\n  table_id: t\n  timeout: \"0s\"\n", "grist.timeout"},
		{"bad backend", "grist:\n  doc_id: d\n  table_id: t\ncache:\n  backend: redis\n", "cache.backend"},
		{"bad policy", "grist:\n  doc_id: d\n  table_id: t\n  coordinate_policy: lenient\n", "coordinate_policy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setupDir(t, tt.yaml)
			t.Setenv("GRIST_API_KEY", "test-key-12345")

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantMsg)
			}
		})
	}
}

func TestLoad_RequestTimeoutRaisedAboveGristTimeout(t *testing.T) {
	setupDir(t, "grist:\n  doc_id: d\n  table_id: t\n  timeout: \"20s\"\nrequest:\n  timeout: \"5s\"\n")
	t.Setenv("GRIST_API_KEY", "test-key-12345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.RequestTimeout != 21*time.Second {
		t.Errorf("RequestTimeout = %v, want 21s", cfg.RequestTimeout)
	}
}

func TestLoad_CacheAndBreakerCanBeDisabled(t *testing.T) {
	setupDir(t, `
debug: true
grist:
  doc_id: d
  table_id: t
cache:
  enabled: false
  stale_ttl: "0s"
reliability:
  circuit_breaker:
    enabled: false
`)
	t.Setenv("GRIST_API_KEY", "test-key-12345")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheEnabled {
		t.Error("CacheEnabled = true, want false")
	}
	if cfg.StaleCacheTTL != 0 {
		t.Errorf("StaleCacheTTL = %v, want 0 (disabled)", cfg.StaleCacheTTL)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false")
	}
	if !cfg.Debug {
		t.Error("Debug = false, want true")
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	dir := setupDir(t, minimalEnvYAML)
	writeSecretsFile(t, dir, "grist_api_key: [unclosed\n")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse secrets file") {
		t.Errorf("Load() error = %v, want parse secrets file error", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	setupDir(t, "grist: [unclosed\n")
	t.Setenv("GRIST_API_KEY", "test-key-12345")

	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Minute},
		{"nope", time.Minute},
		{"-5s", time.Minute},
		{"0s", time.Minute},
		{" 30s ", 30 * time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, time.Minute); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Minute); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

// TestRepoDevConfig_Parses checks that the committed config/dev.yaml is valid YAML
// with the expected defaults.
func TestRepoDevConfig_Parses(t *testing.T) {
	root := findProjectRoot(t)
	for _, k := range overriddenVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
	t.Setenv("GRIST_API_KEY", "test-key-12345")
	t.Setenv("GRIST_DOC_ID", "doc")
	t.Setenv("GRIST_TABLE_ID", "table")
	origWd, _ := os.Getwd()
	if err := os.Chdir(root); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Addr() != "0.0.0.0:8050" {
		t.Errorf("Addr() = %q, want 0.0.0.0:8050", cfg.Addr())
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Errorf("RefreshInterval = %v, want 5m", cfg.RefreshInterval)
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
