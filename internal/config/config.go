// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	GitHubToken   string
	GitHubOwner   string
	GitHubRepos   []string
	GitHubBaseURL string

	CollectInterval    time.Duration
	RunsPerRepo        int
	PRsPerRepo         int
	DeploymentsPerRepo int
	LogFetchTimeout    time.Duration

	ListenAddr  string
	DBPath      string
	CORSOrigins []string
	LogLevel    string
	LogFormat   string

	SuggestionsEnabled bool
	OllamaURL          string
	OllamaModel        string
	OllamaToken        string
	SuggestionTimeout  time.Duration

	KnownFixesFile string
}

// HasGitHubCredentials returns true when both GitHubToken and GitHubOwner are
// non-empty. Used by the composition root to decide whether to create a
// pipeline provider at startup. Without one, collection is disabled and the
// analytics run over what is already stored.
func (c *Config) HasGitHubCredentials() bool {
	return c.GitHubToken != "" && c.GitHubOwner != ""
}

// Load reads configuration from RELEASEINTEL_ environment variables and returns
// a validated Config. Every variable is optional. Malformed values fail fast.
func Load() (*Config, error) {
	cfg := &Config{
		GitHubToken:   os.Getenv("RELEASEINTEL_GITHUB_TOKEN"),
		GitHubOwner:   os.Getenv("RELEASEINTEL_GITHUB_OWNER"),
		GitHubRepos:   envList("RELEASEINTEL_GITHUB_REPOS", nil),
		GitHubBaseURL: os.Getenv("RELEASEINTEL_GITHUB_BASE_URL"),

		ListenAddr:  envString("RELEASEINTEL_LISTEN_ADDR", "127.0.0.1:8000"),
		DBPath:      envString("RELEASEINTEL_DB_PATH", "releaseintel.db"),
		CORSOrigins: envList("RELEASEINTEL_CORS_ORIGINS", []string{"*"}),
		LogLevel:    strings.ToLower(envString("RELEASEINTEL_LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(envString("RELEASEINTEL_LOG_FORMAT", "text")),

		OllamaURL:   envString("RELEASEINTEL_OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envString("RELEASEINTEL_OLLAMA_MODEL", "llama3.2"),
		OllamaToken: os.Getenv("RELEASEINTEL_OLLAMA_TOKEN"),

		KnownFixesFile: os.Getenv("RELEASEINTEL_KNOWN_FIXES_FILE"),
	}

	var err error
	if cfg.CollectInterval, err = envDuration("RELEASEINTEL_COLLECT_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.LogFetchTimeout, err = envDuration("RELEASEINTEL_LOG_FETCH_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.SuggestionTimeout, err = envDuration("RELEASEINTEL_SUGGESTION_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.RunsPerRepo, err = envInt("RELEASEINTEL_RUNS_PER_REPO", 50); err != nil {
		return nil, err
	}
	if cfg.PRsPerRepo, err = envInt("RELEASEINTEL_PRS_PER_REPO", 50); err != nil {
		return nil, err
	}
	if cfg.DeploymentsPerRepo, err = envInt("RELEASEINTEL_DEPLOYMENTS_PER_REPO", 50); err != nil {
		return nil, err
	}
	if cfg.SuggestionsEnabled, err = envBool("RELEASEINTEL_SUGGESTIONS_ENABLED", false); err != nil {
		return nil, err
	}

	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, fmt.Errorf("RELEASEINTEL_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, fmt.Errorf("RELEASEINTEL_LOG_LEVEL must be debug, info, warn or error, got %q", cfg.LogLevel)
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string, def []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		if def == nil {
			return []string{}
		}
		return def
	}

	out := []string{}
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid duration %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %q", key, v)
	}
	return parsed, nil
}

func envInt(key string, def int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s has invalid integer %q: %w", key, v, err)
	}
	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, parsed)
	}
	return parsed, nil
}

func envBool(key string, def bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def, nil
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s has invalid boolean %q: %w", key, v, err)
	}
	return parsed, nil
}
