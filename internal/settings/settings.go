// Package settings reads the engine's operator-supplied configuration once
// at startup: plain environment variables, optionally pre-loaded from a
// local .env file, following the teacher's os.Getenv idiom rather than a
// config-framework library (no viper appears anywhere in the pack).
//
// Grounded on internal/agents/ai_adapter.go's env-var reading style
// (os.Getenv + strings.TrimSpace, falling back to a default when unset),
// generalized here to cover every tunable in the configuration table.
package settings

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// tomlOverrides is the shape of an optional lopen.toml project file: the
// subset of settings that are more natural to hand-edit once per project
// than to set as shell environment variables. Every field here is also
// settable by environment variable, which always wins — this file only
// fills in values the environment leaves unset.
type tomlOverrides struct {
	SessionRetention       *int     `toml:"session_retention"`
	TokenBudgetPerModule   *int64   `toml:"token_budget_per_module"`
	PremiumRequestBudget   *int64   `toml:"premium_request_budget"`
	BudgetWarningThreshold *float64 `toml:"budget_warning_threshold"`
	BudgetConfirmThreshold *float64 `toml:"budget_confirmation_threshold"`
	ChurnThreshold         *int     `toml:"churn_threshold"`
	CircularThreshold      *int     `toml:"circular_threshold"`
	ShotgunFileThreshold   *int     `toml:"shotgun_file_threshold"`
}

func (o tomlOverrides) apply(s *Settings) {
	if o.SessionRetention != nil {
		s.SessionRetention = *o.SessionRetention
	}
	if o.TokenBudgetPerModule != nil {
		s.TokenBudgetPerModule = *o.TokenBudgetPerModule
	}
	if o.PremiumRequestBudget != nil {
		s.PremiumRequestBudget = *o.PremiumRequestBudget
	}
	if o.BudgetWarningThreshold != nil {
		s.BudgetWarningThreshold = *o.BudgetWarningThreshold
	}
	if o.BudgetConfirmThreshold != nil {
		s.BudgetConfirmThreshold = *o.BudgetConfirmThreshold
	}
	if o.ChurnThreshold != nil {
		s.ChurnThreshold = *o.ChurnThreshold
	}
	if o.CircularThreshold != nil {
		s.CircularThreshold = *o.CircularThreshold
	}
	if o.ShotgunFileThreshold != nil {
		s.ShotgunFileThreshold = *o.ShotgunFileThreshold
	}
}

// loadTOML reads path if it exists, applying its values onto s. A missing
// file is not an error; a malformed one is.
func loadTOML(path string, s *Settings) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	var o tomlOverrides
	if _, err := toml.DecodeFile(path, &o); err != nil {
		return fmt.Errorf("settings: parsing %s: %w", path, err)
	}
	o.apply(s)
	return nil
}

// Settings is the immutable configuration snapshot read once at process
// startup. Nothing in the engine mutates it after Load returns.
type Settings struct {
	SessionRetention int // 0 = unlimited

	TokenBudgetPerModule   int64 // <= 0 = unlimited
	PremiumRequestBudget   int64 // <= 0 = unlimited
	BudgetWarningThreshold float64
	BudgetConfirmThreshold float64

	ChurnThreshold       int
	CircularThreshold    int
	ShotgunFileThreshold int
	MaxSameFileReads     int
	MaxConsecutiveFailures int

	OracleTimeout time.Duration
	LLMTimeout    time.Duration

	SaveIterationHistory bool

	OpenAIAPIKey string
	OpenAIModel  string
	LLMRatePerSecond float64
	LLMBurst         int

	WorkspaceDir string
	SessionStoreDir string

	Environment string // "development" or "production"; shapes log encoding
}

func defaults() Settings {
	return Settings{
		SessionRetention:       20,
		TokenBudgetPerModule:   0,
		PremiumRequestBudget:   0,
		BudgetWarningThreshold: 0.8,
		BudgetConfirmThreshold: 0.9,
		ChurnThreshold:         3,
		CircularThreshold:      3,
		ShotgunFileThreshold:   5,
		MaxSameFileReads:       5,
		MaxConsecutiveFailures: 3,
		OracleTimeout:          30 * time.Second,
		LLMTimeout:             120 * time.Second,
		SaveIterationHistory:   false,
		OpenAIModel:            "gpt-4o-mini",
		LLMRatePerSecond:       1,
		LLMBurst:               1,
		WorkspaceDir:           ".",
		SessionStoreDir:        ".lopen",
		Environment:            "development",
	}
}

// projectConfigFile is the optional hand-edited project file checked into a
// repo root alongside spec.md, for settings operators tune per-project
// rather than per-shell.
const projectConfigFile = "lopen.toml"

// Load reads .env (if present, via godotenv — missing is not an error),
// then lopen.toml (if present, in the current directory — missing is also
// not an error), then overlays every recognized environment variable on
// top. Precedence, lowest to highest: package defaults, lopen.toml,
// environment variables.
func Load() (Settings, error) {
	_ = godotenv.Load()

	s := defaults()

	if err := loadTOML(projectConfigFile, &s); err != nil {
		return Settings{}, err
	}

	var err error
	s.SessionRetention, err = intEnv("LOPEN_SESSION_RETENTION", s.SessionRetention)
	if err != nil {
		return Settings{}, err
	}
	s.TokenBudgetPerModule, err = int64Env("LOPEN_TOKEN_BUDGET_PER_MODULE", s.TokenBudgetPerModule)
	if err != nil {
		return Settings{}, err
	}
	s.PremiumRequestBudget, err = int64Env("LOPEN_PREMIUM_REQUEST_BUDGET", s.PremiumRequestBudget)
	if err != nil {
		return Settings{}, err
	}
	s.BudgetWarningThreshold, err = floatEnv("LOPEN_BUDGET_WARNING_THRESHOLD", s.BudgetWarningThreshold)
	if err != nil {
		return Settings{}, err
	}
	s.BudgetConfirmThreshold, err = floatEnv("LOPEN_BUDGET_CONFIRMATION_THRESHOLD", s.BudgetConfirmThreshold)
	if err != nil {
		return Settings{}, err
	}
	s.ChurnThreshold, err = intEnv("LOPEN_CHURN_THRESHOLD", s.ChurnThreshold)
	if err != nil {
		return Settings{}, err
	}
	s.CircularThreshold, err = intEnv("LOPEN_CIRCULAR_THRESHOLD", s.CircularThreshold)
	if err != nil {
		return Settings{}, err
	}
	s.ShotgunFileThreshold, err = intEnv("LOPEN_SHOTGUN_FILE_THRESHOLD", s.ShotgunFileThreshold)
	if err != nil {
		return Settings{}, err
	}
	s.MaxSameFileReads, err = intEnv("LOPEN_MAX_SAME_FILE_READS", s.MaxSameFileReads)
	if err != nil {
		return Settings{}, err
	}
	s.MaxConsecutiveFailures, err = intEnv("LOPEN_MAX_CONSECUTIVE_FAILURES", s.MaxConsecutiveFailures)
	if err != nil {
		return Settings{}, err
	}
	s.OracleTimeout, err = durationEnv("LOPEN_ORACLE_TIMEOUT", s.OracleTimeout)
	if err != nil {
		return Settings{}, err
	}
	s.LLMTimeout, err = durationEnv("LOPEN_LLM_TIMEOUT", s.LLMTimeout)
	if err != nil {
		return Settings{}, err
	}
	s.SaveIterationHistory = boolEnv("LOPEN_SAVE_ITERATION_HISTORY", s.SaveIterationHistory)

	s.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("LOPEN_OPENAI_MODEL")); v != "" {
		s.OpenAIModel = v
	}
	s.LLMRatePerSecond, err = floatEnv("LOPEN_LLM_RATE_PER_SECOND", s.LLMRatePerSecond)
	if err != nil {
		return Settings{}, err
	}
	s.LLMBurst, err = intEnv("LOPEN_LLM_BURST", s.LLMBurst)
	if err != nil {
		return Settings{}, err
	}

	if v := strings.TrimSpace(os.Getenv("LOPEN_WORKSPACE_DIR")); v != "" {
		s.WorkspaceDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LOPEN_SESSION_STORE_DIR")); v != "" {
		s.SessionStoreDir = v
	}
	if v := strings.TrimSpace(os.Getenv("LOPEN_ENVIRONMENT")); v != "" {
		s.Environment = v
	}

	return s, nil
}

// Validate rejects a Settings whose values would make the engine unsafe to
// run (e.g. no LLM credential, or thresholds out of their documented
// range). Mirrors the teacher's secrets preflight: fail fast at startup
// rather than partway through a run.
func (s Settings) Validate() error {
	if s.OpenAIAPIKey == "" {
		return fmt.Errorf("settings: OPENAI_API_KEY is required")
	}
	if s.BudgetWarningThreshold <= 0 || s.BudgetWarningThreshold >= 1 {
		return fmt.Errorf("settings: LOPEN_BUDGET_WARNING_THRESHOLD must be in (0,1), got %v", s.BudgetWarningThreshold)
	}
	if s.BudgetConfirmThreshold <= s.BudgetWarningThreshold || s.BudgetConfirmThreshold >= 1 {
		return fmt.Errorf("settings: LOPEN_BUDGET_CONFIRMATION_THRESHOLD must be in (warning,1), got %v", s.BudgetConfirmThreshold)
	}
	if s.ChurnThreshold < 1 || s.CircularThreshold < 1 || s.ShotgunFileThreshold < 1 {
		return fmt.Errorf("settings: churn/circular/shotgun thresholds must be >= 1")
	}
	return nil
}

func intEnv(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("settings: %s: %w", key, err)
	}
	return n, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("settings: %s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("settings: %s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("settings: %s: %w", key, err)
	}
	return d, nil
}

func boolEnv(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
