package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LOPEN_SESSION_RETENTION", "LOPEN_TOKEN_BUDGET_PER_MODULE", "LOPEN_PREMIUM_REQUEST_BUDGET",
		"LOPEN_BUDGET_WARNING_THRESHOLD", "LOPEN_BUDGET_CONFIRMATION_THRESHOLD", "LOPEN_CHURN_THRESHOLD",
		"LOPEN_CIRCULAR_THRESHOLD", "LOPEN_SHOTGUN_FILE_THRESHOLD", "LOPEN_MAX_SAME_FILE_READS",
		"LOPEN_MAX_CONSECUTIVE_FAILURES", "LOPEN_ORACLE_TIMEOUT", "LOPEN_LLM_TIMEOUT",
		"LOPEN_SAVE_ITERATION_HISTORY", "OPENAI_API_KEY", "LOPEN_OPENAI_MODEL",
		"LOPEN_LLM_RATE_PER_SECOND", "LOPEN_LLM_BURST", "LOPEN_WORKSPACE_DIR", "LOPEN_SESSION_STORE_DIR",
	} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_DefaultsWhenNothingSet(t *testing.T) {
	clearEnv(t)
	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 20, s.SessionRetention)
	assert.Equal(t, 0.8, s.BudgetWarningThreshold)
	assert.Equal(t, 0.9, s.BudgetConfirmThreshold)
	assert.Equal(t, 3, s.ChurnThreshold)
	assert.Equal(t, 30*time.Second, s.OracleTimeout)
	assert.False(t, s.SaveIterationHistory)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOPEN_SESSION_RETENTION", "5")
	t.Setenv("LOPEN_BUDGET_WARNING_THRESHOLD", "0.5")
	t.Setenv("LOPEN_ORACLE_TIMEOUT", "10s")
	t.Setenv("LOPEN_SAVE_ITERATION_HISTORY", "true")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5, s.SessionRetention)
	assert.Equal(t, 0.5, s.BudgetWarningThreshold)
	assert.Equal(t, 10*time.Second, s.OracleTimeout)
	assert.True(t, s.SaveIterationHistory)
	assert.Equal(t, "sk-test", s.OpenAIAPIKey)
}

func TestLoad_InvalidIntReturnsError(t *testing.T) {
	clearEnv(t)
	t.Setenv("LOPEN_CHURN_THRESHOLD", "not-a-number")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate_RequiresAPIKey(t *testing.T) {
	clearEnv(t)
	s, err := Load()
	require.NoError(t, err)
	err = s.Validate()
	require.Error(t, err)

	s.OpenAIAPIKey = "sk-test"
	require.NoError(t, s.Validate())
}

func TestLoad_TOMLOverridesDefaultsButEnvWins(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("LOPEN_CHURN_THRESHOLD", "7")

	dir := t.TempDir()
	toml := "session_retention = 42\nbudget_warning_threshold = 0.55\nchurn_threshold = 2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, projectConfigFile), []byte(toml), 0o644))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	s, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 42, s.SessionRetention)
	assert.Equal(t, 0.55, s.BudgetWarningThreshold)
	assert.Equal(t, 7, s.ChurnThreshold, "env var must win over lopen.toml")
}

func TestLoad_MissingTOMLFileIsNotAnError(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = Load()
	require.NoError(t, err)
}

func TestValidate_RejectsBadThresholdOrdering(t *testing.T) {
	clearEnv(t)
	s, err := Load()
	require.NoError(t, err)
	s.OpenAIAPIKey = "sk-test"
	s.BudgetWarningThreshold = 0.9
	s.BudgetConfirmThreshold = 0.8
	assert.Error(t, s.Validate())
}
