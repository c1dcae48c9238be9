package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATACHAT_CONFIG", "PORT", "DATASET_PATH", "DATASET_PREVIEW_ROWS", "DATASET_CONTEXT_ROWS",
		"LLM_PROVIDER", "LLM_MODEL", "LLM_BASE_URL", "ARK_REGION", "LLM_TEMPERATURE", "LLM_TOP_P",
		"LLM_MAX_TOKENS", "LLM_STREAM", "SESSION_TTL_MINUTES", "SESSION_COOKIE", "SESSION_COOKIE_SECURE",
		"CORS_ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Empty(t, cfg.Server.AllowedOrigins)
	require.Equal(t, "FuelConsumption (1).csv", cfg.Dataset.Path)
	require.Equal(t, 100, cfg.Dataset.PreviewRows)
	require.Equal(t, 100, cfg.Dataset.ContextRows)
	require.Equal(t, ProviderOpenAI, cfg.AI.Provider)
	require.Equal(t, "gpt-4-turbo", cfg.AI.Model)
	require.Empty(t, cfg.AI.BaseURL)
	require.True(t, cfg.AI.StreamResponse)
	require.Nil(t, cfg.AI.Temperature)
	require.Equal(t, 120*time.Minute, cfg.Session.TTL)
	require.Equal(t, "datachat_session", cfg.Session.CookieName)
	require.False(t, cfg.Session.CookieSecure)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "127.0.0.1:9000")
	t.Setenv("LLM_PROVIDER", "ARK")
	t.Setenv("LLM_MODEL", "doubao-pro")
	t.Setenv("LLM_TEMPERATURE", "0.2")
	t.Setenv("LLM_STREAM", "false")
	t.Setenv("SESSION_TTL_MINUTES", "5")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	require.Equal(t, ProviderArk, cfg.AI.Provider)
	require.Equal(t, "doubao-pro", cfg.AI.Model)
	require.Equal(t, "https://ark.cn-beijing.volces.com/api/v3", cfg.AI.BaseURL)
	require.NotNil(t, cfg.AI.Temperature)
	require.InDelta(t, 0.2, *cfg.AI.Temperature, 1e-9)
	require.False(t, cfg.AI.StreamResponse)
	require.Equal(t, 5*time.Minute, cfg.Session.TTL)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PORT":                 "80 80",
		"LLM_PROVIDER":         "anthropic",
		"LLM_STREAM":           "maybe",
		"DATASET_PREVIEW_ROWS": "0",
		"LLM_MAX_TOKENS":       "many",
		"CORS_ALLOWED_ORIGINS": "https://app.example, *",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
			require.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadFileConfigEnvironmentWins(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "datachat.toml")
	content := `
port = "9090"
allowed_origins = ["https://from-file.example"]

[dataset]
path = "data/cars.csv"
preview_rows = 20

[llm]
model = "gpt-4o"
stream = false

[session]
cookie = "from_file"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	t.Setenv("DATACHAT_CONFIG", path)
	t.Setenv("LLM_MODEL", "gpt-4-turbo")

	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Addr)
	require.Equal(t, "data/cars.csv", cfg.Dataset.Path)
	require.Equal(t, 20, cfg.Dataset.PreviewRows)
	require.Equal(t, 100, cfg.Dataset.ContextRows)
	require.Equal(t, "gpt-4-turbo", cfg.AI.Model)
	require.False(t, cfg.AI.StreamResponse)
	require.Equal(t, "from_file", cfg.Session.CookieName)
	require.Equal(t, []string{"https://from-file.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadAllowedOrigins(t *testing.T) {
	clearEnv(t)
	t.Setenv("CORS_ALLOWED_ORIGINS", " http://localhost:5173/ ,, https://app.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"http://localhost:5173", "https://app.example"}, cfg.Server.AllowedOrigins)
}

func TestLoadMissingConfigFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATACHAT_CONFIG", filepath.Join(t.TempDir(), "missing.toml"))

	_, err := Load()
	require.Error(t, err)
}
