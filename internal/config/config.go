package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Dataset DatasetConfig
	AI      AIConfig
	Session SessionConfig
}

// Load 从环境变量加载配置；DATACHAT_CONFIG 指向的 TOML 文件提供默认值。
func Load() (*Config, error) {
	file, err := loadFileConfig(strings.TrimSpace(os.Getenv("DATACHAT_CONFIG")))
	if err != nil {
		return nil, err
	}

	server, err := loadServerConfig(file)
	if err != nil {
		return nil, err
	}

	dataset, err := loadDatasetConfig(file)
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig(file)
	if err != nil {
		return nil, err
	}

	session, err := loadSessionConfig(file)
	if err != nil {
		return nil, err
	}

	return &Config{Server: server, Dataset: dataset, AI: ai, Session: session}, nil
}

// fileConfig mirrors the optional TOML file. Environment variables win.
type fileConfig struct {
	Port           string   `toml:"port"`
	AllowedOrigins []string `toml:"allowed_origins"`
	Dataset struct {
		Path        string `toml:"path"`
		PreviewRows int    `toml:"preview_rows"`
		ContextRows int    `toml:"context_rows"`
	} `toml:"dataset"`
	LLM struct {
		Provider    string   `toml:"provider"`
		Model       string   `toml:"model"`
		BaseURL     string   `toml:"base_url"`
		Region      string   `toml:"region"`
		Temperature *float64 `toml:"temperature"`
		TopP        *float64 `toml:"top_p"`
		MaxTokens   *int     `toml:"max_tokens"`
		Stream      *bool    `toml:"stream"`
	} `toml:"llm"`
	Session struct {
		TTLMinutes   int    `toml:"ttl_minutes"`
		Cookie       string `toml:"cookie"`
		CookieSecure bool   `toml:"cookie_secure"`
	} `toml:"session"`
}

func loadFileConfig(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return fc, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr string
	// AllowedOrigins 为允许携带凭据跨域访问的来源，为空时不开放跨域。
	AllowedOrigins []string
}

// loadServerConfig 解析服务器监听地址与跨域白名单。
func loadServerConfig(file fileConfig) (ServerConfig, error) {
	origins := file.AllowedOrigins
	if raw, ok := os.LookupEnv("CORS_ALLOWED_ORIGINS"); ok {
		origins = strings.Split(raw, ",")
	}
	allowed, err := parseOrigins(origins)
	if err != nil {
		return ServerConfig{}, err
	}

	port := getEnvOrDefault("PORT", file.Port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return ServerConfig{Addr: port, AllowedOrigins: allowed}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, AllowedOrigins: allowed}, nil
}

// parseOrigins 去除空白项；通配符不能与凭据共用，因此拒绝 "*"。
func parseOrigins(values []string) ([]string, error) {
	var origins []string
	for _, value := range values {
		origin := strings.TrimRight(strings.TrimSpace(value), "/")
		if origin == "" {
			continue
		}
		if origin == "*" {
			return nil, errors.New("invalid CORS_ALLOWED_ORIGINS value: \"*\" is not allowed")
		}
		origins = append(origins, origin)
	}
	return origins, nil
}

// DatasetConfig 描述数据集文件与预览行数。
type DatasetConfig struct {
	Path        string
	PreviewRows int
	ContextRows int
}

func loadDatasetConfig(file fileConfig) (DatasetConfig, error) {
	preview, err := parsePositiveIntEnv("DATASET_PREVIEW_ROWS", orDefault(file.Dataset.PreviewRows, 100))
	if err != nil {
		return DatasetConfig{}, err
	}

	contextRows, err := parsePositiveIntEnv("DATASET_CONTEXT_ROWS", orDefault(file.Dataset.ContextRows, 100))
	if err != nil {
		return DatasetConfig{}, err
	}

	path := getEnvOrDefault("DATASET_PATH", file.Dataset.Path)
	if path == "" {
		path = "FuelConsumption (1).csv"
	}

	return DatasetConfig{
		Path:        path,
		PreviewRows: preview,
		ContextRows: contextRows,
	}, nil
}

// AIConfig 描述大模型相关配置。凭证由用户在会话中提供，不在此处配置。
type AIConfig struct {
	Provider       string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

func loadAIConfig(file fileConfig) (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}
	if temperature == nil {
		temperature = file.LLM.Temperature
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}
	if topP == nil {
		topP = file.LLM.TopP
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}
	if maxTokens == nil {
		maxTokens = file.LLM.MaxTokens
	}

	streamDefault := true
	if file.LLM.Stream != nil {
		streamDefault = *file.LLM.Stream
	}
	stream, err := parseBoolEnv("LLM_STREAM", streamDefault)
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", file.LLM.Provider))
	if provider == "" {
		provider = ProviderOpenAI
	}
	if provider != ProviderOpenAI && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q: expected %s or %s", provider, ProviderOpenAI, ProviderArk)
	}

	model := getEnvOrDefault("LLM_MODEL", file.LLM.Model)
	if model == "" {
		model = "gpt-4-turbo"
	}

	baseURL := getEnvOrDefault("LLM_BASE_URL", file.LLM.BaseURL)
	if baseURL == "" && provider == ProviderArk {
		baseURL = "https://ark.cn-beijing.volces.com/api/v3"
	}

	region := getEnvOrDefault("ARK_REGION", file.LLM.Region)
	if region == "" {
		region = "cn-beijing"
	}

	return AIConfig{
		Provider:       provider,
		Model:          model,
		BaseURL:        baseURL,
		Region:         region,
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// SessionConfig 描述会话 cookie 与过期策略。
type SessionConfig struct {
	TTL          time.Duration
	CookieName   string
	CookieSecure bool
}

func loadSessionConfig(file fileConfig) (SessionConfig, error) {
	minutes, err := parsePositiveIntEnv("SESSION_TTL_MINUTES", orDefault(file.Session.TTLMinutes, 120))
	if err != nil {
		return SessionConfig{}, err
	}

	secure, err := parseBoolEnv("SESSION_COOKIE_SECURE", file.Session.CookieSecure)
	if err != nil {
		return SessionConfig{}, err
	}

	cookie := getEnvOrDefault("SESSION_COOKIE", file.Session.Cookie)
	if cookie == "" {
		cookie = "datachat_session"
	}

	return SessionConfig{
		TTL:          time.Duration(minutes) * time.Minute,
		CookieName:   cookie,
		CookieSecure: secure,
	}, nil
}

func orDefault(value, defaultValue int) int {
	if value > 0 {
		return value
	}
	return defaultValue
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return strings.TrimSpace(defaultValue)
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parsePositiveIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	if *val < 1 {
		return 0, fmt.Errorf("invalid %s value %d: %w", key, *val, errNotPositive)
	}
	return *val, nil
}

var errNotPositive = errors.New("must be a positive integer")

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
