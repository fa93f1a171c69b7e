package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// 模型后端。
const (
	ProviderArk    = "ark"
	ProviderOpenAI = "openai"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	AI      AIConfig
	Store   StoreConfig
	Session SessionConfig
	Log     LogConfig
}

// Load 从环境变量加载配置并校验。
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	addr, err := normalizeAddr(cfg.Server.Port)
	if err != nil {
		return nil, err
	}
	cfg.Server.Addr = addr

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	switch c.AI.Provider {
	case ProviderArk, ProviderOpenAI:
	default:
		errs = append(errs, fmt.Errorf("invalid AI_PROVIDER %q", c.AI.Provider))
	}
	switch c.Session.EnergyPolicy {
	case "soft", "strict":
	default:
		errs = append(errs, fmt.Errorf("invalid ENERGY_POLICY %q", c.Session.EnergyPolicy))
	}
	if c.AI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("AI_MAX_RETRIES must not be negative"))
	}
	if c.Session.TurnEnergyCost < 0 {
		errs = append(errs, fmt.Errorf("TURN_ENERGY_COST must not be negative"))
	}
	if c.Session.HistoryLimit < 1 {
		errs = append(errs, fmt.Errorf("HISTORY_LIMIT must be at least 1"))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Addr            string
	AllowedOrigins  []string      `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"*"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// normalizeAddr 解析服务器监听地址。
func normalizeAddr(port string) (string, error) {
	port = strings.TrimSpace(port)
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8080" 或 "127.0.0.1:8080"。
		return port, nil
	}

	if strings.Contains(port, " ") {
		return "", fmt.Errorf("invalid PORT value: %q", port)
	}

	return ":" + port, nil
}

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider string `env:"AI_PROVIDER" envDefault:"ark"`

	APIKey      string   `env:"ARK_API_KEY"`
	AccessKey   string   `env:"ARK_ACCESS_KEY"`
	SecretKey   string   `env:"ARK_SECRET_KEY"`
	Model       string   `env:"ARK_MODEL"`
	BaseURL     string   `env:"ARK_BASE_URL" envDefault:"https://ark.cn-beijing.volces.com/api/v3"`
	Region      string   `env:"ARK_REGION" envDefault:"cn-beijing"`
	Temperature *float64 `env:"ARK_TEMPERATURE"`
	TopP        *float64 `env:"ARK_TOP_P"`
	MaxTokens   *int     `env:"ARK_MAX_TOKENS"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	OpenAIModel   string `env:"OPENAI_MODEL"`

	// 留空时使用默认聊天模型。
	EmbeddingModel string `env:"AI_EMBEDDING_MODEL"`
	ScoringModel   string `env:"AI_SCORING_MODEL"`
	SummaryModel   string `env:"AI_SUMMARY_MODEL"`
	EndingModel    string `env:"AI_ENDING_MODEL"`

	MaxRetries     int           `env:"AI_MAX_RETRIES" envDefault:"3"`
	RetryBaseDelay time.Duration `env:"AI_RETRY_BASE_DELAY" envDefault:"500ms"`
	CallTimeout    time.Duration `env:"AI_CALL_TIMEOUT" envDefault:"60s"`
}

// Enabled 表示当前后端是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIAPIKey != "" && c.OpenAIModel != ""
	}
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// ChatModelName 返回当前后端的默认聊天模型。
func (c AIConfig) ChatModelName() string {
	if c.Provider == ProviderOpenAI {
		return c.OpenAIModel
	}
	return c.Model
}

// NewChatModel 使用配置创建一个 Ark 模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if c.Model == "" || (c.APIKey == "" && (c.AccessKey == "" || c.SecretKey == "")) {
		return nil, fmt.Errorf("Ark 凭证或模型配置缺失，至少提供 ARK_API_KEY + ARK_MODEL 或 AK/SK 组合")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

// StoreConfig 描述持久化配置。
type StoreConfig struct {
	Path           string `env:"DB_PATH" envDefault:"data/heartline.db"`
	CharactersFile string `env:"CHARACTERS_FILE"`
}

// SessionConfig 描述会话引擎的业务参数。
type SessionConfig struct {
	StartingEnergy  int    `env:"STARTING_ENERGY" envDefault:"100"`
	TurnEnergyCost  int    `env:"TURN_ENERGY_COST" envDefault:"1"`
	EnergyPolicy    string `env:"ENERGY_POLICY" envDefault:"soft"`
	HistoryLimit    int    `env:"HISTORY_LIMIT" envDefault:"20"`
	SummaryInterval int    `env:"SUMMARY_INTERVAL" envDefault:"10"`
	MemoryWindow    int    `env:"MEMORY_WINDOW" envDefault:"10"`
	MemoryTopK      int    `env:"MEMORY_TOP_K" envDefault:"3"`

	ChatTemperature float32 `env:"CHAT_TEMPERATURE" envDefault:"0.8"`

	ScorerWorkers   int `env:"SCORER_WORKERS" envDefault:"2"`
	ScorerQueueSize int `env:"SCORER_QUEUE_SIZE" envDefault:"64"`

	OwnerCacheSize int           `env:"OWNER_CACHE_SIZE" envDefault:"1024"`
	OwnerCacheTTL  time.Duration `env:"OWNER_CACHE_TTL" envDefault:"10m"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level string `env:"LOG_LEVEL" envDefault:"info"`
	// File 为空时只输出到 stderr。
	File string `env:"LOG_FILE"`
}

// SlogLevel 解析日志级别。
func (c LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.Level, err)
	}
	return level, nil
}
