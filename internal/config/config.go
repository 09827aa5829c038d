// Package config loads runtime settings: defaults, then an optional YAML
// file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendNotion   = "notion"
	BackendPostgres = "postgres"
	BackendFile     = "file"

	ProviderNone   = "none"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

type Config struct {
	// Store
	StoreBackend   string  `yaml:"store_backend"`
	NotionKey      string  `yaml:"notion_key"`
	NotionFeedDB   string  `yaml:"notion_feed_db"`
	NotionReaderDB string  `yaml:"notion_reader_db"`
	NotionRPS      float64 `yaml:"notion_rps"`
	DatabaseURL    string  `yaml:"database_url"`
	StoreFilePath  string  `yaml:"store_file_path"`
	FeedsFilePath  string  `yaml:"feeds_file_path"`

	// Pipeline
	Workers         int           `yaml:"workers"`
	MaxEntries      int           `yaml:"max_entries"`
	MaxBlocks       int           `yaml:"max_blocks"`
	DedupeBatchSize int           `yaml:"dedupe_batch_size"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryDelay      time.Duration `yaml:"retry_delay"`
	Timezone        string        `yaml:"timezone"`
	StripSeconds    bool          `yaml:"strip_seconds"`
	DryRun          bool          `yaml:"dry_run"`

	// Summaries
	SummaryProvider string `yaml:"summary_provider"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiModel     string `yaml:"gemini_model"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	OpenAIModel     string `yaml:"openai_model"`
	SummaryMaxRunes int    `yaml:"summary_max_runes"`

	// Notifications
	WechatWebhook  string `yaml:"wechat_webhook"`
	FeishuWebhook  string `yaml:"feishu_webhook"`
	FeishuSecret   string `yaml:"feishu_secret"`
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`

	// Serve mode
	Interval    time.Duration `yaml:"interval"`
	MonitorAddr string        `yaml:"monitor_addr"`

	// Logging
	Debug     bool   `yaml:"debug"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// Default returns the settings used when neither file nor env says otherwise.
func Default() *Config {
	return &Config{
		StoreBackend:    BackendNotion,
		NotionRPS:       3,
		StoreFilePath:   "readcopilot.json",
		FeedsFilePath:   "configs/feeds.yaml",
		Workers:         10,
		MaxEntries:      20,
		MaxBlocks:       100,
		DedupeBatchSize: 30,
		FetchTimeout:    120 * time.Second,
		ProbeTimeout:    10 * time.Second,
		RetryAttempts:   3,
		RetryDelay:      2 * time.Second,
		Timezone:        "Asia/Shanghai",
		StripSeconds:    true,
		SummaryProvider: ProviderNone,
		GeminiModel:     "gemini-1.5-flash",
		OpenAIBaseURL:   "https://api.moonshot.cn/v1",
		OpenAIModel:     "moonshot-v1-8k",
		SummaryMaxRunes: 8000,
		Interval:        time.Hour,
		MonitorAddr:     ":8080",
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load builds the configuration. path may be empty; a missing file at an
// explicit path is an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() {
	c.StoreBackend = getEnvOrDefault("STORE_BACKEND", c.StoreBackend)
	c.NotionKey = getEnvOrDefault("NOTION_KEY", c.NotionKey)
	c.NotionFeedDB = getEnvOrDefault("NOTION_DB_RSS", c.NotionFeedDB)
	c.NotionReaderDB = getEnvOrDefault("NOTION_DB_READER", c.NotionReaderDB)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.StoreFilePath = getEnvOrDefault("STORE_FILE_PATH", c.StoreFilePath)
	c.FeedsFilePath = getEnvOrDefault("FEEDS_CONFIG_PATH", c.FeedsFilePath)

	c.Workers = getEnvIntOrDefault("WORKERS", c.Workers)
	c.MaxEntries = getEnvIntOrDefault("MAX_ENTRIES", c.MaxEntries)
	c.MaxBlocks = getEnvIntOrDefault("MAX_BLOCKS", c.MaxBlocks)
	c.Timezone = getEnvOrDefault("TIMEZONE", c.Timezone)

	c.SummaryProvider = getEnvOrDefault("SUMMARY_PROVIDER", c.SummaryProvider)
	c.GeminiAPIKey = getEnvOrDefault("GEMINI_API_KEY", c.GeminiAPIKey)
	c.OpenAIAPIKey = getEnvOrDefault("MOONSHOT_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnvOrDefault("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIModel = getEnvOrDefault("OPENAI_MODEL", c.OpenAIModel)

	c.WechatWebhook = getEnvOrDefault("WEBHOOK_URL_WECHAT", c.WechatWebhook)
	c.FeishuWebhook = getEnvOrDefault("WEBHOOK_URL_FEISHU", c.FeishuWebhook)
	c.FeishuSecret = getEnvOrDefault("SECRET_KEY_FEISHU", c.FeishuSecret)
	c.TelegramToken = getEnvOrDefault("TELEGRAM_TOKEN", c.TelegramToken)
	c.TelegramChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", c.TelegramChatID)

	c.MonitorAddr = getEnvOrDefault("MONITOR_ADDR", c.MonitorAddr)
	if v := os.Getenv("INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.Interval = d
		}
	}

	if debug := os.Getenv("DEBUG"); debug == "true" {
		c.Debug = true
	}
	if dry := os.Getenv("DRY_RUN"); dry == "true" {
		c.DryRun = true
	}
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.LogFile = getEnvOrDefault("LOG_FILE", c.LogFile)

	// A Moonshot key alone implies the OpenAI-compatible provider.
	if c.SummaryProvider == ProviderNone && c.OpenAIAPIKey != "" {
		c.SummaryProvider = ProviderOpenAI
	}
}

// Location resolves Timezone, falling back to a fixed UTC+8 zone when the
// tz database is unavailable.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.FixedZone("UTC+8", 8*60*60)
	}
	return loc
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

func (c *Config) Validate() error {
	var errs []error

	switch c.StoreBackend {
	case BackendNotion:
		if c.NotionKey == "" {
			errs = append(errs, errors.New("NOTION_KEY is required for the notion backend"))
		}
		if c.NotionFeedDB == "" || c.NotionReaderDB == "" {
			errs = append(errs, errors.New("NOTION_DB_RSS and NOTION_DB_READER are required for the notion backend"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres backend"))
		}
	case BackendFile:
		if c.StoreFilePath == "" {
			errs = append(errs, errors.New("store_file_path is required for the file backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be one of notion, postgres, file (got %q)", c.StoreBackend))
	}

	switch c.SummaryProvider {
	case ProviderNone, "":
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for the gemini provider"))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("MOONSHOT_API_KEY is required for the openai provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("SUMMARY_PROVIDER must be one of none, gemini, openai (got %q)", c.SummaryProvider))
	}

	if (c.TelegramToken == "") != (c.TelegramChatID == "") {
		errs = append(errs, errors.New("TELEGRAM_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if c.MaxBlocks < 1 {
		errs = append(errs, errors.New("max_blocks must be positive"))
	}
	if c.DedupeBatchSize < 1 {
		errs = append(errs, errors.New("dedupe_batch_size must be positive"))
	}
	if c.Workers < 1 {
		errs = append(errs, errors.New("workers must be positive"))
	}

	return errors.Join(errs...)
}
