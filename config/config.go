package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the newswire service
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Databases DatabasesConfig `mapstructure:"databases"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Sources   []SourceConfig  `mapstructure:"sources"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	RAG       RAGConfig       `mapstructure:"rag"`
	Websocket WebsocketConfig `mapstructure:"websocket"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Listen   string `mapstructure:"listen"`
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabasesConfig groups the backing stores
type DatabasesConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DSN builds a Postgres DSN from the explicit URL or the host/port parts.
func (p PostgresConfig) DSN() (string, error) {
	if p.URL != "" {
		return p.URL, nil
	}
	if p.Host == "" || p.DBName == "" {
		return "", fmt.Errorf("postgres not configured (databases.postgres.host/dbname or url)")
	}
	port := p.Port
	if port == "" {
		port = "5432"
	}
	ssl := p.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, port, p.DBName, ssl), nil
}

// RedisConfig contains Redis settings used for scheduler locks
type RedisConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
	Pass string `mapstructure:"pass"`
	DB   int    `mapstructure:"db"`
}

// Addr returns host:port, or empty when redis is not configured.
func (r RedisConfig) Addr() string {
	if r.Host == "" || r.Port == "" {
		return ""
	}
	return r.Host + ":" + r.Port
}

// ProvidersConfig contains external model provider configurations
type ProvidersConfig struct {
	OpenAI OpenAIConfig `mapstructure:"openai"`
}

// OpenAIConfig configures the OpenAI-compatible embedding/completion endpoint
type OpenAIConfig struct {
	APIKey              string        `mapstructure:"api_key"`
	BaseURL             string        `mapstructure:"base_url"`
	CompletionModel     string        `mapstructure:"completion_model"`
	EmbeddingModel      string        `mapstructure:"embedding_model"`
	EmbeddingDimensions int           `mapstructure:"embedding_dimensions"`
	Temperature         float64       `mapstructure:"temperature"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset provider values.
func (c OpenAIConfig) Normalize() OpenAIConfig {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.CompletionModel == "" {
		c.CompletionModel = "gpt-4o-mini"
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = "text-embedding-3-small"
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = 1536
	}
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	return c
}

// SourceConfig describes a single news feed to harvest
type SourceConfig struct {
	Name    string `mapstructure:"name"`
	FeedURL string `mapstructure:"feed_url"`
}

// IngestConfig contains ingestion and retention settings
type IngestConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	MinBodyChars    int           `mapstructure:"min_body_chars"`
	FetchTimeout    time.Duration `mapstructure:"fetch_timeout"`
	ExtractFullText bool          `mapstructure:"extract_full_text"`
	CleanupCron     string        `mapstructure:"cleanup_cron"`
	RetentionDays   int           `mapstructure:"retention_days"`
}

// Normalize applies defaults for unset ingestion values.
func (c IngestConfig) Normalize() IngestConfig {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.MinBodyChars <= 0 {
		c.MinBodyChars = 100
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 60 * time.Second
	}
	if c.CleanupCron == "" {
		c.CleanupCron = "0 2 * * *"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	return c
}

// RAGConfig contains retrieval and context assembly settings
type RAGConfig struct {
	TopK              int     `mapstructure:"top_k"`
	DistanceThreshold float64 `mapstructure:"distance_threshold"`
	MaxContextChars   int     `mapstructure:"max_context_chars"`
}

// Normalize applies defaults for unset retrieval values.
func (c RAGConfig) Normalize() RAGConfig {
	if c.TopK <= 0 {
		c.TopK = 5
	}
	if c.DistanceThreshold <= 0 {
		c.DistanceThreshold = 0.5
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = 6000
	}
	return c
}

// Validate checks retrieval settings against the cosine distance range.
func (c RAGConfig) Validate() error {
	if c.DistanceThreshold > 2 {
		return fmt.Errorf("rag.distance_threshold must be within (0,2], cosine distance never exceeds 2")
	}
	return nil
}

// WebsocketConfig contains streaming session settings
type WebsocketConfig struct {
	MaxQuestionsPerMinute int           `mapstructure:"max_questions_per_minute"`
	MaxQuestionChars      int           `mapstructure:"max_question_chars"`
	SessionTimeout        time.Duration `mapstructure:"session_timeout"`
	GenerationTimeout     time.Duration `mapstructure:"generation_timeout"`
}

// Normalize applies defaults for unset session values.
func (c WebsocketConfig) Normalize() WebsocketConfig {
	if c.MaxQuestionsPerMinute <= 0 {
		c.MaxQuestionsPerMinute = 10
	}
	if c.MaxQuestionChars <= 0 {
		c.MaxQuestionChars = 500
	}
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 300 * time.Second
	}
	if c.GenerationTimeout <= 0 {
		c.GenerationTimeout = 180 * time.Second
	}
	return c
}

// LoadConfig reads the JSON config file and environment overrides (NEWSWIRE_*).
func LoadConfig(path string) *Config {
	viper.SetConfigName("config")
	viper.SetConfigType("json")

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("NEWSWIRE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	config.Providers.OpenAI = config.Providers.OpenAI.Normalize()
	config.Ingest = config.Ingest.Normalize()
	config.RAG = config.RAG.Normalize()
	config.Websocket = config.Websocket.Normalize()

	if err := config.RAG.Validate(); err != nil {
		panic(err)
	}

	return &config
}
