package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"

	defaultServerAddress  = ":8090"
	defaultDatabasePath   = "./data/docchat.db"
	defaultModel          = "gpt-4o-mini"
	defaultAssistantName  = "Document Expert"
	defaultMaxUploadBytes = 10 << 20
)

// DefaultInstructions is used for newly created assistants. {file} is replaced with the
// uploaded document name.
const DefaultInstructions = `You are an expert on the uploaded document. Follow these rules strictly:

1. Answer only from the content of the uploaded document.
2. If the document does not cover the question, answer "That information cannot be found in the uploaded document."
3. Quote the document precisely and name the relevant section when possible.
4. Do not use general knowledge from outside the document.
5. Before answering, locate and check the relevant part of the document.
6. When unsure, check the document again.

Uploaded document: {file}`

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config" yaml:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers" yaml:"providers"`
	Assistant   AssistantConfig           `json:"assistant" yaml:"assistant"`
	Poll        PollConfig                `json:"poll" yaml:"poll"`
	Databases   map[string]DatabaseConfig `json:"databases" yaml:"databases"`
	Redis       RedisConfig               `json:"redis" yaml:"redis"`
	Log         LogConfig                 `json:"log" yaml:"log"`
}

type ProviderConfig struct {
	BaseURL string `json:"base_url" yaml:"base_url"`
	Model   string `json:"model" yaml:"model"`
	APIKey  string `json:"api_key" yaml:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address" yaml:"server_address"`
	// Database selects the orphan ledger driver: sqlite3 or mysql.
	Database string `json:"database" yaml:"database"`
	// SessionStore is memory or redis.
	SessionStore      string   `json:"session_store" yaml:"session_store"`
	SessionTTL        int      `json:"session_ttl" yaml:"session_ttl"` // minutes
	MaxUploadBytes    int64    `json:"max_upload_bytes" yaml:"max_upload_bytes"`
	AllowedExtensions []string `json:"allowed_extensions" yaml:"allowed_extensions"`
	SweepInterval     int      `json:"sweep_interval" yaml:"sweep_interval"` // minutes
	WorkerIdleTimeout int      `json:"worker_idle_timeout" yaml:"worker_idle_timeout"` // seconds
	QueueSize         int      `json:"queue_size" yaml:"queue_size"`
}

// AssistantConfig holds defaults for assistant resolution and creation.
type AssistantConfig struct {
	// DefaultID is the pinned assistant used in existing mode. It is never deleted.
	DefaultID    string   `json:"default_id" yaml:"default_id"`
	DefaultName  string   `json:"default_name" yaml:"default_name"`
	DefaultModel string   `json:"default_model" yaml:"default_model"`
	Models       []string `json:"models" yaml:"models"`
	Instructions string   `json:"instructions" yaml:"instructions"`
	// VectorStoreTTLDays expires provider-side vector stores after inactivity.
	VectorStoreTTLDays int `json:"vector_store_ttl_days" yaml:"vector_store_ttl_days"`
}

type PollConfig struct {
	IntervalMillis int `json:"interval_ms" yaml:"interval_ms"`
	TimeoutSeconds int `json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxAttempts    int `json:"max_attempts" yaml:"max_attempts"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn" yaml:"dsn"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DBName   string `json:"db_name" yaml:"db_name"`
	Params   string `json:"params" yaml:"params"`
}

type RedisConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Pretty bool   `json:"pretty" yaml:"pretty"`
}

// Load reads configuration from the provided path (defaults to config.json).
// A missing default file is not an error; defaults and environment variables apply.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	data, err := os.ReadFile(absPath)
	switch {
	case err == nil:
		if err := decode(absPath, data, &cfg); err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(absPath))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode config: %w", err)
		}
	}
	return nil
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	prov := c.Providers[ProviderOpenAI]
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		prov.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" {
		prov.BaseURL = v
	}
	c.Providers[ProviderOpenAI] = prov

	if v := strings.TrimSpace(os.Getenv("DOCCHAT_DEFAULT_ASSISTANT_ID")); v != "" {
		c.Assistant.DefaultID = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_ADDR")); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_DB")); v != "" {
		c.BasicConfig.Database = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_SESSION_STORE")); v != "" {
		c.BasicConfig.SessionStore = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_LOG_LEVEL")); v != "" {
		c.Log.Level = v
	}
	if v := strings.TrimSpace(os.Getenv("DOCCHAT_REDIS_ADDR")); v != "" {
		if host, port, err := net.SplitHostPort(v); err == nil {
			c.Redis.Host = host
			if p, err := strconv.Atoi(port); err == nil {
				c.Redis.Port = p
			}
		}
	}
}

func (c *Config) applyDefaults(baseDir string) {
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = defaultServerAddress
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.SessionStore == "" {
		b.SessionStore = "memory"
	}
	if b.SessionTTL <= 0 {
		b.SessionTTL = 24 * 60
	}
	if b.MaxUploadBytes <= 0 {
		b.MaxUploadBytes = defaultMaxUploadBytes
	}
	if len(b.AllowedExtensions) == 0 {
		b.AllowedExtensions = []string{".md", ".markdown", ".txt"}
	}
	if b.SweepInterval <= 0 {
		b.SweepInterval = 30
	}
	if b.WorkerIdleTimeout <= 0 {
		b.WorkerIdleTimeout = 300
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 16
	}

	a := &c.Assistant
	if a.DefaultName == "" {
		a.DefaultName = defaultAssistantName
	}
	if a.DefaultModel == "" {
		a.DefaultModel = c.Providers[ProviderOpenAI].Model
	}
	if a.DefaultModel == "" {
		a.DefaultModel = defaultModel
	}
	if len(a.Models) == 0 {
		a.Models = []string{"gpt-4o-mini", "gpt-4o", "gpt-3.5-turbo"}
	}
	if a.Instructions == "" {
		a.Instructions = DefaultInstructions
	}
	if a.VectorStoreTTLDays <= 0 {
		a.VectorStoreTTLDays = 7
	}

	if c.Poll.IntervalMillis <= 0 {
		c.Poll.IntervalMillis = 1000
	}
	if c.Poll.TimeoutSeconds <= 0 {
		c.Poll.TimeoutSeconds = 120
	}

	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	sqliteCfg := c.Databases["sqlite3"]
	if sqliteCfg.DSN == "" {
		sqliteCfg.DSN = defaultDatabasePath
	}
	if sqliteCfg.DSN != ":memory:" && !filepath.IsAbs(sqliteCfg.DSN) && !strings.HasPrefix(sqliteCfg.DSN, "file:") {
		sqliteCfg.DSN = filepath.Join(baseDir, sqliteCfg.DSN)
	}
	c.Databases["sqlite3"] = sqliteCfg

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate checks values that have no sensible default.
func (c *Config) Validate() error {
	switch c.BasicConfig.SessionStore {
	case "memory", "redis":
	default:
		return fmt.Errorf("unsupported session_store %q", c.BasicConfig.SessionStore)
	}
	switch strings.ToLower(c.BasicConfig.Database) {
	case "sqlite", "sqlite3", "mysql":
	default:
		return fmt.Errorf("unsupported database %q", c.BasicConfig.Database)
	}
	return nil
}

// OpenAI returns the OpenAI provider section.
func (c *Config) OpenAI() ProviderConfig {
	return c.Providers[ProviderOpenAI]
}

// APIKeySet reports whether the provider secret is configured.
func (c *Config) APIKeySet() bool {
	return strings.TrimSpace(c.OpenAI().APIKey) != ""
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.BasicConfig.SessionTTL) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.BasicConfig.SweepInterval) * time.Minute
}

func (c *Config) WorkerIdleTimeout() time.Duration {
	return time.Duration(c.BasicConfig.WorkerIdleTimeout) * time.Second
}

func (p PollConfig) Interval() time.Duration {
	return time.Duration(p.IntervalMillis) * time.Millisecond
}

func (p PollConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}
