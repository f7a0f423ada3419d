package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Redaction     RedactionConfig     `yaml:"redaction" mapstructure:"redaction"`
	Pipeline      PipelineConfig      `yaml:"pipeline" mapstructure:"pipeline"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	OCR           OCRConfig           `yaml:"ocr" mapstructure:"ocr"`
	PDF           PDFConfig           `yaml:"pdf" mapstructure:"pdf"`
	Generation    GenerationConfig    `yaml:"generation" mapstructure:"generation"`
	SettingsStore SettingsStoreConfig `yaml:"settings_store" mapstructure:"settings_store"`
	Export        ExportConfig        `yaml:"export" mapstructure:"export"`
	Inbox         InboxConfig         `yaml:"inbox" mapstructure:"inbox"`
	Logging       LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	WebSocket     WebSocketConfig     `yaml:"websocket" mapstructure:"websocket"`
	RateLimit     RateLimitConfig     `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port" mapstructure:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" mapstructure:"max_upload_bytes"`
}

// RedactionConfig holds the initial redaction settings. A stored settings
// record takes precedence once one exists.
type RedactionConfig struct {
	Categories     map[string]bool       `yaml:"categories" mapstructure:"categories"`
	CustomPatterns []CustomPatternConfig `yaml:"custom_patterns" mapstructure:"custom_patterns"`
}

// CustomPatternConfig is a user supplied pattern
type CustomPatternConfig struct {
	Name        string `yaml:"name" mapstructure:"name"`
	Pattern     string `yaml:"pattern" mapstructure:"pattern"`
	Replacement string `yaml:"replacement" mapstructure:"replacement"`
	Enabled     bool   `yaml:"enabled" mapstructure:"enabled"`
}

// PipelineConfig contains queue and ingestion configuration
type PipelineConfig struct {
	AllowedExtensions []string      `yaml:"allowed_extensions" mapstructure:"allowed_extensions"`
	AllowedMIMETypes  []string      `yaml:"allowed_mime_types" mapstructure:"allowed_mime_types"`
	MaxFileSize       int64         `yaml:"max_file_size" mapstructure:"max_file_size"`
	JobTimeout        time.Duration `yaml:"job_timeout" mapstructure:"job_timeout"`
}

// CacheConfig contains extraction cache configuration
type CacheConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend        string        `yaml:"backend" mapstructure:"backend"` // memory or redis
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DefaultTTL     time.Duration `yaml:"default_ttl" mapstructure:"default_ttl"`
	MaxEntries     int           `yaml:"max_entries" mapstructure:"max_entries"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
}

// OCRConfig contains image recognition configuration
type OCRConfig struct {
	Language string `yaml:"language" mapstructure:"language"`
}

// PDFConfig selects the PDF text engine
type PDFConfig struct {
	Engine string `yaml:"engine" mapstructure:"engine"` // ledongthuc or pdfcpu
}

// GenerationConfig contains generation model configuration
type GenerationConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Backend  string        `yaml:"backend" mapstructure:"backend"` // none, ollama, rules
	BaseURL  string        `yaml:"base_url" mapstructure:"base_url"`
	Model    string        `yaml:"model" mapstructure:"model"`
	AutoLoad bool          `yaml:"auto_load" mapstructure:"auto_load"`
	Timeout  time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// SettingsStoreConfig selects where redaction settings persist
type SettingsStoreConfig struct {
	Backend         string        `yaml:"backend" mapstructure:"backend"` // memory, redis, sql
	RedisURL        string        `yaml:"redis_url" mapstructure:"redis_url"`
	Driver          string        `yaml:"driver" mapstructure:"driver"` // postgres, sqlite
	DSN             string        `yaml:"dsn" mapstructure:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}

// ExportConfig contains export defaults
type ExportConfig struct {
	Format          string `yaml:"format" mapstructure:"format"` // txt, csv, json, parquet
	IncludeMetadata bool   `yaml:"include_metadata" mapstructure:"include_metadata"`
}

// InboxConfig contains drop folder configuration
type InboxConfig struct {
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`
	Dir         string        `yaml:"dir" mapstructure:"dir"`
	DoneDir     string        `yaml:"done_dir" mapstructure:"done_dir"`
	Settle      time.Duration `yaml:"settle" mapstructure:"settle"`
	AutoProcess bool          `yaml:"auto_process" mapstructure:"auto_process"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains job event broadcasting configuration
type WebSocketConfig struct {
	Enabled              bool     `yaml:"enabled" mapstructure:"enabled"`
	BroadcastJobs        bool     `yaml:"broadcast_jobs" mapstructure:"broadcast_jobs"`
	BroadcastProgress    bool     `yaml:"broadcast_progress" mapstructure:"broadcast_progress"`
	BroadcastConnections bool     `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	Username             string   `yaml:"username" mapstructure:"username"`
	Password             string   `yaml:"password" mapstructure:"password"`
	AllowedOrigins       []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// RateLimitConfig contains upload rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// GetDefaults returns the default configuration
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:           8080,
			ReadTimeout:    60 * time.Second,
			WriteTimeout:   5 * time.Minute,
			IdleTimeout:    120 * time.Second,
			MaxUploadBytes: 32 << 20,
		},
		Redaction: RedactionConfig{
			Categories: map[string]bool{},
		},
		Pipeline: PipelineConfig{
			AllowedExtensions: []string{"txt", "csv", "xlsx", "xls", "pdf", "jpg", "jpeg", "png"},
			MaxFileSize:       25 << 20,
			JobTimeout:        2 * time.Minute,
		},
		Cache: CacheConfig{
			Enabled:        false,
			Backend:        "memory",
			RedisURL:       "redis://localhost:6379/1",
			MaxConnections: 10,
			MinIdleConns:   2,
			DefaultTTL:     time.Hour,
			MaxEntries:     256,
			KeyPrefix:      "phi-deid",
		},
		OCR: OCRConfig{
			Language: "eng",
		},
		PDF: PDFConfig{
			Engine: "ledongthuc",
		},
		Generation: GenerationConfig{
			Enabled: false,
			Backend: "ollama",
			BaseURL: "http://localhost:11434",
			Model:   "llama3.2",
			Timeout: 2 * time.Minute,
		},
		SettingsStore: SettingsStoreConfig{
			Backend:         "memory",
			RedisURL:        "redis://localhost:6379/0",
			Driver:          "sqlite",
			DSN:             "phi-deid.db",
			MaxOpenConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Export: ExportConfig{
			Format: "txt",
		},
		Inbox: InboxConfig{
			Enabled:     false,
			Dir:         "inbox",
			Settle:      500 * time.Millisecond,
			AutoProcess: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:              true,
			BroadcastJobs:        true,
			BroadcastProgress:    true,
			BroadcastConnections: false,
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 60,
			Burst:          20,
		},
	}
	cfg.Logging.File.Path = "logs/phi-deid.log"
	return cfg
}
