package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	HTTP      HTTPConfig      `yaml:"http"`
	Storage   StorageConfig   `yaml:"storage"`
	Capture   CaptureConfig   `yaml:"capture"`
	MP3       MP3Config       `yaml:"mp3"`
	Contacts  ContactsConfig  `yaml:"contacts"`
	Notify    NotifyConfig    `yaml:"notify"`
	Retention RetentionConfig `yaml:"retention"`
	Worker    WorkerConfig    `yaml:"worker"`
	Prefs     PrefsConfig     `yaml:"prefs"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig contains the UDP call-state listener configuration
type ServerConfig struct {
	Enabled     bool   `yaml:"enabled"`
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	QueueSize   int    `yaml:"queue_size"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int        `yaml:"port"`
	Address string     `yaml:"address"`
	Enabled bool       `yaml:"enabled"`
	Auth    AuthConfig `yaml:"auth"`
}

// AuthConfig enables bearer token checks on the HTTP API. An empty secret
// disables them.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// StorageConfig controls where recordings live and how they are indexed
type StorageConfig struct {
	SaveDir      string         `yaml:"save_dir"`
	MinFreeBytes uint64         `yaml:"min_free_bytes"`
	FFprobe      string         `yaml:"ffprobe"`
	// IndexPath is the embedded SQLite index used when no Postgres DSN is
	// set. Empty means recordings.db inside SaveDir.
	IndexPath string         `yaml:"index_path"`
	Postgres  PostgresConfig `yaml:"postgres"`
}

// PostgresConfig selects the PostgreSQL index. An empty DSN selects the embedded SQLite index.
type PostgresConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime"` // seconds
}

// CaptureConfig contains the ffmpeg capture backend parameters
type CaptureConfig struct {
	FFmpeg          string `yaml:"ffmpeg"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	AACBitrate      string `yaml:"aac_bitrate"`
	ShutdownTimeout int    `yaml:"shutdown_timeout"` // seconds
}

// MP3Config contains MP3 export parameters
type MP3Config struct {
	FFmpeg      string `yaml:"ffmpeg"`
	BitrateKbps int    `yaml:"bitrate_kbps"`
	Convention  string `yaml:"convention"`
	ChunkFrames int    `yaml:"chunk_frames"`
}

// ContactsConfig selects the contact name sources
type ContactsConfig struct {
	File      string             `yaml:"file"`
	HTTP      ContactsHTTPConfig `yaml:"http"`
	CacheSize int                `yaml:"cache_size"`
	CacheTTL  int                `yaml:"cache_ttl"` // seconds
}

// ContactsHTTPConfig configures the remote directory. An empty endpoint disables it.
type ContactsHTTPConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// NotifyConfig selects the change feed. Without a redis address events stay in process.
type NotifyConfig struct {
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig contains the redis pub/sub parameters
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Channel  string `yaml:"channel"`
}

// RetentionConfig controls the auto-delete sweep
type RetentionConfig struct {
	Interval int `yaml:"interval"` // seconds
}

// WorkerConfig sizes the background pool
type WorkerConfig struct {
	Size int `yaml:"size"`
}

// PrefsConfig points at the user settings file
type PrefsConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// Rotation settings apply when Output is a file path.
	MaxSizeMB  int  `yaml:"max_size_mb"`
	MaxBackups int  `yaml:"max_backups"`
	MaxAgeDays int  `yaml:"max_age_days"`
	Compress   bool `yaml:"compress"`
}

// Default returns a configuration that runs locally without external services.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Enabled:     true,
			UDPPort:     4444,
			BindAddress: "127.0.0.1",
			BufferSize:  65536,
			QueueSize:   256,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Storage: StorageConfig{
			SaveDir:      "./recordings",
			MinFreeBytes: 50 << 20,
			FFprobe:      "ffprobe",
		},
		Capture: CaptureConfig{
			FFmpeg:          "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			AACBitrate:      "64k",
			ShutdownTimeout: 10,
		},
		MP3: MP3Config{
			FFmpeg:      "ffmpeg",
			BitrateKbps: 128,
			Convention:  "interleaved",
			ChunkFrames: 4096,
		},
		Contacts: ContactsConfig{
			CacheSize: 1024,
			CacheTTL:  3600,
			HTTP: ContactsHTTPConfig{
				Timeout:       5,
				MaxRetries:    2,
				MaxConcurrent: 4,
			},
		},
		Retention: RetentionConfig{Interval: 3600},
		Worker:    WorkerConfig{Size: 4},
		Prefs:     PrefsConfig{Path: "./settings.yaml"},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads and parses the configuration file. Keys missing from the file
// keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.MP3.Validate(); err != nil {
		return fmt.Errorf("mp3 config: %w", err)
	}

	if err := c.Contacts.Validate(); err != nil {
		return fmt.Errorf("contacts config: %w", err)
	}

	if c.Retention.Interval < 1 {
		return fmt.Errorf("retention config: interval must be at least 1 second, got %d", c.Retention.Interval)
	}

	if c.Worker.Size < 1 {
		return fmt.Errorf("worker config: size must be at least 1, got %d", c.Worker.Size)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}

	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", s.QueueSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	if h.Auth.JWTSecret != "" && len(h.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth jwt_secret must be at least 16 bytes")
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	if s.SaveDir == "" {
		return fmt.Errorf("save_dir cannot be empty")
	}

	if s.Postgres.DSN != "" {
		if s.Postgres.MaxOpenConns < 0 || s.Postgres.MaxIdleConns < 0 {
			return fmt.Errorf("postgres pool sizes cannot be negative")
		}
		if s.Postgres.ConnMaxLifetime < 0 {
			return fmt.Errorf("postgres conn_max_lifetime cannot be negative, got %d", s.Postgres.ConnMaxLifetime)
		}
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.FFmpeg == "" {
		return fmt.Errorf("ffmpeg cannot be empty")
	}

	if c.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", c.ShutdownTimeout)
	}

	return nil
}

// Validate validates MP3 configuration
func (m *MP3Config) Validate() error {
	if m.FFmpeg == "" {
		return fmt.Errorf("ffmpeg cannot be empty")
	}

	if m.BitrateKbps < 32 || m.BitrateKbps > 320 {
		return fmt.Errorf("bitrate_kbps must be between 32 and 320, got %d", m.BitrateKbps)
	}

	if m.Convention != "interleaved" && m.Convention != "planar" {
		return fmt.Errorf("convention must be 'interleaved' or 'planar', got '%s'", m.Convention)
	}

	if m.ChunkFrames < 256 {
		return fmt.Errorf("chunk_frames must be at least 256, got %d", m.ChunkFrames)
	}

	return nil
}

// Validate validates contact lookup configuration
func (c *ContactsConfig) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("cache_size cannot be negative, got %d", c.CacheSize)
	}

	if c.CacheTTL < 0 {
		return fmt.Errorf("cache_ttl cannot be negative, got %d", c.CacheTTL)
	}

	if c.HTTP.Endpoint == "" {
		return nil
	}

	if c.HTTP.Timeout < 1 {
		return fmt.Errorf("http timeout must be at least 1 second, got %d", c.HTTP.Timeout)
	}

	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http max_retries cannot be negative, got %d", c.HTTP.MaxRetries)
	}

	if c.HTTP.MaxConcurrent < 1 {
		return fmt.Errorf("http max_concurrent must be at least 1, got %d", c.HTTP.MaxConcurrent)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	if l.MaxSizeMB < 0 || l.MaxBackups < 0 || l.MaxAgeDays < 0 {
		return fmt.Errorf("rotation settings cannot be negative")
	}

	return nil
}

// IsFile reports whether log output goes to a file rather than a standard stream.
func (l *LoggingConfig) IsFile() bool {
	return l.Output != "" && l.Output != "stdout" && l.Output != "stderr"
}

// GetIndexPath returns the SQLite index file.
func (s *StorageConfig) GetIndexPath() string {
	if s.IndexPath != "" {
		return s.IndexPath
	}
	return filepath.Join(s.SaveDir, "recordings.db")
}

// GetConnMaxLifetime returns the connection lifetime as a time.Duration
func (p *PostgresConfig) GetConnMaxLifetime() time.Duration {
	return time.Duration(p.ConnMaxLifetime) * time.Second
}

// GetShutdownTimeout returns the capture shutdown timeout as a time.Duration
func (c *CaptureConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

// GetCacheTTL returns the contact cache TTL as a time.Duration
func (c *ContactsConfig) GetCacheTTL() time.Duration {
	return time.Duration(c.CacheTTL) * time.Second
}

// GetTimeoutDuration returns the contact directory timeout as a time.Duration
func (c *ContactsHTTPConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetIntervalDuration returns the sweep interval as a time.Duration
func (r *RetentionConfig) GetIntervalDuration() time.Duration {
	return time.Duration(r.Interval) * time.Second
}
