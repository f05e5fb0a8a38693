package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store    StoreConfig    `yaml:"store" mapstructure:"store"`
	Decode   DecodeConfig   `yaml:"decode" mapstructure:"decode"`
	Ingest   IngestConfig   `yaml:"ingest" mapstructure:"ingest"`
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Uploader UploaderConfig `yaml:"uploader" mapstructure:"uploader"`
	FTP      FTPConfig      `yaml:"ftp" mapstructure:"ftp"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// DecodeConfig configures fixed-width record decoding.
type DecodeConfig struct {
	// StrictDates rejects calendar-invalid MMDDCCYY values instead of
	// passing them through rearranged.
	StrictDates bool `yaml:"strict_dates" mapstructure:"strict_dates"`

	// Encoding names the input byte encoding ("utf8" or "latin1").
	// Settlement files from older bank hosts arrive as Latin-1.
	Encoding string `yaml:"encoding" mapstructure:"encoding"`
}

// IngestConfig configures multi-file ingestion.
type IngestConfig struct {
	MaxConcurrentFiles int `yaml:"max_concurrent_files" mapstructure:"max_concurrent_files"`
}

// ServerConfig configures the ingestion HTTP server.
type ServerConfig struct {
	Port    int      `yaml:"port" mapstructure:"port"`
	APIKeys []string `yaml:"api_keys" mapstructure:"api_keys"`

	// DataDir holds uploaded files and partial chunk assemblies.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// MaxQueueDepth is the waiting-upload count above which new batch
	// starts are told to hold off.
	MaxQueueDepth int `yaml:"max_queue_depth" mapstructure:"max_queue_depth"`
}

// UploaderConfig configures the batch upload client.
type UploaderConfig struct {
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`

	InboxDir     string `yaml:"inbox_dir" mapstructure:"inbox_dir"`
	LogsDir      string `yaml:"logs_dir" mapstructure:"logs_dir"`
	ProcessedDir string `yaml:"processed_dir" mapstructure:"processed_dir"`

	// ChunkThresholdBytes is the file size above which uploads switch to
	// chunked transfer. Chunks are the same size as the threshold.
	ChunkThresholdBytes int64 `yaml:"chunk_threshold_bytes" mapstructure:"chunk_threshold_bytes"`

	MaxRetries       int     `yaml:"max_retries" mapstructure:"max_retries"`
	WakeIntervalSecs int     `yaml:"wake_interval_secs" mapstructure:"wake_interval_secs"`
	RequestsPerSec   float64 `yaml:"requests_per_sec" mapstructure:"requests_per_sec"`
}

// FTPConfig configures settlement file retrieval from the bank host.
type FTPConfig struct {
	Host      string `yaml:"host" mapstructure:"host"`
	Port      int    `yaml:"port" mapstructure:"port"`
	User      string `yaml:"user" mapstructure:"user"`
	Password  string `yaml:"password" mapstructure:"password"`
	RemoteDir string `yaml:"remote_dir" mapstructure:"remote_dir"`
	Pattern   string `yaml:"pattern" mapstructure:"pattern"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Validate checks the configuration required for the given mode. Modes map
// to the top-level commands: "serve", "upload", "fetch", "ingest".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch mode {
	case "serve":
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, "server.port must be > 0 and <= 65535")
		}
		if len(c.Server.APIKeys) == 0 {
			problems = append(problems, "server.api_keys is required")
		}
		if c.Server.DataDir == "" {
			problems = append(problems, "server.data_dir is required")
		}
		problems = append(problems, c.validateStore()...)
	case "upload":
		if c.Uploader.ServerURL == "" {
			problems = append(problems, "uploader.server_url is required")
		}
		if c.Uploader.APIKey == "" {
			problems = append(problems, "uploader.api_key is required")
		}
		if c.Uploader.MaxRetries < 1 || c.Uploader.MaxRetries > 10 {
			problems = append(problems, "uploader.max_retries must be between 1 and 10")
		}
	case "fetch":
		if c.FTP.Host == "" {
			problems = append(problems, "ftp.host is required")
		}
		if c.FTP.User == "" {
			problems = append(problems, "ftp.user is required")
		}
	case "ingest":
		if c.Ingest.MaxConcurrentFiles < 1 || c.Ingest.MaxConcurrentFiles > 32 {
			problems = append(problems, "ingest.max_concurrent_files must be between 1 and 32")
		}
		problems = append(problems, c.validateStore()...)
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func (c *Config) validateStore() []string {
	var problems []string
	switch c.Store.Driver {
	case "postgres", "sqlite":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, "store.driver must be postgres or sqlite")
	}
	return problems
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TDDF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "tddf.db")
	v.SetDefault("decode.strict_dates", false)
	v.SetDefault("decode.encoding", "utf8")
	v.SetDefault("ingest.max_concurrent_files", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.data_dir", "data")
	v.SetDefault("server.max_queue_depth", 20)
	v.SetDefault("uploader.inbox_dir", "inbox")
	v.SetDefault("uploader.logs_dir", "logs")
	v.SetDefault("uploader.processed_dir", "processed")
	v.SetDefault("uploader.chunk_threshold_bytes", int64(25*1024*1024))
	v.SetDefault("uploader.max_retries", 3)
	v.SetDefault("uploader.wake_interval_secs", 300)
	v.SetDefault("uploader.requests_per_sec", 5.0)
	v.SetDefault("ftp.port", 21)
	v.SetDefault("ftp.remote_dir", "/outbound")
	v.SetDefault("ftp.pattern", "*.tddf")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
