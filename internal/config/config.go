// Package config loads and validates soundings configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/uwyo-soundings/internal/sounding"
)

// Failure policies accepted by failure_policy.
const (
	FailureIsolate = "isolate"
	FailureAbort   = "abort"
)

// Storage backends accepted by storage.backend.
const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	StationID     string        `mapstructure:"station_id"`
	BeginDate     string        `mapstructure:"begin_date"`
	EndDate       string        `mapstructure:"end_date"`
	Hour          string        `mapstructure:"hour"`
	OutputDir     string        `mapstructure:"output_dir"`
	Concurrency   int           `mapstructure:"concurrency"`
	WriteASCII    bool          `mapstructure:"write_ascii"`
	WriteArchive  bool          `mapstructure:"write_archive"`
	ArchiveName   string        `mapstructure:"archive_name"`
	FailurePolicy string        `mapstructure:"failure_policy"`
	HTTP          HTTPConfig    `mapstructure:"http"`
	Storage       StorageConfig `mapstructure:"storage"`
	DB            DBConfig      `mapstructure:"db"`
	PubSub        PubSubConfig  `mapstructure:"pubsub"`
	Metrics       MetricsConfig `mapstructure:"metrics"`
	Server        ServerConfig  `mapstructure:"server"`
	Logging       LoggingConfig `mapstructure:"logging"`
}

// HTTPConfig configures the outbound client.
type HTTPConfig struct {
	BaseURL           string  `mapstructure:"base_url"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	UserAgent         string  `mapstructure:"user_agent"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects where artifacts and the archive are written.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the optional station catalog table.
type DBConfig struct {
	DSN       string `mapstructure:"dsn"`
	Table     string `mapstructure:"table"`
	RunsTable string `mapstructure:"runs_table"`
	MaxConns  int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds the optional run notification topic.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls Prometheus export for batch runs.
type MetricsConfig struct {
	Textfile string `mapstructure:"textfile"`
}

// ServerConfig controls the query API.
type ServerConfig struct {
	Port    int    `mapstructure:"port"`
	APIKey  string `mapstructure:"api_key"`
	MaxDays int    `mapstructure:"max_days"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from defaults, an optional file, the environment, and
// any bound flags. Keys of flags are viper keys.
func Load(path string, flags map[string]*pflag.Flag) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SOUNDINGS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for key, flag := range flags {
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return Config{}, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("station_id", "")
	v.SetDefault("begin_date", "")
	v.SetDefault("end_date", "")
	v.SetDefault("hour", string(sounding.Hour00))
	v.SetDefault("output_dir", "soundings/")
	v.SetDefault("concurrency", 1)
	v.SetDefault("write_ascii", false)
	v.SetDefault("write_archive", true)
	v.SetDefault("archive_name", "dwl_data.pkl")
	v.SetDefault("failure_policy", FailureIsolate)
	v.SetDefault("http.base_url", sounding.DefaultBaseURL)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "uwyo-soundings/0.1")
	v.SetDefault("http.requests_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", "stations")
	v.SetDefault("db.runs_table", "sounding_runs")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.textfile", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("server.max_days", 31)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces limits that hold for every command. Station and date
// checks run when a fetch is prepared.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return sounding.Configurationf("concurrency must be >= 1")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return sounding.Configurationf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return sounding.Configurationf("http.requests_per_second must be >= 0")
	}
	switch c.FailurePolicy {
	case FailureIsolate, FailureAbort:
	default:
		return sounding.Configurationf("failure_policy must be %q or %q", FailureIsolate, FailureAbort)
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if strings.TrimSpace(c.OutputDir) == "" {
			return sounding.Configurationf("output_dir must be set")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return sounding.Configurationf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return sounding.Configurationf("unknown storage.backend %q", c.Storage.Backend)
	}
	if c.WriteArchive && strings.TrimSpace(c.ArchiveName) == "" {
		return sounding.Configurationf("archive_name must be set when write_archive is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return sounding.Configurationf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Server.Port <= 0 {
		return sounding.Configurationf("server.port must be > 0")
	}
	return nil
}

// RequestTimeout converts http.timeout_seconds into a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DateRange parses begin_date and end_date. Missing dates default to the day
// of now; a missing end date defaults to the begin date.
func (c Config) DateRange(now time.Time) (time.Time, time.Time, error) {
	begin := sounding.Day(now)
	if strings.TrimSpace(c.BeginDate) != "" {
		parsed, err := sounding.ParseDate(c.BeginDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("begin_date: %w", err)
		}
		begin = parsed
	}
	end := begin
	if strings.TrimSpace(c.EndDate) != "" {
		parsed, err := sounding.ParseDate(c.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("end_date: %w", err)
		}
		end = parsed
	}
	return begin, end, nil
}
