// Package config loads subdash settings from defaults, an optional YAML file
// (subdash.yaml) and SUBDASH_* environment variables, in increasing order of
// precedence. A .env file in the working directory is loaded first.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/divyekant/subdash/internal/fetch"
)

// EnvPrefix is prepended to every environment override:
// ingest.max_retries is read from SUBDASH_INGEST_MAX_RETRIES.
const EnvPrefix = "SUBDASH"

// FileName is the config file name searched for when no path is given.
const FileName = "subdash.yaml"

type Config struct {
	DataDir       string
	WebDir        string
	WatermarkFile string
	DownloadsDir  string
	SourcesFile   string

	HTTP     HTTPConfig
	Ingest   IngestConfig
	Schedule ScheduleConfig
	Log      LogConfig
	Server   ServerConfig

	// File is the config file that was read, or "" when none was found.
	File string
}

type HTTPConfig struct {
	Timeout   time.Duration
	UserAgent string
	Rate      float64
	MaxBytes  int64
}

type IngestConfig struct {
	MaxRetries      int
	RetryDelay      time.Duration
	CooldownAfter   int
	Cooldown        time.Duration
	CheckpointEvery int
	Download        bool
}

type ScheduleConfig struct {
	Interval time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	File   string
}

type ServerConfig struct {
	Port int
}

// StorePath is the result store document inside the web directory.
func (c Config) StorePath() string { return filepath.Join(c.WebDir, "data.json") }

// defaults lists every known key. Keys absent here cannot be set.
var defaults = map[string]any{
	"data_dir":                "",
	"web_dir":                 "",
	"watermark_file":          "",
	"downloads_dir":           "",
	"sources_file":            "",
	"http.timeout":            "15s",
	"http.user_agent":         fetch.DefaultUserAgent,
	"http.rate":               2.0,
	"http.max_bytes":          10 * 1024 * 1024,
	"ingest.max_retries":      3,
	"ingest.retry_delay":      "5s",
	"ingest.cooldown_after":   3,
	"ingest.cooldown":         "60s",
	"ingest.checkpoint_every": 3,
	"ingest.download":         true,
	"schedule.interval":       "6h",
	"log.level":               "info",
	"log.format":              "text",
	"log.file":                "",
	"server.port":             8960,
}

// Keys returns every known key, sorted.
func Keys() []string {
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKey reports whether key is a known setting.
func IsKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// DefaultPath is the per-user config file.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, "subdash", FileName)
}

// DefaultDataDir is the per-user data directory.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, "subdash")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	return v
}

// Load reads the configuration. When path is empty, subdash.yaml is looked
// up in the working directory and then in the user config directory; a
// missing file is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	v := newViper()
	v.SetConfigType("yaml")
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
		} else if !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("stat config: %w", err)
		}
	} else {
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(DefaultPath()))
	}

	if path == "" || v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		DataDir:       v.GetString("data_dir"),
		WebDir:        v.GetString("web_dir"),
		WatermarkFile: v.GetString("watermark_file"),
		DownloadsDir:  v.GetString("downloads_dir"),
		SourcesFile:   v.GetString("sources_file"),
		HTTP: HTTPConfig{
			Timeout:   v.GetDuration("http.timeout"),
			UserAgent: v.GetString("http.user_agent"),
			Rate:      v.GetFloat64("http.rate"),
			MaxBytes:  v.GetInt64("http.max_bytes"),
		},
		Ingest: IngestConfig{
			MaxRetries:      v.GetInt("ingest.max_retries"),
			RetryDelay:      v.GetDuration("ingest.retry_delay"),
			CooldownAfter:   v.GetInt("ingest.cooldown_after"),
			Cooldown:        v.GetDuration("ingest.cooldown"),
			CheckpointEvery: v.GetInt("ingest.checkpoint_every"),
			Download:        v.GetBool("ingest.download"),
		},
		Schedule: ScheduleConfig{Interval: v.GetDuration("schedule.interval")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			File:   v.GetString("log.file"),
		},
		Server: ServerConfig{Port: v.GetInt("server.port")},
		File:   v.ConfigFileUsed(),
	}

	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir()
	}
	if cfg.WebDir == "" {
		cfg.WebDir = filepath.Join(cfg.DataDir, "web")
	}
	if cfg.WatermarkFile == "" {
		cfg.WatermarkFile = filepath.Join(cfg.DataDir, "watermark.json")
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = filepath.Join(cfg.DataDir, "downloads")
	}
	if cfg.SourcesFile == "" {
		cfg.SourcesFile = filepath.Join(cfg.DataDir, "sources.yaml")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}
	if c.Ingest.MaxRetries <= 0 {
		return fmt.Errorf("invalid ingest.max_retries: %d", c.Ingest.MaxRetries)
	}
	if c.Ingest.RetryDelay < 0 || c.Ingest.Cooldown < 0 {
		return errors.New("ingest delays must not be negative")
	}
	if c.Schedule.Interval < time.Minute {
		return fmt.Errorf("schedule.interval must be at least 1m, got %s", c.Schedule.Interval)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %q", c.Log.Format)
	}
	return nil
}

// Values returns the effective value of every key as display strings.
func (c Config) Values() map[string]string {
	return map[string]string{
		"data_dir":                c.DataDir,
		"web_dir":                 c.WebDir,
		"watermark_file":          c.WatermarkFile,
		"downloads_dir":           c.DownloadsDir,
		"sources_file":            c.SourcesFile,
		"http.timeout":            c.HTTP.Timeout.String(),
		"http.user_agent":         c.HTTP.UserAgent,
		"http.rate":               fmt.Sprint(c.HTTP.Rate),
		"http.max_bytes":          fmt.Sprint(c.HTTP.MaxBytes),
		"ingest.max_retries":      fmt.Sprint(c.Ingest.MaxRetries),
		"ingest.retry_delay":      c.Ingest.RetryDelay.String(),
		"ingest.cooldown_after":   fmt.Sprint(c.Ingest.CooldownAfter),
		"ingest.cooldown":         c.Ingest.Cooldown.String(),
		"ingest.checkpoint_every": fmt.Sprint(c.Ingest.CheckpointEvery),
		"ingest.download":         fmt.Sprint(c.Ingest.Download),
		"schedule.interval":       c.Schedule.Interval.String(),
		"log.level":               c.Log.Level,
		"log.format":              c.Log.Format,
		"log.file":                c.Log.File,
		"server.port":             fmt.Sprint(c.Server.Port),
	}
}

// Set writes key=value into the YAML file at path, keeping the file's other
// keys. The value is parsed as a YAML scalar so numbers and booleans keep
// their type. The resulting configuration must still validate.
func Set(path, key, value string) error {
	if !IsKey(key) {
		return fmt.Errorf("unknown config key %q", key)
	}

	var typed any
	if err := yaml.Unmarshal([]byte(value), &typed); err != nil || typed == nil {
		typed = value
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(path)
	if _, err := os.Stat(path); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config: %w", err)
		}
	}
	v.Set(key, typed)

	check := newViper()
	if err := check.MergeConfigMap(v.AllSettings()); err != nil {
		return err
	}
	if _, err := fromViper(check); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
