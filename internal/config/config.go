package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix scopes the environment variables read into the config.
// Nested keys use a double underscore: EXAMCARDS_DATABASE__DSN -> database.dsn.
const EnvPrefix = "EXAMCARDS_"

// Config is the runtime configuration of the service.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Sync      SyncConfig      `koanf:"sync"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Log       LogConfig       `koanf:"log"`

	// One-shot actions requested on the command line.
	AddSource string `koanf:"-"`
	SyncOnce  bool   `koanf:"-"`
}

type ServerConfig struct {
	Addr           string   `koanf:"addr" validate:"required"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `koanf:"driver" validate:"oneof=sqlite postgres"`
	DSN    string `koanf:"dsn" validate:"required"`
}

type SchedulerConfig struct {
	BatchSize int           `koanf:"batch_size" validate:"min=1,max=100"`
	ClockSkew time.Duration `koanf:"clock_skew" validate:"gte=0"`
}

type SyncConfig struct {
	ReposDir string        `koanf:"repos_dir" validate:"required"`
	Interval time.Duration `koanf:"interval" validate:"gte=0"` // 0 disables periodic sync
}

type RateLimitConfig struct {
	PerSecond float64 `koanf:"per_second" validate:"gte=0"` // 0 disables limiting
	Burst     int     `koanf:"burst" validate:"min=1"`
}

type LogConfig struct {
	Level string `koanf:"level" validate:"oneof=debug info warn error"`
}

// SlogLevel returns the configured log level.
func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// flagKeys maps command line flags to config keys.
var flagKeys = map[string]string{
	"addr":            "server.addr",
	"allowed-origins": "server.allowed_origins",
	"db-driver":       "database.driver",
	"db-dsn":          "database.dsn",
	"batch-size":      "scheduler.batch_size",
	"clock-skew":      "scheduler.clock_skew",
	"repos-dir":       "sync.repos_dir",
	"sync-interval":   "sync.interval",
	"rate-limit":      "ratelimit.per_second",
	"rate-burst":      "ratelimit.burst",
	"log-level":       "log.level",
}

func newFlagSet(name string) *pflag.FlagSet {
	f := pflag.NewFlagSet(name, pflag.ContinueOnError)
	f.String("config", "", "Path to a YAML config file")
	f.String("env-file", ".env", "Path to a dotenv file, loaded when present")
	f.String("add-source", "", "Add a new source (local path or git URL) and exit")
	f.Bool("sync", false, "Sync all sources once and exit")

	f.String("addr", ":8080", "HTTP listen address")
	f.StringSlice("allowed-origins", []string{"http://localhost:3000"}, "Origins allowed by CORS")
	f.String("db-driver", "sqlite", "Database driver: sqlite or postgres")
	f.String("db-dsn", "examcards.db", "Database DSN (a file path for sqlite)")
	f.Int("batch-size", 20, "Default number of cards per review batch")
	f.Duration("clock-skew", 5*time.Minute, "Tolerated clock skew before a review is flagged")
	f.String("repos-dir", "repos", "Directory where git sources are cloned")
	f.Duration("sync-interval", 15*time.Minute, "Interval between background syncs, 0 to disable")
	f.Float64("rate-limit", 5, "Reviews per second allowed per learner, 0 to disable")
	f.Int("rate-burst", 10, "Burst of reviews allowed per learner")
	f.String("log-level", "info", "Log level: debug, info, warn or error")
	return f
}

// Load builds the config from, lowest precedence first: flag defaults, the
// YAML file named by --config, EXAMCARDS_ environment variables, and flags
// set explicitly on the command line.
func Load(args []string) (*Config, error) {
	f := newFlagSet("examcards")
	if err := f.Parse(args); err != nil {
		return nil, err
	}

	envFile, _ := f.GetString("env-file")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
	}

	k := koanf.New(".")

	if path, _ := f.GetString("config"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", ".")
			if key == "server.allowed_origins" {
				return key, strings.Split(value, ",")
			}
			return key, value
		},
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	err = k.Load(posflag.ProviderWithFlag(f, ".", k, func(fl *pflag.Flag) (string, any) {
		key, ok := flagKeys[fl.Name]
		if !ok {
			return "", nil
		}
		if sv, ok := fl.Value.(pflag.SliceValue); ok {
			return key, sv.GetSlice()
		}
		return key, fl.Value.String()
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load flags: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.AddSource, _ = f.GetString("add-source")
	cfg.SyncOnce, _ = f.GetBool("sync")

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}
