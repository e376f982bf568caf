// Package config loads the service configuration from defaults, an optional .env file,
// environment variables and command-line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/andresmejia3/facematch/internal/engine"
	"github.com/andresmejia3/facematch/internal/imaging"
)

// Config is fixed at startup and never mutated afterwards.
type Config struct {
	Port  int  `mapstructure:"port"`
	Debug bool `mapstructure:"debug"`

	MaxUploadBytes    int64         `mapstructure:"max_upload_bytes"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`

	Engine EngineConfig `mapstructure:"engine"`
}

// EngineConfig selects the face engine backend.
type EngineConfig struct {
	Backend   string `mapstructure:"backend"`
	Workers   int    `mapstructure:"workers"`
	Python    string `mapstructure:"python"`
	Script    string `mapstructure:"script"`
	Model     string `mapstructure:"model"`
	ModelsDir string `mapstructure:"models_dir"`
}

// envBindings maps config keys onto the environment variable names operators use.
var envBindings = map[string]string{
	"port":                "PORT",
	"debug":               "DEBUG",
	"max_upload_bytes":    "MAX_UPLOAD_BYTES",
	"read_header_timeout": "READ_HEADER_TIMEOUT",
	"idle_timeout":        "IDLE_TIMEOUT",
	"shutdown_timeout":    "SHUTDOWN_TIMEOUT",
	"engine.backend":      "FACE_ENGINE",
	"engine.workers":      "FACE_WORKERS",
	"engine.python":       "FACE_PYTHON",
	"engine.script":       "FACE_WORKER_SCRIPT",
	"engine.model":        "FACE_DETECTION_MODEL",
	"engine.models_dir":   "FACE_MODELS_DIR",
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 5000)
	v.SetDefault("debug", false)
	v.SetDefault("max_upload_bytes", imaging.MaxUploadBytes)
	v.SetDefault("read_header_timeout", 10*time.Second)
	v.SetDefault("idle_timeout", 120*time.Second)
	v.SetDefault("shutdown_timeout", 15*time.Second)
	v.SetDefault("engine.backend", engine.BackendPython)
	v.SetDefault("engine.workers", 1)
	v.SetDefault("engine.python", "python3")
	v.SetDefault("engine.script", "python/worker.py")
	v.SetDefault("engine.model", "hog")
	v.SetDefault("engine.models_dir", "models")
}

// Load reads the configuration into a validated Config. envFile may be empty; a missing
// .env file is not an error.
func Load(v *viper.Viper, envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", envFile, err)
	}

	SetDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	v.Set("debug", truthy(v.Get("debug")))

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}
	cfg.Engine.Backend = strings.ToLower(strings.TrimSpace(cfg.Engine.Backend))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// truthy reads DEBUG the lenient way: only "true", in any case, turns it on.
func truthy(value any) bool {
	switch b := value.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(strings.TrimSpace(b), "true")
	default:
		return false
	}
}

// Validate rejects values the service cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid max upload size %d: must be positive", c.MaxUploadBytes)
	}
	if c.Engine.Workers < 1 {
		return fmt.Errorf("invalid worker count %d: must be >= 1", c.Engine.Workers)
	}
	switch c.Engine.Backend {
	case engine.BackendPython, engine.BackendDlib:
	default:
		return fmt.Errorf("%w: %q", engine.ErrUnknownBackend, c.Engine.Backend)
	}
	switch c.Engine.Model {
	case "hog", "cnn":
	default:
		return fmt.Errorf("invalid detection model %q: must be hog or cnn", c.Engine.Model)
	}
	return nil
}

// EngineSettings converts to the engine package's view.
func (c *Config) EngineSettings() engine.Config {
	return engine.Config{
		Backend:   c.Engine.Backend,
		Workers:   c.Engine.Workers,
		Python:    c.Engine.Python,
		Script:    c.Engine.Script,
		Model:     c.Engine.Model,
		ModelsDir: c.Engine.ModelsDir,
	}
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("0.0.0.0:%d", c.Port)
}

// LogLevel is debug when DEBUG is on.
func (c *Config) LogLevel() slog.Level {
	if c.Debug {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
