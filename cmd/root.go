package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/andresmejia3/facematch/internal/config"
	"github.com/andresmejia3/facematch/internal/engine"
	"github.com/andresmejia3/facematch/internal/utils"
)

// Version is the application version.
const Version = "1.0.0"

var (
	// v collects defaults, environment and flags for every subcommand
	v = viper.New()
	// envFile is the optional dotenv file read before the environment
	envFile string

	// cfg and logger are ready once PersistentPreRunE has run
	cfg    *config.Config
	logger *slog.Logger
)

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"port":    "port",
	"debug":   "debug",
	"engine":  "engine.backend",
	"workers": "engine.workers",
	"python":  "engine.python",
	"script":  "engine.script",
	"model":   "engine.model",
	"models":  "engine.models_dir",
}

var rootCmd = &cobra.Command{
	Use:     "facematch",
	Short:   "Face encoding and comparison service",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := bindFlags(v, cmd.Flags()); err != nil {
			return err
		}

		var err error
		cfg, err = config.Load(v, envFile)
		if err != nil {
			utils.ShowError("Invalid configuration", err, nil)
			return err
		}

		logger = newLogger(cfg)
		slog.SetDefault(logger)
		return nil
	},
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment")
	rootCmd.PersistentFlags().Bool("debug", false, "Verbose logging (env DEBUG)")
}

// addEngineFlags registers the face engine flags on cmd.
func addEngineFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("engine", engine.BackendPython, "Face engine backend: python or dlib (env FACE_ENGINE)")
	f.IntP("workers", "w", 1, "Number of Python worker processes (env FACE_WORKERS)")
	f.String("python", "python3", "Python interpreter for the worker (env FACE_PYTHON)")
	f.String("script", "python/worker.py", "Path to the worker script (env FACE_WORKER_SCRIPT)")
	f.String("model", "hog", "Face detection model: hog or cnn (env FACE_DETECTION_MODEL)")
	f.String("models", "models", "Directory holding the dlib model files (env FACE_MODELS_DIR)")
}

// bindFlags binds the flags the running command actually has. Viper keeps one flag per
// key, so binding has to wait until the command is known.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag --%s: %w", name, err)
		}
	}
	return nil
}

func newLogger(c *config.Config) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: c.LogLevel()}))
}
