package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/andresmejia3/facematch/internal/api"
	"github.com/andresmejia3/facematch/internal/engine"
	"github.com/andresmejia3/facematch/internal/metrics"
	"github.com/andresmejia3/facematch/internal/utils"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the face encoding HTTP service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true
		return runServe(cmd.Context())
	},
}

func init() {
	serveCmd.Flags().IntP("port", "p", 5000, "Port to listen on (env PORT)")
	addEngineFlags(serveCmd)
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context) error {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()

	fmt.Fprintf(os.Stderr, "🚀 Starting %s face engine...\n", cfg.Engine.Backend)
	e, err := engine.New(ctx, cfg.EngineSettings(), logger)
	if err != nil {
		utils.ShowError("Failed to start face engine", err, nil)
		return err
	}
	e = engine.Instrument(e, m)
	defer e.Close()

	router := api.NewRouter(e, m, logger, cfg.MaxUploadBytes)
	srv := api.NewServer(router, api.Options{
		Addr:              cfg.Addr(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ShutdownTimeout:   cfg.ShutdownTimeout,
	}, logger)

	fmt.Fprintf(os.Stderr, "✅ Listening on %s\n", cfg.Addr())
	if err := srv.Run(ctx); err != nil {
		utils.ShowError("HTTP server failed", err, nil)
		return err
	}
	fmt.Fprintln(os.Stderr, "🏁 Server stopped.")
	return nil
}
