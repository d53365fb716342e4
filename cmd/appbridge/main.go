package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"appbridge/internal/agent"
	"appbridge/internal/config"
	"appbridge/internal/engine"
	"appbridge/internal/webhost"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Loaded in PersistentPreRunE, before the logger
	cfg config.Config

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "appbridge",
	Short: "appbridge - shared-document bridge between editor agent and app host",
	Long: `appbridge runs the two halves of the mini-app bridge.

The control process owns the inference engine and answers chat and tool-use
requests on behalf of the editor. The render process hosts the generated
mini-apps and serves the HTTP API they call. The two share one replicated
document over loopback; the control process publishes its id on the
bootstrap port and spawns the render process by default.

Run without arguments to start the control process.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}

		// Initialize logger
		logger, err = buildLogger(cfg.Logging, verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context())
	},
}

// controlCmd runs the editor-facing control process explicitly
var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Run the control process (editor side, owns the inference engine)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runControl(cmd.Context())
	},
}

// renderCmd runs the app-hosting render process
var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Run the render process (hosts generated mini-apps)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRender(cmd.Context())
	},
}

// buildLogger maps the yaml logging section onto a zap config. "text"
// uses the development console encoder, anything else stays production
// JSON; -v forces debug regardless of the configured level.
func buildLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if lc.Format == "text" {
		zcfg = zap.NewDevelopmentConfig()
	}
	if lvl, err := zapcore.ParseLevel(lc.Level); err == nil {
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func runControl(ctx context.Context) error {
	client, err := engine.New(engine.Config{
		Provider: engine.Provider(cfg.LLM.Provider),
		BaseURL:  cfg.LLM.BaseURL,
		APIKey:   cfg.LLM.APIKey,
		Model:    cfg.LLM.Model,
		Timeout:  cfg.GetLLMTimeout(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	a, err := agent.Start(ctx, cfg, client, logger)
	if err != nil {
		return fmt.Errorf("failed to start control process: %w", err)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.Shutdown(shutdownCtx)
	return nil
}

func runRender(ctx context.Context) error {
	h, err := webhost.Start(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to start render process: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.Wait()
	}()

	select {
	case <-done:
		// should_exit observed; the host already tore itself down
	case <-ctx.Done():
		h.Stop()
		<-done
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "appbridge.yaml", "Path to config file")

	rootCmd.AddCommand(controlCmd)
	rootCmd.AddCommand(renderCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
