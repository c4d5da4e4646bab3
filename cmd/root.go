package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/checkmates/internal/config"
	"github.com/andresmejia3/checkmates/internal/logging"
	"github.com/andresmejia3/checkmates/internal/store"
	"github.com/andresmejia3/checkmates/internal/utils"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// Options holds flag overrides shared by every subcommand
type Options struct {
	DatabaseURL    string
	LogLevel       string
	MatchThreshold float64
	NumEngines     int
	NoCache        bool
}

var (
	// DB is the global database connection shared by subcommands
	DB *store.Store
	// cfg is the resolved configuration (env, .env, then flags)
	cfg *config.Config
	// logger is the structured logger handed to every component
	logger *zap.Logger

	rootOpts Options
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "checkmates",
	Short:   "Face-verified attendance: enroll identities, check photos, keep the ledger",
	Version: Version, // This enables the --version flag

	// Execute prints the error once; RunE handlers show the error box
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		cfg, err = resolveConfig(cmd.Flags(), rootOpts)
		if err != nil {
			utils.Die("Invalid configuration", err, nil)
		}

		logger, err = logging.New(cfg.LogLevel, cfg.LogDevelopment)
		if err != nil {
			utils.Die("Failed to build logger", err, nil)
		}

		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			utils.Die("Failed to connect to database", err, nil)
		}
	},
}

// resolveConfig loads env values, lets explicit flags override them, then validates.
func resolveConfig(flags *pflag.FlagSet, opts Options) (*config.Config, error) {
	c, err := config.Load()
	if err != nil {
		return nil, err
	}
	applyFlags(flags, opts, c)
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// applyFlags overrides configuration with explicitly set flags only.
func applyFlags(flags *pflag.FlagSet, opts Options, c *config.Config) {
	if flags.Changed("db") {
		c.DatabaseURL = opts.DatabaseURL
	}
	if flags.Changed("log-level") {
		c.LogLevel = opts.LogLevel
	}
	if flags.Changed("threshold") {
		c.MatchThreshold = opts.MatchThreshold
	}
	if flags.Changed("engines") {
		c.Worker.Engines = opts.NumEngines
	}
	if flags.Changed("no-cache") && opts.NoCache {
		c.EmbeddingCache = false
	}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	err := rootCmd.ExecuteContext(ctx)
	// cobra skips post-run hooks when RunE fails, so clean up here
	closeResources()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// closeResources releases what PersistentPreRun opened. It is safe to call twice.
func closeResources() {
	if DB != nil {
		// Use Background here because the main context might be cancelled already (due to Ctrl+C)
		DB.Close(context.Background())
		DB = nil
	}
	if logger != nil {
		_ = logger.Sync()
		logger = nil
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&rootOpts.DatabaseURL, "db", "", "PostgreSQL connection string (default: $DATABASE_URL or postgres://localhost:5432/checkmates)")
	pf.StringVar(&rootOpts.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.Float64VarP(&rootOpts.MatchThreshold, "threshold", "t", 0.45, "Minimum cosine similarity to accept a match")
	pf.IntVarP(&rootOpts.NumEngines, "engines", "e", 1, "Number of parallel face model workers")
	pf.BoolVar(&rootOpts.NoCache, "no-cache", false, "Re-extract every gallery embedding on each check")
}
