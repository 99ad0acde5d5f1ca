package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/faceguard/internal/config"
	"github.com/andresmejia3/faceguard/internal/logger"
	"github.com/andresmejia3/faceguard/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Options holds shared configuration for the analyze, frame and enroll commands
type Options struct {
	VideoPath   string
	FramesDir   string
	EnrollDir   string
	Labels      []string
	SitePath    string
	Zone        string
	NumEngines  int
	NthFrame    int
	MaxFrames   int
	Method      string
	NoEnhance   bool
	Denoise     bool
	JSONPath    string
	Notify      bool
	DebugFrames string
}

// annotationRequiresDB marks commands that cannot run without the audit store.
const annotationRequiresDB = "requires-db"

var (
	// Cfg is the configuration loaded from the environment and .env
	Cfg *config.Config
	// DB is the audit store shared by subcommands. Nil when no database is configured.
	DB *store.Store
	// dbURL is the connection string
	dbURL    string
	logLevel string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "faceguard",
	Short:   "CCTV face recognition and access anomaly engine",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// If no flag was provided, try to build the connection string from the environment
		if dbURL == "" {
			if host := os.Getenv("POSTGRES_HOST"); host != "" {
				user := os.Getenv("POSTGRES_USER")
				pass := os.Getenv("POSTGRES_PASSWORD")
				name := os.Getenv("POSTGRES_DB")
				port := os.Getenv("POSTGRES_PORT")
				if port == "" {
					port = "5432"
				}
				dbURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s", user, pass, host, port, name)
			}
		}

		if dbURL == "" {
			if cmd.Annotations[annotationRequiresDB] == "true" {
				return fmt.Errorf("%s needs a database: pass --db or set POSTGRES_HOST", cmd.Name())
			}
			return nil
		}

		var err error
		// Use the command's context (which will be cancellable) for the connection
		DB, err = store.New(cmd.Context(), dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
		}
		logger.Sync()
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the run audit store (default: built from POSTGRES_* env, disabled when unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides FACEGUARD_LOG_LEVEL")
}

// initConfig loads .env, the environment and the logger before any command runs.
func initConfig() {
	// A missing .env is fine, the environment may already be populated.
	_ = godotenv.Load()

	Cfg = config.Load()
	if logLevel != "" {
		Cfg.Log.Level = logLevel
	}
	if err := logger.Init(Cfg.Log.Level, Cfg.Log.Development); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Invalid log level %q, logging disabled: %v\n", Cfg.Log.Level, err)
	}
}
