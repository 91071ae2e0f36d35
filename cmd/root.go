package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/limblift/internal/config"
	"github.com/andresmejia3/limblift/internal/logger"
	"github.com/andresmejia3/limblift/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// DB is the global database connection shared by subcommands.
	// It stays nil until a command asks for it through connectDB.
	DB *store.Store
	// Cfg is the resolved configuration (defaults < config file < env < flags).
	Cfg *config.Config
	// Log is the application logger, set up from --log-level.
	Log = zerolog.Nop()

	v       = viper.New()
	cfgFile string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "limblift",
	Short:   "Lift 2D limb keypoints to 3D joint angles, frame by frame",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		Cfg, err = config.Load(v, cfgFile)
		if err != nil {
			return err
		}
		Log, err = logger.New(Cfg.LogLevel, os.Stderr)
		if err != nil {
			return fmt.Errorf("invalid log level: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// connectDB opens the result store on first use.
func connectDB(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	var err error
	DB, err = store.New(ctx, Cfg.DB.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return DB, nil
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("db", "", "PostgreSQL connection string (default: $POSTGRES_* or postgres://localhost:5432/limblift)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("output", "o", "./output", "Directory for the <name>.3d.json results")

	v.BindPFlag("db.url", rootCmd.PersistentFlags().Lookup("db"))
	v.BindPFlag("logLevel", rootCmd.PersistentFlags().Lookup("log-level"))
	v.BindPFlag("outputDir", rootCmd.PersistentFlags().Lookup("output"))
}
