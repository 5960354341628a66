package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/withsecure-connector/pkg/checkpoint"
	"github.com/ajitpratap0/withsecure-connector/pkg/config"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/core"
	"github.com/ajitpratap0/withsecure-connector/pkg/connector/registry"
	"github.com/ajitpratap0/withsecure-connector/pkg/logger"

	// Import all sinks to register them
	_ "github.com/ajitpratap0/withsecure-connector/pkg/connector/destinations"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:   "withsecure-connector",
		Short: "Forward WithSecure Elements security events to a downstream sink",
		Long: `withsecure-connector polls the WithSecure Elements security-events API,
forwards every new event to the configured sink and checkpoints its progress
so that a restart resumes where it left off.`,
		SilenceUsage: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVarP(&configFile, "config", "c", os.Getenv("WITHSECURE_CONFIG"),
		"Path to the YAML configuration file (env WITHSECURE_CONFIG)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "withsecure-connector v%s\n", version)
			fmt.Fprintf(cmd.OutOrStdout(), "Go version: %s\n", runtime.Version())
			fmt.Fprintf(cmd.OutOrStdout(), "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "sinks",
		Short: "List available sinks",
		Run: func(cmd *cobra.Command, args []string) {
			for _, name := range registry.ListSinks() {
				fmt.Fprintf(cmd.OutOrStdout(), "  - %s\n", name)
			}
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run the connector until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, true)
			if err != nil {
				return err
			}
			if err := logger.Init(logger.Config{
				Level:       cfg.Log.Level,
				Encoding:    cfg.Log.Encoding,
				Development: cfg.Log.Development,
			}); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runConnector(ctx, cfg)
		},
	})

	root.AddCommand(newConfigCmd(&configFile))
	root.AddCommand(newCheckpointCmd(&configFile))
	return root
}

func newConfigCmd(configFile *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configFile, false)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	})
	return configCmd
}

func newCheckpointCmd(configFile *string) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or reset the persisted watermark",
	}

	withStore := func(fn func(ctx context.Context, store core.WatermarkStore) error) error {
		cfg, err := loadConfig(*configFile, false)
		if err != nil {
			return err
		}
		ctx := context.Background()
		store, err := openCheckpointStore(ctx, cfg, zap.NewNop())
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(ctx, store)
	}

	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the stored watermark and the one the next run starts from",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store core.WatermarkStore) error {
				stored, found, err := store.Load(ctx)
				if err != nil {
					return err
				}
				if found {
					fmt.Fprintf(cmd.OutOrStdout(), "stored:    %s\n", core.FormatWatermark(stored))
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "stored:    no watermark stored")
				}
				effective := core.ResolveWatermark(time.Now(), stored, found)
				fmt.Fprintf(cmd.OutOrStdout(), "effective: %s\n", core.FormatWatermark(effective))
				return nil
			})
		},
	})

	var date string
	setCmd := &cobra.Command{
		Use:   "set",
		Short: "Overwrite the stored watermark",
		RunE: func(cmd *cobra.Command, args []string) error {
			watermark, err := time.Parse(time.RFC3339, date)
			if err != nil {
				return fmt.Errorf("invalid --date %q, expected RFC 3339: %w", date, err)
			}
			return withStore(func(ctx context.Context, store core.WatermarkStore) error {
				if err := store.Save(ctx, watermark); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "watermark set to %s\n", core.FormatWatermark(watermark))
				return nil
			})
		},
	}
	setCmd.Flags().StringVar(&date, "date", "", "Watermark in RFC 3339, e.g. 2024-01-01T00:00:00Z (required)")
	_ = setCmd.MarkFlagRequired("date")
	checkpointCmd.AddCommand(setCmd)

	checkpointCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Remove the stored watermark; the next run starts one minute back",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store core.WatermarkStore) error {
				if err := store.Clear(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "watermark cleared")
				return nil
			})
		},
	})

	return checkpointCmd
}

func loadConfig(path string, validate bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if validate {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func openCheckpointStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (core.WatermarkStore, error) {
	switch cfg.Checkpoint.Backend {
	case "postgres":
		store, err := checkpoint.NewPostgresStore(ctx, cfg.Checkpoint.DSN, cfg.CheckpointKey(), log)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "file", "":
		return checkpoint.NewFileStore(cfg.Checkpoint.Path, log), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
}
