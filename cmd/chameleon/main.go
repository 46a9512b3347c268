package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"chameleon/internal/config"
	"chameleon/internal/engine"
	"chameleon/internal/logging"
	"chameleon/internal/mcpserver"
	"chameleon/internal/seed"
	"chameleon/internal/store"
	_ "chameleon/internal/tool"
)

const version = "1.0.0"

var (
	// Global flags
	configPath string

	// Serve flag overrides; empty/zero means "use the config file value".
	flagTransport string
	flagHost      string
	flagPort      int
	flagLogLevel  string
	flagLogsDir   string
	flagPersona   string
	flagMetaURL   string
	flagDataURL   string

	// seed --clear wipes the catalogue registries before reseeding.
	flagClear bool
)

var rootCmd = &cobra.Command{
	Use:   "chameleon",
	Short: "Chameleon Engine - MCP server with a database-resident tool catalogue",
	Long: `Chameleon Engine serves the Model Context Protocol from a metadata
database: tool implementations live in a content-addressed code vault and are
dispatched on demand. SQL tools run read-only against a separate data store;
procedural tools run in an embedded interpreter.

Run 'chameleon serve' to start the server, 'chameleon seed' to populate a
fresh catalogue.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server (stdio or SSE)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the system tools and the sample catalogue, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, sync, err := logging.New(cfg.Server.LogsDir, cfg.Server.LogLevel)
		if err != nil {
			return err
		}
		defer sync()

		meta, data, err := openStores(cfg, logger)
		if err != nil {
			return err
		}
		defer meta.Close()
		if data != nil {
			defer data.Close()
		}
		if flagClear {
			if err := meta.ResetCatalog(); err != nil {
				return err
			}
			logger.Info("catalogue cleared")
		}
		return seed.Apply(meta, data, logger)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Print(string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")

	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().StringVar(&flagTransport, "transport", "", "stdio or sse")
		cmd.Flags().StringVar(&flagHost, "host", "", "SSE listen host")
		cmd.Flags().IntVar(&flagPort, "port", 0, "SSE listen port")
		cmd.Flags().StringVar(&flagLogLevel, "log-level", "", "DEBUG, INFO, WARNING, ERROR or CRITICAL")
		cmd.Flags().StringVar(&flagLogsDir, "logs-dir", "", "directory for log files")
		cmd.Flags().StringVar(&flagPersona, "persona", "", "persona whose catalogue is served")
		cmd.Flags().StringVar(&flagMetaURL, "meta-url", "", "metadata database URL")
		cmd.Flags().StringVar(&flagDataURL, "data-url", "", "data database URL")
	}

	seedCmd.Flags().BoolVar(&flagClear, "clear", false, "delete existing catalogue registrations first")

	rootCmd.AddCommand(serveCmd, seedCmd, configCmd)
}

// loadConfig merges flags over the config file over defaults.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if flagTransport != "" {
		cfg.Server.Transport = flagTransport
	}
	if flagHost != "" {
		cfg.Server.Host = flagHost
	}
	if flagPort != 0 {
		cfg.Server.Port = flagPort
	}
	if flagLogLevel != "" {
		cfg.Server.LogLevel = flagLogLevel
	}
	if flagLogsDir != "" {
		cfg.Server.LogsDir = flagLogsDir
	}
	if flagPersona != "" {
		cfg.Server.Persona = flagPersona
	}
	if flagMetaURL != "" {
		cfg.MetadataDatabase.URL = flagMetaURL
	}
	if flagDataURL != "" {
		cfg.DataDatabase.URL = flagDataURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStores connects both databases. The metadata store is required; a
// failed data store connection leaves the server up in offline mode.
func openStores(cfg *config.Config, logger *zap.Logger) (*store.MetaStore, *store.DataStore, error) {
	meta, err := store.OpenMeta(cfg.MetadataDatabase, cfg.Tables)
	if err != nil {
		return nil, nil, fmt.Errorf("metadata database: %w", err)
	}
	meta.SetNotebookAudit(cfg.Features.NotebookAudit)

	data := store.NewData(cfg.DataDatabase, cfg.Tables)
	if err := data.Connect(); err != nil {
		logger.Warn("data store unavailable, starting offline; use reconnect_db to retry",
			zap.String("url", cfg.DataDatabase.URL), zap.Error(err))
	}
	return meta, data, nil
}

func runServe(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, sync, err := logging.New(cfg.Server.LogsDir, cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	defer sync()

	meta, data, err := openStores(cfg, logger)
	if err != nil {
		return err
	}
	defer meta.Close()
	defer data.Close()

	if err := seed.Apply(meta, data, logger); err != nil {
		return fmt.Errorf("seed: %w", err)
	}

	eng := engine.New(engine.Options{
		Meta:           meta,
		Data:           data,
		Logger:         logger,
		SelfCorrection: cfg.Features.SelfCorrection,
		UI:             cfg.Features.ChameleonUI,
	})
	srv, err := mcpserver.New(eng, cfg.Server.Persona, version, logger)
	if err != nil {
		return err
	}

	if cfg.Server.Transport == "stdio" {
		// The stdio transport handles its own shutdown on EOF/signals.
		return srv.ServeStdio()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ServeSSE(gctx, addr) })
	return g.Wait()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
