package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"docsync/internal/browser"
	"docsync/internal/config"
	"docsync/internal/crawler"
	"docsync/internal/crawler/engine"
	"docsync/internal/storage"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	envFile string
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docsync",
		Short: "Mirror a login-protected document portal onto the local filesystem",
		Long: `docsync logs into a web document portal with a headless browser, walks its
folder tree breadth-first and downloads every file it has not downloaded before.

All settings come from the environment (optionally via a .env file); see
BASE_URL, DOCS_URL, LOGIN_URL, DOWNLOAD_ROOT and STATE_FILE.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "Path to a .env file with settings")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	return cmd
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	level := zapcore.InfoLevel
	if err := level.Set(cfg.LogLevel); err != nil {
		level = zapcore.InfoLevel
	}
	if verbose {
		level = zapcore.DebugLevel
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Encoding = "console"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

func run(parent context.Context) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	fs := afero.NewOsFs()
	store, err := openStore(ctx, cfg, fs, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	extractor, err := crawler.NewLinkExtractor(cfg.LinkExtractor, cfg.FolderLinkSelector, cfg.FileLinkSelector)
	if err != nil {
		return fmt.Errorf("link extractor: %w", err)
	}

	staging, err := os.MkdirTemp("", "docsync-staging")
	if err != nil {
		return err
	}
	defer os.RemoveAll(staging)

	session, err := browser.NewSession(ctx, browser.Options{
		Headless:   cfg.Headless,
		UserAgent:  cfg.UserAgent,
		StagingDir: staging,
	}, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	login := &browser.FormLogin{
		Session:        session,
		LoginURL:       cfg.LoginURL,
		UserSelector:   cfg.UserSelector,
		PassSelector:   cfg.PassSelector,
		SubmitSelector: cfg.SubmitSelector,
		Username:       cfg.Username,
		Password:       cfg.Password,
		Timeout:        cfg.NavTimeout(),
		Wait:           cfg.PostLoginWait(),
		Logger:         logger,
	}
	domains := crawler.NewDomainManager(cfg.UserAgent, cfg.RespectRobots, cfg.MaxRequestsPerSecond)

	e := engine.NewEngine(cfg, session, extractor, store, fs, logger,
		engine.WithAuthenticator(login),
		engine.WithGate(domains),
	)
	_, err = e.Run(ctx)
	return err
}

type stateStore interface {
	engine.StateStore
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config, fs afero.Fs, logger *zap.Logger) (stateStore, error) {
	if cfg.StateDSN != "" {
		return storage.OpenPostgres(ctx, cfg.StateDSN, logger)
	}
	logger.Debug("Using JSON state file", zap.String("path", filepath.Clean(cfg.StateFile)))
	return storage.NewJSONStore(fs, cfg.StateFile), nil
}
