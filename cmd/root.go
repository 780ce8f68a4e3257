package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/spf13/cobra"

	"dispatch/internal/config"
	"dispatch/internal/core"
	"dispatch/internal/format"
	httpclient "dispatch/internal/http"
	"dispatch/internal/logging"
	"dispatch/internal/metrics"
	"dispatch/internal/storage"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "A CLI tool for making HTTP requests",
	Long: heredoc.Doc(`
		dispatch is a command-line HTTP client, similar to Postman.

		Send HTTP requests, track history, and organize requests into collections.

		Examples:
		  dispatch get https://api.example.com/users
		  dispatch post https://api.example.com/users -d '{"name": "John"}'
		  dispatch history
		  dispatch collection list
		  dispatch shell
	`),
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	// Only the first interrupt is caught; a second one ends the process.
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Show response headers")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default ./config.yaml or ~/.dispatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level (debug, info, warn, error)")
}

// app is the wiring shared by every command: one store, one executor and
// one running loop.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *storage.SQLiteStorage
	metrics *metrics.Recorder
	loop    *core.Loop

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// closeTimeout bounds how long Close waits for requests still in flight.
var closeTimeout = 5 * time.Second

// openApp loads configuration, opens the database and starts the loop. The
// loop has hydrated its lists by the time openApp returns.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	store, err := storage.NewStorage(cfg.Database.Path)
	if err != nil {
		return nil, err
	}

	client := httpclient.NewClient(httpclient.Options{
		Timeout:                cfg.HTTP.Timeout,
		MaxResponseBytes:       cfg.HTTP.MaxResponseBytes,
		BlockMetadataEndpoints: cfg.HTTP.BlockMetadataEndpoints,
		Logger:                 logger,
	})

	rec := metrics.New()
	loop := core.NewLoop(core.Options{
		HistoryLimit:           cfg.History.Limit,
		RedactSensitiveHeaders: cfg.History.RedactSensitiveHeaders,
		DiscardStaleResults:    cfg.Reducer.DiscardStaleResults,
		RecordSentRequest:      cfg.Reducer.RecordSentRequest,
	}, store, client, core.WithLogger(logger), core.WithMetrics(rec))

	// The loop outlives ctx so that Close can still settle after an
	// interrupt; only Close stops it.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a := &app{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		metrics: rec,
		loop:    loop,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	go func() {
		defer close(a.done)
		_ = loop.Run(runCtx)
	}()

	if err := loop.Sync(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close waits up to closeTimeout for in-flight requests, stops the loop and
// closes the store. Calls after the first are no-ops.
func (a *app) Close() {
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := a.loop.Settle(ctx); err != nil {
			a.logger.Warn("gave up waiting for requests in flight", "error", err)
		}
		a.cancel()
		<-a.done
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	})
}

// mustOpenApp is openApp for commands that cannot continue without it.
func mustOpenApp(cmd *cobra.Command, what string) *app {
	a, err := openApp(cmd.Context())
	if err != nil {
		exitWithError(what, err)
	}
	return a
}

// fail closes the app, so pending history writes land, then exits.
func (a *app) fail(what string, err error) {
	a.Close()
	exitWithError(what, err)
}

func exitWithError(what string, err error) {
	format.PrintError(fmt.Sprintf("Failed to %s: %v", what, err))
	os.Exit(1)
}
