package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"forgelet/internal/api"
	"forgelet/internal/chain"
	"forgelet/internal/classify"
	"forgelet/internal/config"
	"forgelet/internal/dispatch"
	"forgelet/internal/generate"
	"forgelet/internal/llm"
	"forgelet/internal/pipeline"
	"forgelet/internal/queue"
	"forgelet/internal/sanitize"
	"forgelet/internal/slug"
	"forgelet/internal/store"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the forgelet engine (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "forgelet version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	st, err := store.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	// Open the request queue.
	q, err := queue.Open(cfg.Queue.WatchDir)
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}

	// Build the processing pipeline.
	completer := llm.New(cfg.Models.APIKey, cfg.Models.BaseURL)
	ch := chain.New(completer, logger)

	classifierTier := []chain.Tier{{
		Name:      "classifier",
		Model:     cfg.Models.ClassifierModel,
		MaxTokens: cfg.Models.ClassifierTokens,
		Timeout:   cfg.Models.ClassifierTimeout,
	}}
	classifier := classify.New(ch, classifierTier)

	generator := generate.New(ch, generate.DefaultTiers(
		cfg.Models.PremiumModel, cfg.Models.PremiumTokens,
		cfg.Models.StandardModel, cfg.Models.StandardTokens,
		cfg.Models.LargeModel, cfg.Models.LargeTokens,
		cfg.Models.AttemptTimeout,
	))

	runner := pipeline.New(
		classifier,
		generator,
		sanitize.New(),
		slug.New(st, logger),
		st,
		q,
		pipeline.LogNotifier{Logger: logger},
		cfg.Site.BaseURL,
		logger,
	)

	dispatcher := dispatch.New(q, runner.Handle, cfg.Queue.Workers,
		cfg.Queue.ScanInterval, cfg.Queue.StuckGrace, logger)

	// Build the ops HTTP server.
	handler := api.NewHandler(api.Deps{
		Store:   st,
		Queue:   q,
		Workers: dispatcher,
		Version: version,
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start dispatcher and server.
	dispatchErr := make(chan error, 1)
	go func() {
		dispatchErr <- dispatcher.Run(ctx)
	}()

	srvErr := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "forgelet listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			srvErr <- err
		}
		close(srvErr)
	}()

	var dErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
		dErr = <-dispatchErr // in-flight workers finish first
	case err := <-srvErr:
		stop()
		<-dispatchErr
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case dErr = <-dispatchErr:
		stop()
	}
	if dErr != nil {
		logger.Error("dispatcher stopped", "error", dErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
