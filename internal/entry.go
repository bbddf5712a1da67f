// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/sift/internal/api"
	"github.com/starford/sift/internal/mcpserver"
	"github.com/starford/sift/internal/models"
	"github.com/starford/sift/internal/queue"
	"github.com/starford/sift/internal/researchservice"
	pkgconfig "github.com/starford/sift/pkg/config"
)

const shutdownTimeout = 10 * time.Second

// Run starts the HTTP API, the research workers and the config watcher, and
// blocks until a shutdown signal arrives or one of them fails.
func Run(ctx context.Context, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_engine", string(cfg.Storage.Engine)),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("search_provider", cfg.Search.Provider),
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("llm_provider", cfg.LLM.Provider),
		slog.String("stream_backend", cfg.Stream.Backend),
		slog.String("log_level", cfg.App.LogLevel.String()))

	c, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	pending, err := c.unfinishedJobs(ctx)
	if err != nil {
		return err
	}

	q := newQueue(cfg.Queue, logger)
	svc := c.service(q)
	q.OnFailure = svc.FailJob

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Mount("/health", api.HealthRouter(c.db))
	r.Mount("/api", api.NewRouter(svc, c.stream, cfg.Auth.AuthEnabled(), cfg.Auth.Token))

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return q.Run(gCtx)
	})
	g.Go(func() error {
		return c.resume(gCtx, q, pending)
	})

	if app.configPath != "" {
		g.Go(func() error {
			return pkgconfig.Watch(gCtx, app.configPath, logger, func() {
				reloadGuards(app.configPath, c, logger)
			})
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		// Stops the queue and the watcher.
		stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// reloadGuards re-reads path and swaps in its guard thresholds. Invalid
// files leave the running thresholds untouched.
func reloadGuards(path string, c *components, logger *slog.Logger) {
	fresh := NewDefaultConfig()
	if err := pkgconfig.Load(path, fresh); err != nil {
		logger.Warn("config reload rejected", slog.String("error", err.Error()))
		return
	}
	c.orchestrator.SetGuards(fresh.Guards)
	logger.Info("guard thresholds reloaded",
		slog.Bool("relevance", fresh.Guards.Relevance.Enabled),
		slog.Float64("relevance_threshold", fresh.Guards.Relevance.Threshold),
		slog.Float64("duplicate_threshold", fresh.Guards.Duplicate.Threshold))
}

// RunResearch runs one research job in the calling goroutine and writes the
// markdown answer to out.
func RunResearch(ctx context.Context, query string, topK int, out io.Writer, opts ...Option) error {
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := buildComponents(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	svc := c.service(queue.Inline{})
	created, err := svc.CreateJob(ctx, researchservice.CreateJobInput{Query: query, TopK: topK})
	if err != nil {
		return err
	}
	detail, err := svc.GetJob(ctx, created.JobID)
	if err != nil {
		return err
	}
	if detail.Status != models.StatusDone || detail.Answer == nil {
		return fmt.Errorf("research %s ended with status %s: %s", created.JobID, detail.Status, detail.Error)
	}
	_, err = io.WriteString(out, detail.Answer.Markdown)
	return err
}

// RunMCP serves the research tools over stdio. Jobs run on a background
// worker pool so clients can poll progress while they execute.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	app, logger, err := newApplication(opts)
	if err != nil {
		return err
	}
	c, err := buildComponents(ctx, app.config, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	pending, err := c.unfinishedJobs(ctx)
	if err != nil {
		return err
	}

	q := newQueue(app.config.Queue, logger)
	svc := c.service(q)
	q.OnFailure = svc.FailJob

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	g, gCtx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		return q.Run(gCtx)
	})
	g.Go(func() error {
		return c.resume(gCtx, q, pending)
	})
	g.Go(func() error {
		defer stop()
		return mcpserver.New(svc).ServeStdio()
	})
	return g.Wait()
}
