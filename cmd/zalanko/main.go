// Command zalanko is the realtime tool-orchestration relay server for the
// voice shopping assistant.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/moalsayed95/zalanko/internal/config"
	"github.com/moalsayed95/zalanko/internal/health"
	"github.com/moalsayed95/zalanko/internal/observe"
	"github.com/moalsayed95/zalanko/internal/relay"
	"github.com/moalsayed95/zalanko/internal/resilience"
	"github.com/moalsayed95/zalanko/internal/server"
	"github.com/moalsayed95/zalanko/internal/shop"
	"github.com/moalsayed95/zalanko/internal/shop/catalog"
	"github.com/moalsayed95/zalanko/internal/shop/tryon"
	"github.com/moalsayed95/zalanko/internal/tool"
	oaembed "github.com/moalsayed95/zalanko/pkg/provider/embeddings/openai"
	rtopenai "github.com/moalsayed95/zalanko/pkg/provider/realtime/openai"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Logger ────────────────────────────────────────────────────────────────
	// A LevelVar so the config watcher can hot-apply log level changes.
	level := new(slog.LevelVar)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	// ── Load configuration (with hot reload) ──────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(d.NewLogLevel.SlogLevel())
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.AssistantChanged {
			slog.Info("assistant settings updated; new sessions pick them up")
		}
		if d.UpstreamChanged || d.TryOnChanged {
			slog.Warn("endpoint configuration changed; restart required to apply")
		}
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "zalanko: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "zalanko: %v\n", err)
		}
		return 1
	}
	defer watcher.Stop()

	cfg := watcher.Current()
	level.Set(cfg.Server.LogLevel.SlogLevel())

	listenAddr := cfg.Server.ListenAddr
	if listenAddr == "" {
		listenAddr = defaultListenAddr
	}

	slog.Info("zalanko starting",
		"config", *configPath,
		"listen_addr", listenAddr,
		"model", cfg.Upstream.Model,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Observability ─────────────────────────────────────────────────────────
	shutdownObs, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "zalanko",
	})
	if err != nil {
		slog.Error("failed to initialise observability", "err", err)
		return 1
	}
	defer func() {
		obsCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownObs(obsCtx); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Upstream dialer ───────────────────────────────────────────────────────
	apiKey := os.Getenv(cfg.Upstream.APIKeyEnv)
	if apiKey == "" {
		slog.Error("upstream API key is not set", "env", cfg.Upstream.APIKeyEnv)
		return 1
	}
	var dialOpts []rtopenai.Option
	if cfg.Upstream.Model != "" {
		dialOpts = append(dialOpts, rtopenai.WithModel(cfg.Upstream.Model))
	}
	if cfg.Upstream.BaseURL != "" {
		dialOpts = append(dialOpts, rtopenai.WithBaseURL(cfg.Upstream.BaseURL))
	}
	if cfg.Upstream.APIKeyHeader != "" {
		dialOpts = append(dialOpts, rtopenai.WithAPIKeyHeader(cfg.Upstream.APIKeyHeader))
	}
	dialer := rtopenai.New(apiKey, dialOpts...)

	// ── Product catalog ───────────────────────────────────────────────────────
	if cfg.Catalog.PostgresDSN == "" {
		slog.Error("catalog.postgres_dsn is required")
		return 1
	}
	pool, err := pgxpool.New(ctx, cfg.Catalog.PostgresDSN)
	if err != nil {
		slog.Error("failed to create catalog pool", "err", err)
		return 1
	}
	defer pool.Close()

	embKey := apiKey
	if cfg.Embeddings.APIKeyEnv != "" {
		embKey = os.Getenv(cfg.Embeddings.APIKeyEnv)
	}
	var embOpts []oaembed.Option
	if cfg.Embeddings.BaseURL != "" {
		embOpts = append(embOpts, oaembed.WithBaseURL(cfg.Embeddings.BaseURL))
	}
	embedder, err := oaembed.New(embKey, cfg.Embeddings.Model, embOpts...)
	if err != nil {
		slog.Error("failed to create embeddings provider", "err", err)
		return 1
	}
	store := catalog.NewPostgresStore(pool, embedder, catalog.WithMetrics(metrics))

	// ── Virtual try-on ────────────────────────────────────────────────────────
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Name:        "tryon",
		MaxFailures: cfg.TryOn.MaxFailures,
		Cooldown:    cfg.TryOn.Cooldown,
	})
	generator := tryon.New(cfg.TryOn.BaseURL, tryon.WithBreaker(breaker))

	// Fail fast on a broken tool catalog instead of per connection.
	if err := shop.RegisterTools(tool.NewRegistry(), shop.NewState(), store, generator); err != nil {
		slog.Error("tool catalog is invalid", "err", err)
		return 1
	}

	// ── Relay factory ─────────────────────────────────────────────────────────
	// Each connection gets fresh shopper state and the config current at dial
	// time, so instruction edits reach new sessions without a restart.
	factory := func() *relay.Relay {
		current := watcher.Current()

		registry := tool.NewRegistry()
		state := shop.NewState()
		if err := shop.RegisterTools(registry, state, store, generator); err != nil {
			slog.Error("register tools", "err", err)
		}

		dispatchOpts := []tool.Option{tool.WithMetrics(metrics)}
		if current.Relay.ToolTimeout > 0 {
			dispatchOpts = append(dispatchOpts, tool.WithTimeout(current.Relay.ToolTimeout))
		}
		dispatcher := tool.NewDispatcher(dispatchOpts...)

		return relay.New(dialer, current.SessionConfig(), registry, dispatcher, relay.WithMetrics(metrics))
	}

	// ── HTTP server ───────────────────────────────────────────────────────────
	checks := health.New(
		health.CatalogChecker(pool),
		health.TryOnChecker(breaker),
	)
	srv := server.New(factory, checks, server.WithMetrics(metrics))

	httpSrv := &http.Server{
		Addr:              listenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if cfg.Server.TLS != nil {
			err = httpSrv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		} else {
			err = httpSrv.ListenAndServe()
		}
		errCh <- err
	}()

	slog.Info("server ready")

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("serve error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}
