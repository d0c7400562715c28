package root

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/docker/contex/pkg/collaborator"
	"github.com/docker/contex/pkg/config"
	"github.com/docker/contex/pkg/dispatcher"
	"github.com/docker/contex/pkg/embedcache"
	"github.com/docker/contex/pkg/embedding"
	"github.com/docker/contex/pkg/env"
	"github.com/docker/contex/pkg/eventlog"
	"github.com/docker/contex/pkg/httpapi"
	"github.com/docker/contex/pkg/lexical"
	"github.com/docker/contex/pkg/matcher"
	"github.com/docker/contex/pkg/node"
	"github.com/docker/contex/pkg/orchestrator"
	"github.com/docker/contex/pkg/retention"
	"github.com/docker/contex/pkg/server"
	"github.com/docker/contex/pkg/subscription"
	"github.com/docker/contex/pkg/vectorindex"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the context router HTTP server",
		RunE:  runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(ctx, env.NewDefaultProvider())
	if err != nil {
		return fmt.Errorf("contexd: load config: %w", err)
	}

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("contexd: build app: %w", err)
	}
	defer app.Close()

	ln, err := server.Listen(ctx, cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("contexd: listen on %s: %w", cfg.ListenAddr, err)
	}
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	slog.Info("contexd: listening", "addr", ln.Addr().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		app.Sweeper.Run(gctx)
		return nil
	})
	g.Go(func() error {
		srv := &http.Server{Handler: app.HTTP.Handler()}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("contexd: serve: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// app bundles every long-lived component the serve command owns, so a
// single Close releases every backing store in reverse wiring order.
type app struct {
	Orchestrator *orchestrator.Orchestrator
	HTTP         *httpapi.Server
	Sweeper      *retention.Sweeper

	vector    vectorindex.Index
	events    *eventlog.Log
	snapshots *retention.Store
}

func (a *app) Close() {
	if a.snapshots != nil {
		if err := a.snapshots.Close(); err != nil {
			slog.Warn("contexd: close snapshot store", "error", err)
		}
	}
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			slog.Warn("contexd: close event log", "error", err)
		}
	}
	if a.vector != nil {
		if err := a.vector.Close(); err != nil {
			slog.Warn("contexd: close vector index", "error", err)
		}
	}
}

func buildApp(ctx context.Context, cfg config.Config) (*app, error) {
	vector, err := buildVectorIndex(cfg)
	if err != nil {
		return nil, err
	}

	events, err := eventlog.Open(filepath.Join(cfg.DataDir, "events.db"))
	if err != nil {
		vector.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	snapshots, err := retention.OpenStore(filepath.Join(cfg.DataDir, "snapshots.db"))
	if err != nil {
		events.Close()
		vector.Close()
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}

	provider, err := buildEmbeddingProvider(cfg)
	if err != nil {
		snapshots.Close()
		events.Close()
		vector.Close()
		return nil, err
	}
	engine, err := embedding.New(provider)
	if err != nil {
		snapshots.Close()
		events.Close()
		vector.Close()
		return nil, fmt.Errorf("build embedding engine: %w", err)
	}

	cache := embedcache.New(cfg.EmbeddingCacheTTL)
	lex := lexical.New()

	m := matcher.New(vector, lex, cache, engine, matcher.Config{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxMatches:          cfg.MaxMatches,
		HybridSearchEnabled: cfg.HybridSearchEnabled,
		RRFK:                cfg.RRFK,
		VectorBoost:         cfg.VectorBoost,
	})

	subs := subscription.New()

	broker, err := buildBroker(cfg)
	if err != nil {
		snapshots.Close()
		events.Close()
		vector.Close()
		return nil, fmt.Errorf("build pubsub broker: %w", err)
	}
	sender := dispatcher.NewWebhookSender(dispatcher.DefaultRetryConfig(), dispatcher.NewRegistry(dispatcher.DefaultBreakerConfig()))
	dispatch := dispatcher.New(broker, sender)

	orch := orchestrator.New(node.DefaultChain(), engine, cache, vector, lex, cfg.HybridSearchEnabled, events, m, subs, dispatch, cfg.MaxContextSize)

	sweeper := retention.NewSweeper(retention.Config{
		EventsTTL:       cfg.RetentionEventsTTL,
		AgentInactive:   cfg.RetentionAgentInactive,
		MaxStreamLength: cfg.RetentionMaxStreamLen,
		MaxSnapshots:    cfg.RetentionSnapshotMaxCnt,
		SweepInterval:   time.Hour,
	}, events, subs, snapshots)

	httpSrv := httpapi.New(orch,
		httpapi.WithTenantResolver(collaborator.NewPermissiveTenantResolver()),
		httpapi.WithAuthorizer(collaborator.NewAllowAllAuthorizer()),
		httpapi.WithQuotaChecker(collaborator.NewUnlimitedQuotaChecker()),
	)

	return &app{
		Orchestrator: orch,
		HTTP:         httpSrv,
		Sweeper:      sweeper,
		vector:       vector,
		events:       events,
		snapshots:    snapshots,
	}, nil
}

func buildVectorIndex(cfg config.Config) (vectorindex.Index, error) {
	switch cfg.VectorBackend {
	case "qdrant":
		return vectorindex.OpenQdrant(cfg.QdrantAddr)
	default:
		return vectorindex.OpenSQLite(filepath.Join(cfg.DataDir, "vectors.db"))
	}
}

func buildEmbeddingProvider(cfg config.Config) (embedding.Provider, error) {
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for embedding provider %q", cfg.EmbeddingProvider)
		}
		return embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel, embedding.Dim), nil
	default:
		return embedding.NewLocalProvider(), nil
	}
}

func buildBroker(cfg config.Config) (dispatcher.Broker, error) {
	if cfg.RedisURL == "" {
		return dispatcher.NewInProcessBroker(), nil
	}
	return dispatcher.NewRedisBroker(cfg.RedisURL)
}
