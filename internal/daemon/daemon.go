// Package daemon wires the archive components together and runs them
// as one long-lived process: folder watchers, the enrichment worker and
// the MCP tool server, all sharing a single dependency graph.
package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"lifearch/internal/activity"
	"lifearch/internal/bm25"
	"lifearch/internal/chunk"
	"lifearch/internal/config"
	"lifearch/internal/enrich"
	"lifearch/internal/events"
	"lifearch/internal/extract"
	"lifearch/internal/folderwatch"
	"lifearch/internal/llm"
	"lifearch/internal/pipeline"
	"lifearch/internal/progress"
	"lifearch/internal/query"
	"lifearch/internal/queue"
	"lifearch/internal/search"
	"lifearch/internal/tools"
	"lifearch/internal/tracker"
	"lifearch/internal/vault"
	"lifearch/internal/vector"
)

// tempMaxAge is how old a vault temp file must be before startup
// cleanup removes it.
const tempMaxAge = 24 * time.Hour

// Daemon is the assembled archive process.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *redis.Client
	bus      *events.EventBus
	vault    *vault.Vault
	tracker  tracker.Tracker
	index    *bm25.Index
	vectors  vector.Store
	llm      *llm.Client
	queue    *queue.Queue
	progress *progress.Tracker
	activity *activity.Log
	pipeline *pipeline.Pipeline
	search   *search.Service
	engine   *query.Engine
	watch    *folderwatch.Manager
	worker   *enrich.Worker
	tools    *tools.Server
}

// Build constructs the daemon's dependency graph from configuration.
// Nothing starts running until Run is called.
func Build(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = slog.Default()
	}

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url; %w", err)
	}
	if cfg.Redis.ConnectTimeout > 0 {
		redisOpts.DialTimeout = time.Duration(cfg.Redis.ConnectTimeout) * time.Second
	}
	client := redis.NewClient(redisOpts)

	bus := events.NewBus(events.WithLogger(logger))

	v, err := vault.New(cfg.VaultPath, vault.WithLogger(logger))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to open vault; %w", err)
	}

	var tr tracker.Tracker
	switch cfg.Tracker.Backend {
	case "", "redis":
		tr = tracker.NewRedisTracker(client, logger)
	case "jsonfile":
		path := cfg.Tracker.JSONPath
		if path == "" {
			path = filepath.Join(cfg.Home, "tracker.json")
		}
		tr, err = tracker.NewJSONTracker(path)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to open json tracker; %w", err)
		}
	default:
		client.Close()
		return nil, fmt.Errorf("unknown tracker backend: %s", cfg.Tracker.Backend)
	}

	vectors, err := vector.NewQdrantStore(cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, cfg.Qdrant.Dimensions, logger)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to vector store; %w", err)
	}

	llmClient := llm.New(
		cfg.LLM.OllamaURL,
		cfg.LLM.Model,
		cfg.LLM.EmbeddingModel,
		time.Duration(cfg.LLM.TimeoutSeconds)*time.Second,
		llm.WithLogger(logger),
	)

	ix := bm25.New(client, logger)
	q := queue.New(client, logger)
	prog := progress.New(client, bus, logger)
	act := activity.New(client, bus, logger)

	pipe := pipeline.New(pipeline.Deps{
		Vault:             v,
		Extractor:         extract.New(extract.WithLogger(logger)),
		Splitter:          chunk.NewSplitter(cfg.Chunk.Size, cfg.Chunk.Overlap),
		Tracker:           tr,
		Index:             ix,
		Vectors:           vectors,
		Embedder:          llmClient,
		Queue:             q,
		Progress:          prog,
		Activity:          act,
		Client:            client,
		Logger:            logger,
		EnrichmentEnabled: cfg.Worker.EnrichmentEnabled,
	})

	svc := search.New(vectors, ix, tr, llmClient, logger)
	engine := query.New(svc, llmClient,
		query.WithActivityLog(act),
		query.WithLogger(logger),
	)

	watch := folderwatch.NewManager(client, v, pipe, act,
		folderwatch.WithDebounce(time.Duration(cfg.Watch.DebounceSeconds*float64(time.Second))),
		folderwatch.WithConcurrency(int64(cfg.Watch.IngestionConcurrency)),
		folderwatch.WithMaxFolders(cfg.Watch.MaxFolders),
		folderwatch.WithLogger(logger),
	)

	worker := enrich.NewWorker(q, tr, llmClient, logger)

	toolServer := tools.NewServer(tools.Deps{
		Ingestor:  pipe,
		Extractor: extract.New(extract.WithLogger(logger)),
		Tracker:   tr,
		Engine:    engine,
		Search:    svc,
		Logger:    logger,
	})

	return &Daemon{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		bus:      bus,
		vault:    v,
		tracker:  tr,
		index:    ix,
		vectors:  vectors,
		llm:      llmClient,
		queue:    q,
		progress: prog,
		activity: act,
		pipeline: pipe,
		search:   svc,
		engine:   engine,
		watch:    watch,
		worker:   worker,
		tools:    toolServer,
	}, nil
}

// Pipeline returns the ingestion pipeline for one-shot commands.
func (d *Daemon) Pipeline() *pipeline.Pipeline { return d.pipeline }

// Search returns the search service for one-shot commands.
func (d *Daemon) Search() *search.Service { return d.search }

// Engine returns the Q&A engine for one-shot commands.
func (d *Daemon) Engine() *query.Engine { return d.engine }

// Watch returns the folder watch manager.
func (d *Daemon) Watch() *folderwatch.Manager { return d.watch }

// Worker returns the enrichment worker for the worker command.
func (d *Daemon) Worker() *enrich.Worker { return d.worker }

// Activity returns the activity log.
func (d *Daemon) Activity() *activity.Log { return d.activity }

// Start prepares shared state: verifies Redis, ensures the vector
// collection, loads the keyword index and sweeps it against the
// tracker, resumes persisted folders, and cleans stale vault temp
// files.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unreachable; %w", err)
	}

	if err := d.vectors.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("failed to ensure vector collection; %w", err)
	}

	if err := d.index.Load(ctx); err != nil {
		return fmt.Errorf("failed to load keyword index; %w", err)
	}
	removed, err := d.index.Reconcile(ctx, func(docID string) bool {
		exists, err := d.tracker.DocumentExists(ctx, docID)
		if err != nil {
			// Keep the entry when the check fails; the next sweep
			// retries.
			return true
		}
		return exists
	})
	if err != nil {
		return fmt.Errorf("failed to reconcile keyword index; %w", err)
	}
	if removed > 0 {
		d.logger.Info("keyword index reconciled", "removed", removed)
	}

	if err := d.watch.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize folder watcher; %w", err)
	}

	if cleaned := d.vault.CleanupTemp(tempMaxAge); cleaned > 0 {
		d.logger.Info("cleaned stale vault temp files", "count", cleaned)
	}

	d.logger.Info("daemon started",
		"vault", d.vault.Root(),
		"tracker", d.cfg.Tracker.Backend,
		"documents", d.index.Len(),
	)
	return nil
}

// Run starts the daemon and blocks until a termination signal or a
// fatal component error. The enrichment worker and the MCP tool server
// run as sibling goroutines.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.Start(ctx); err != nil {
		return err
	}
	defer d.Stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sup := enrich.NewSupervisor(d.worker, d.logger)
		err := sup.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := d.tools.Serve(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})

	return g.Wait()
}

// Stop shuts down in dependency order: watchers first so no new work
// arrives, then the event bus, then Redis.
func (d *Daemon) Stop() {
	d.watch.Stop()
	if err := d.bus.Close(); err != nil {
		d.logger.Warn("failed to close event bus", "error", err)
	}
	if err := d.client.Close(); err != nil {
		d.logger.Warn("failed to close redis client", "error", err)
	}
	d.logger.Info("daemon stopped")
}
