// Corral server — ingests tool-adapter and web sources into hybrid indexes
// and serves grounded, citation-bearing answers over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"github.com/corralproject/corral/pkg/api"
	"github.com/corralproject/corral/pkg/capability"
	"github.com/corralproject/corral/pkg/chunk"
	"github.com/corralproject/corral/pkg/cleanup"
	"github.com/corralproject/corral/pkg/config"
	"github.com/corralproject/corral/pkg/database"
	"github.com/corralproject/corral/pkg/events"
	"github.com/corralproject/corral/pkg/graph"
	"github.com/corralproject/corral/pkg/grounding"
	"github.com/corralproject/corral/pkg/ingest"
	"github.com/corralproject/corral/pkg/mcp"
	"github.com/corralproject/corral/pkg/normalize"
	"github.com/corralproject/corral/pkg/obs"
	"github.com/corralproject/corral/pkg/pipeline"
	"github.com/corralproject/corral/pkg/queue"
	"github.com/corralproject/corral/pkg/rerank"
	"github.com/corralproject/corral/pkg/retrieval"
	"github.com/corralproject/corral/pkg/scrub"
	"github.com/corralproject/corral/pkg/sink"
	"github.com/corralproject/corral/pkg/storage"
	"github.com/corralproject/corral/pkg/storage/bleveindex"
	"github.com/corralproject/corral/pkg/storage/cache"
	"github.com/corralproject/corral/pkg/storage/memstore"
	"github.com/corralproject/corral/pkg/storage/pgstore"
	"github.com/corralproject/corral/pkg/storage/qdrantstore"
	"github.com/corralproject/corral/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// healthFunc adapts a plain probe function to the pipeline health contract.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting corral",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect Postgres when configured; everything it backs falls back to
	// in-memory equivalents otherwise.
	var dbClient *database.Client
	if cfg.Database.Enabled() {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			slog.Error("Failed to run database migrations", "error", err)
			os.Exit(1)
		}
		dbClient, err = database.NewClient(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbClient.Close()
		slog.Info("Connected to PostgreSQL database")
	} else {
		slog.Info("No database configured — using in-memory stores")
	}

	// 3. Select storage backends
	var (
		checkpoints storage.CheckpointStore
		manifests   storage.ManifestStore
		audit       storage.AuditStore
		runs        storage.RunStore
		graphStore  storage.GraphStore
	)
	if dbClient != nil {
		pool := dbClient.Pool()
		checkpoints = pgstore.NewCheckpointStore(pool)
		manifests = pgstore.NewManifestStore(pool)
		audit = pgstore.NewAuditStore(pool)
		runs = pgstore.NewRunStore(pool)
	} else {
		checkpoints = memstore.NewCheckpointStore()
		manifests = memstore.NewManifestStore()
		audit = memstore.NewAuditStore()
		runs = memstore.NewRunStore()
	}

	switch cfg.Storage.Graph.Backend {
	case config.GraphBackendPostgres:
		if dbClient == nil {
			slog.Error("Graph backend 'postgres' requires a configured database")
			os.Exit(1)
		}
		graphStore = pgstore.NewGraphStore(dbClient.Pool())
	default:
		graphStore = memstore.NewGraphStore()
	}

	var vectors storage.VectorStore
	switch cfg.Storage.Vector.Backend {
	case config.VectorBackendQdrant:
		host, portStr, err := net.SplitHostPort(cfg.Storage.Vector.Addr)
		if err != nil {
			slog.Error("Invalid qdrant address", "addr", cfg.Storage.Vector.Addr, "error", err)
			os.Exit(1)
		}
		port, _ := strconv.Atoi(portStr)
		vectors, err = qdrantstore.New(ctx, qdrantstore.Options{
			Host:       host,
			Port:       port,
			APIKey:     cfg.Storage.Vector.APIKey,
			Collection: cfg.Storage.Vector.Collection,
			Dim:        uint64(cfg.Capabilities.EmbeddingDim),
		}, slog.Default())
		if err != nil {
			slog.Error("Failed to connect to qdrant", "error", err)
			os.Exit(1)
		}
	default:
		vectors = memstore.NewVectorStore()
	}

	var text *bleveindex.Index
	switch cfg.Storage.Text.Backend {
	case config.TextBackendBleve:
		text, err = bleveindex.Open(cfg.Storage.Text.Path, slog.Default())
	default:
		text, err = bleveindex.NewMemOnly(slog.Default())
	}
	if err != nil {
		slog.Error("Failed to open text index", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := text.Close(); err != nil {
			slog.Error("Error closing text index", "error", err)
		}
	}()
	slog.Info("Storage initialized",
		"vector", cfg.Storage.Vector.Backend,
		"text", cfg.Storage.Text.Backend,
		"graph", cfg.Storage.Graph.Backend)

	// 4. Ingestion queue
	var q queue.Queue
	switch cfg.Queue.Backend {
	case config.QueueBackendKafka:
		q = queue.NewKafka(cfg.Queue.Brokers, cfg.Queue.Group, slog.Default())
	default:
		q = queue.NewMemory(cfg.Queue.Buffer, slog.Default())
	}
	defer func() {
		if err := q.Close(); err != nil {
			slog.Error("Error closing queue", "error", err)
		}
	}()

	// 5. Event fan-out. With Postgres, events persist for Last-Event-ID
	// replay and LISTEN/NOTIFY carries them across replicas.
	broker := events.NewBroker(slog.Default())
	var (
		publisher events.Publisher
		catchup   events.Catchup
		pgCatchup *events.PGCatchup
	)
	if dbClient != nil {
		publisher = events.NewPGPublisher(dbClient.Pool())
		pgCatchup = events.NewPGCatchup(dbClient.Pool())
		catchup = pgCatchup
		listener := events.NewNotifyListener(cfg.Database.URL, broker, slog.Default())
		if err := listener.Start(ctx); err != nil {
			slog.Error("Failed to start notify listener", "error", err)
			os.Exit(1)
		}
		defer listener.Stop(ctx)
		broker.SetListener(listener)
		slog.Info("Streaming infrastructure initialized")
	} else {
		publisher = events.NewLocalPublisher(broker)
	}

	// 6. Tool adapter host. Eager validation: a server that fails its
	// handshake at startup is a broken config, not a runtime blip.
	host := mcp.NewHost(cfg.MCPServerRegistry, cfg.TenantRegistry, audit, slog.Default())
	if err := host.Initialize(ctx); err != nil {
		slog.Error("Failed to initialize tool host", "error", err)
		os.Exit(1)
	}
	if failed := host.FailedServers(); len(failed) > 0 {
		slog.Error("Tool servers failed startup validation", "failed_servers", failed)
		os.Exit(1)
	}
	defer func() {
		if err := host.Close(); err != nil {
			slog.Error("Error closing tool host", "error", err)
		}
	}()

	var healthMonitor *mcp.HealthMonitor
	if cfg.MCPServerRegistry.Len() > 0 {
		healthMonitor = mcp.NewHealthMonitor(host, slog.Default())
		healthMonitor.Start(ctx)
		defer healthMonitor.Stop()
		slog.Info("Tool host initialized", "servers", cfg.MCPServerRegistry.Len())
	}

	// 7. Capabilities. The static implementations are deterministic
	// stand-ins; a model-serving endpoint slots in behind the same contracts.
	embedCap := capability.NewStaticEmbedder(cfg.Capabilities.EmbeddingDim)
	generator := &capability.StaticGenerator{}
	encoder := &capability.StaticCrossEncoder{}
	extractor := &capability.HeuristicExtractor{}

	permits := semaphore.NewWeighted(int64(max(1, cfg.Ingestion.MaxConcurrent)))
	embedder := chunk.NewEmbedder(embedCap, cfg.Chunking.BatchSize, permits)

	var chunker sink.DocumentChunker
	if len(cfg.Chunking.ChunkSizes) > 0 {
		chunker = &chunk.MultiChunker{
			Sizes:        cfg.Chunking.ChunkSizes,
			OverlapRatio: cfg.Chunking.OverlapRatio,
		}
	} else {
		chunker = chunk.NewChunker(cfg.Chunking.ChunkSize, cfg.Chunking.ChunkOverlap)
	}

	// 8. Ingestion path: normalize → queue → index sink → graph writer
	metrics := obs.New()
	scrubber := scrub.NewService(cfg.Scrub.CustomPatterns)
	mapper := normalize.NewACLMapper(*cfg.ACLMappings)
	norm := normalize.New(scrubber, cfg.Scrub.Config, mapper)

	worker := ingest.NewWorker(host, norm, q, checkpoints, publisher, metrics, cfg.Ingestion, slog.Default())
	indexSink := sink.New(chunker, embedder, vectors, text, manifests, slog.Default())
	conflicts := &pipeline.ConflictSink{Publisher: publisher, Logger: slog.Default()}
	graphWriter := graph.NewWriter(graphStore, extractor, conflicts, slog.Default())

	consumer := ingest.NewConsumer(q, indexSink, graphWriter, publisher, metrics, cfg.Ingestion, slog.Default())
	consumer.Start(ctx)
	slog.Info("Ingestion consumers started", "workers", cfg.Ingestion.Workers)

	// Stale-embedding sweep: after an embedding model or version bump, the
	// stored vectors refresh in the background while ingestion continues.
	go func() {
		for tenantID := range cfg.TenantRegistry.GetAll() {
			n, err := indexSink.RefreshEmbeddings(ctx, tenantID)
			if err != nil {
				slog.Error("Embedding refresh failed", "tenant_id", tenantID, "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Embedding refresh complete", "tenant_id", tenantID, "chunks", n)
			}
		}
	}()

	// 9. Query path: hybrid retrieval → rerank → grounded generation
	var rerankCache storage.RerankCache
	switch cfg.Reranker.CacheBackend {
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{Addr: cfg.Reranker.CacheAddr})
		rerankCache = cache.NewRedis(client, cfg.Reranker.CacheTTL, slog.Default())
	default:
		rerankCache = cache.NewLRU(cfg.Reranker.CacheSize, cfg.Reranker.CacheTTL)
	}

	retriever := retrieval.New(vectors, text, graphStore, embedder, extractor, retrieval.Options{
		TopK:         cfg.Retrieval.TopK,
		RRFK:         cfg.Retrieval.RRFK,
		VectorWeight: cfg.Retrieval.VectorWeight,
		BM25Weight:   cfg.Retrieval.BM25Weight,
		GraphWeight:  cfg.Retrieval.GraphWeight,
		GraphHops:    cfg.Retrieval.GraphHops,
	}, slog.Default())
	reranker := rerank.New(encoder, extractor, rerankCache, permits, rerank.Options{
		TopK:             cfg.Reranker.TopK,
		BatchSize:        cfg.Reranker.BatchSize,
		RecencyWeight:    cfg.Reranker.RecencyWeight,
		EntityWeight:     cfg.Reranker.EntityWeight,
		QualityThreshold: cfg.Reranker.QualityThreshold,
	}, slog.Default())
	grounded := grounding.New(generator, grounding.Options{
		MinEvidenceScore: cfg.Grounding.MinEvidenceScore,
	}, slog.Default())

	checks := map[string]pipeline.HealthChecker{
		"vector_store": vectors,
		"text_index":   text,
		"graph_store":  graphStore,
	}
	if dbClient != nil {
		pool := dbClient.Pool()
		checks["database"] = healthFunc(func(ctx context.Context) error {
			_, err := database.Health(ctx, pool)
			return err
		})
	}

	pl := pipeline.New(worker, retriever, reranker, grounded, runs, publisher, metrics, checks, slog.Default())
	slog.Info("Pipeline initialized")

	// 10. Retention cleanup loop
	cleanupSvc := cleanup.NewService(cfg.Retention, audit, runs, slog.Default())
	if pgCatchup != nil {
		cleanupSvc.SetEventPurger(pgCatchup)
	}
	cleanupSvc.Start(ctx)
	defer cleanupSvc.Stop()

	// 11. HTTP server (non-blocking)
	server := api.NewServer(pl, host, broker, catchup, audit, metrics, slog.Default())
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: server.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Corral started successfully")

	// 12. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 13. Graceful shutdown: stop consumers first so in-flight documents
	// finish indexing, then the HTTP server with its own timeout budget.
	consumerCtx, consumerCancel := context.WithTimeout(ctx, 30*time.Second)
	defer consumerCancel()

	done := make(chan struct{})
	go func() {
		consumer.Stop()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Ingestion consumers stopped gracefully")
	case <-consumerCtx.Done():
		slog.Warn("Consumer shutdown timeout exceeded — queued documents will reindex on restart")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := httpServer.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
