// Command ragd runs the RAG pipeline daemon: it loads the tool-host and
// store configuration, wires the ingestion consumer and query pipeline,
// and serves until terminated. Grounded on the teacher's cmd/orchestrator
// main's config.Load/InitLogger/signal.NotifyContext bootstrap idiom.
package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"ragpipeline/internal/checkpoint"
	"ragpipeline/internal/config"
	"ragpipeline/internal/graph"
	"ragpipeline/internal/ingest"
	"ragpipeline/internal/manifest"
	"ragpipeline/internal/observability"
	"ragpipeline/internal/persistence/databases"
	"ragpipeline/internal/pipeline"
	"ragpipeline/internal/queue"
	"ragpipeline/internal/rag/embedder"
	"ragpipeline/internal/rag/generate"
	"ragpipeline/internal/rag/rerank"
	"ragpipeline/internal/toolhost"
)

// ingestionSystemUser is the identity run_ingestion's boot-time catch-up
// pass invokes tools as; it is not tied to any interactive session.
const ingestionSystemUser = "system"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("ragd")
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, warnings, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stores, err := databases.NewManager(ctx, cfg.Stores)
	if err != nil {
		return fmt.Errorf("init stores: %w", err)
	}
	defer stores.Close()

	q, err := newQueue(cfg.Stores.Queue)
	if err != nil {
		return fmt.Errorf("init queue: %w", err)
	}
	defer func() { _ = q.Close(ctx) }()

	cp, err := newCheckpointStore(cfg.Stores.Checkpoint)
	if err != nil {
		return fmt.Errorf("init checkpoint store: %w", err)
	}

	cache, err := newRerankCache(cfg.Stores.Cache)
	if err != nil {
		return fmt.Errorf("init rerank cache: %w", err)
	}

	host := toolhost.New(cfg.MCP.Tenants)
	if err := registerTransports(ctx, host, cfg.MCP); err != nil {
		return fmt.Errorf("register tool servers: %w", err)
	}

	stub := unconfiguredCapability{name: "embedding"}
	emb := embedder.New(stub, cfg.Embedding)

	graphSink := graph.NewSink(stores.Graph, unconfiguredExtractor{})

	rerankStub := unconfiguredCapability{name: "cross-encoder"}
	reranker := rerank.New(rerankStub, cfg.Reranker,
		rerank.WithCache(cache),
		rerank.WithEntityExtractor(unconfiguredCapability{name: "entity-extractor"}),
	)

	llmStub := unconfiguredCapability{name: "llm"}
	generator := generate.New(llmStub, cfg.Grounding)

	linker := unconfiguredCapability{name: "entity-linker"}

	p := pipeline.New(
		q, manifest.NewMemoryStore(), stores.Vector, stores.Text, stores.Graph, linker,
		emb, reranker, generator, cfg.Chunking,
		pipeline.WithGraphSink(graphSink),
		pipeline.WithMaxConcurrentIngestion(cfg.Ingestion.MaxConcurrent),
	)

	if err := p.StartIngestionConsumer(ctx); err != nil {
		return fmt.Errorf("start ingestion consumer: %w", err)
	}

	worker := ingest.New(host, cp, q, cfg.Ingestion, ingest.WithSubscriber(host))
	runBootIngestion(ctx, worker, cfg.MCP.Tenants)

	log.Info().Msg("ragd started")
	<-ctx.Done()
	log.Info().Msg("ragd stopped")
	return nil
}

// runBootIngestion kicks off one pull-sync pass per tenant/tool pair
// allowed by configuration, each in its own goroutine so a slow or
// misbehaving tool can't block the others. Recurring scheduling (cron,
// webhook-triggered, ...) is operator tooling layered on top of
// internal/ingest.Worker, not this daemon's concern.
func runBootIngestion(ctx context.Context, worker *ingest.Worker, tenants map[string]config.TenantConfig) {
	for tenantID, tenant := range tenants {
		for _, toolID := range tenant.AllowedTools {
			tenantID, toolID := tenantID, toolID
			go func() {
				if err := worker.RunIngestion(ctx, tenantID, ingestionSystemUser, toolID, nil); err != nil {
					log.Warn().Err(err).Str("tenant", tenantID).Str("tool", toolID).Msg("boot ingestion failed")
				}
			}()
		}
	}
}

func newQueue(cfg config.StoreBackend) (queue.Queue, error) {
	switch cfg.Backend {
	case "", "memory":
		return queue.NewMemoryQueue(), nil
	case "kafka":
		return queue.NewKafkaQueue(cfg.DSN), nil
	default:
		return nil, fmt.Errorf("unsupported queue backend: %s", cfg.Backend)
	}
}

func newCheckpointStore(cfg config.StoreBackend) (checkpoint.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return checkpoint.NewMemoryStore(), nil
	case "redis":
		return checkpoint.NewRedisStore(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported checkpoint backend: %s", cfg.Backend)
	}
}

func newRerankCache(cfg config.StoreBackend) (rerank.Cache, error) {
	switch cfg.Backend {
	case "", "memory":
		return rerank.NewMemoryCache(), nil
	case "redis":
		return rerank.NewRedisCache(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}

// registerTransports connects every configured MCP server to the tool
// host, per §4.1/§6 mcp.servers.
func registerTransports(ctx context.Context, host *toolhost.ToolHost, cfg config.MCPConfig) error {
	for _, s := range cfg.Servers {
		var t toolhost.Transport
		switch s.Transport {
		case config.TransportStdio:
			st, err := toolhost.NewStdioTransport(ctx, s.Command, s.Args, envSlice(s.Env))
			if err != nil {
				return fmt.Errorf("start stdio server %s: %w", s.Name, err)
			}
			t = st
		case config.TransportHTTPSSE:
			t = toolhost.NewHTTPSSETransport(s.BaseURL, s.AuthHeaders)
		default:
			return fmt.Errorf("server %s: unsupported transport %q", s.Name, s.Transport)
		}
		if err := host.RegisterServer(ctx, s.Name, t); err != nil {
			return fmt.Errorf("register server %s: %w", s.Name, err)
		}
	}
	return nil
}

func envSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
