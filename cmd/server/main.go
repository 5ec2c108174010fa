// Command server boots the indexing core: it wires the
// MemoryArbiter, ContextRegistry, IndexRegistry, InstanceRegistry,
// FetchScheduler, IndexWriter and ClusteringWorker together, bridges
// their lifecycle events onto the external message broker, and serves
// a minimal health/status HTTP surface. Grounded on the teacher's
// backend/cmd/server/main.go for the overall boot sequence and its
// signal-driven graceful shutdown.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/tracer/indexer/internal/clustering"
	"github.com/darkden-lab/tracer/indexer/internal/config"
	"github.com/darkden-lab/tracer/indexer/internal/ctxtoken"
	"github.com/darkden-lab/tracer/indexer/internal/db"
	"github.com/darkden-lab/tracer/indexer/internal/embedder"
	"github.com/darkden-lab/tracer/indexer/internal/events"
	"github.com/darkden-lab/tracer/indexer/internal/eventbus"
	"github.com/darkden-lab/tracer/indexer/internal/index"
	"github.com/darkden-lab/tracer/indexer/internal/indexregistry"
	"github.com/darkden-lab/tracer/indexer/internal/instance"
	"github.com/darkden-lab/tracer/indexer/internal/memory"
	"github.com/darkden-lab/tracer/indexer/internal/metadata"
	"github.com/darkden-lab/tracer/indexer/internal/mutation"
	"github.com/darkden-lab/tracer/indexer/internal/pipeline"
	"github.com/darkden-lab/tracer/indexer/internal/provider"
	"github.com/darkden-lab/tracer/indexer/internal/scheduler"
	"github.com/darkden-lab/tracer/indexer/internal/writer"
)

// unconfiguredIMAPClient satisfies provider.Client so stored "imap"
// instances still materialize into a live Provider at boot; Connect
// and FetchSince fail (Logout is a no-op) until an operator wires a
// real client, since vendoring
// one is out of scope for the core (see internal/provider/imap.go).
type unconfiguredIMAPClient struct{}

func (unconfiguredIMAPClient) Connect(ctx context.Context, cfg provider.IMAPConfig) error {
	return errors.New("imap: no client configured for this deployment")
}
func (unconfiguredIMAPClient) FetchSince(ctx context.Context, since time.Time) ([]provider.Message, error) {
	return nil, errors.New("imap: no client configured for this deployment")
}
func (unconfiguredIMAPClient) Logout(ctx context.Context) error { return nil }

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	database, err := db.New(ctx, cfg.DatabaseURL, cfg.FetchingThreads)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer database.Close()

	if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("db: migrations: %v", err)
	}

	store := metadata.NewPostgresStore(database.Pool)

	arbiter := memory.New(cfg.MaxMemory, cfg.MaxIndexingMemory, cfg.MaxClusteringMemory, cfg.IndexClusteringThreshold)
	tokens := ctxtoken.New()

	emb := embedder.New(cfg.EmbedderURL, cfg.EmbedderAPIKey, cfg.EmbedderModel)
	shardFactory := func(kind index.Kind, path string) index.Index {
		switch kind {
		case index.KindVector:
			return index.NewVectorShard(path, cfg.EmbeddingDims, emb)
		default:
			return index.NewLexicalShard(path)
		}
	}

	instanceBus := events.NewInstanceBus()
	instances := instance.New(instanceBus)
	indexes := indexregistry.New(cfg.IndexPath, cfg.MaxIndexSize, arbiter, tokens, shardFactory, instanceBus)

	textPipeline := pipeline.NewDefault()
	imapFactory := func(row metadata.ProviderInstanceRow, queue *mutation.Queue) provider.Provider {
		imapCfg := provider.IMAPConfig{
			Connection: row.Config["connection"],
			User:       row.Config["user"],
			Password:   row.Config["password"],
		}
		return provider.NewIMAPProvider(row.ID, imapCfg, store, textPipeline, queue, unconfiguredIMAPClient{}, cfg.EmbeddingTokenLimit)
	}
	if err := instances.LoadFromStore(ctx, store, provider.ProviderKindIMAP, imapFactory); err != nil {
		log.Printf("instance: load_from_store: %v", err)
	}

	sched := scheduler.New(instances, time.Duration(cfg.FetchingTime)*time.Second, cfg.FetchingThreads)
	sched.Seed()
	go sched.Run(ctx)

	idxWriter := writer.New(instances, indexes, tokens, arbiter, cfg.MaxIndexSize)
	go idxWriter.Run(ctx)

	clusterWorker := clustering.New(indexes, tokens)
	go clusterWorker.Run(ctx)

	broker, err := eventbus.NewBroker(cfg)
	if err != nil {
		log.Fatalf("eventbus: %v", err)
	}
	defer broker.Close()
	eventbus.NewBridge(broker, instanceBus, indexes.Bus())

	r := mux.NewRouter()
	r.HandleFunc("/healthz", healthHandler(database)).Methods(http.MethodGet)
	r.HandleFunc("/status", statusHandler(arbiter, instances)).Methods(http.MethodGet)

	srv := &http.Server{
		Addr:           ":" + cfg.HealthPort,
		Handler:        r,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Println("shutting down indexing core...")
		cancel()
		sched.Stop()
		clusterWorker.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Fatalf("health server shutdown failed: %v", err)
		}
	}()

	log.Printf("indexing core listening on :%s", cfg.HealthPort)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("health server failed: %v", err)
	}
	log.Println("indexing core stopped")
}
