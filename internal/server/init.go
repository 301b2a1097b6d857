package server

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/folio-graph/folio/internal/metrics"
	"github.com/folio-graph/folio/internal/queue"
	mid "github.com/folio-graph/folio/internal/server/middleware"
	"github.com/folio-graph/folio/internal/storage"
	"github.com/folio-graph/folio/internal/util"
	"github.com/folio-graph/folio/pkg/ai"
	oai "github.com/folio-graph/folio/pkg/ai/ollama"
	gai "github.com/folio-graph/folio/pkg/ai/openai"
	"github.com/folio-graph/folio/pkg/biblio"
	"github.com/folio-graph/folio/pkg/cache"
	"github.com/folio-graph/folio/pkg/common"
	"github.com/folio-graph/folio/pkg/enrich"
	"github.com/folio-graph/folio/pkg/explorer"
	"github.com/folio-graph/folio/pkg/graph"
	"github.com/folio-graph/folio/pkg/grid"
	"github.com/folio-graph/folio/pkg/logger"
	"github.com/folio-graph/folio/pkg/pathfind"
	"github.com/folio-graph/folio/pkg/ratelimit"
	pgstore "github.com/folio-graph/folio/pkg/store/pgx"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Init wires every component from the environment and serves until
// SIGINT or SIGTERM.
func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shared := newSharedCache(ctx)
	if shared != nil {
		defer shared.Close()
	}

	provider := newProvider()
	go func() {
		if err := provider.LoadModel(ctx); err != nil {
			logger.Warn("[Server] Failed to preload model", "err", err)
		}
	}()
	go reportModelUsage(ctx, provider, util.GetEnvDuration("AI_METRICS_INTERVAL_SECONDS", time.Second, 5*time.Minute))

	aiClient := ai.NewClient(ai.ClientParams{
		Provider: provider,
		Limiter: ratelimit.NewSlidingWindow(
			util.GetEnvInt("AI_RATE_LIMIT", 30),
			util.GetEnvDuration("AI_RATE_WINDOW_SECONDS", time.Second, time.Minute),
		),
		Retry:       util.DefaultRetryOptions,
		Shared:      shared,
		Temperature: util.GetEnvFloat("AI_TEMPERATURE", 0),
		Thinking:    util.GetEnv("AI_THINKING"),
	})

	biblioClient := biblio.NewClient(biblio.Params{
		BaseURL:      util.GetEnv("BIBLIO_URL"),
		CoversURL:    util.GetEnv("BIBLIO_COVERS_URL"),
		MinInterval:  util.GetEnvDuration("BIBLIO_MIN_INTERVAL_MS", time.Millisecond, 0),
		FetchTimeout: util.GetEnvDuration("BIBLIO_FETCH_TIMEOUT_SECONDS", time.Second, 0),
		Shared:       shared,
	})

	store := graph.NewStore()
	scheduler := enrich.NewScheduler(enrich.Params{
		Store:  store,
		Lookup: biblioClient,
		Retry:  util.DefaultRetryOptions,
	})
	scheduler.Start(ctx)
	defer scheduler.Close()

	status := explorer.NewStatusBoard(explorer.DefaultCaptionTTL)
	exp := explorer.New(explorer.Params{
		Store:     store,
		Generator: aiClient,
		Enricher:  scheduler,
		Status:    status,
		WebSearch: util.GetEnvBool("AI_WEB_SEARCH", false),
	})
	wall := grid.NewEngine(grid.Params{
		Store:     store,
		Generator: aiClient,
		Books:     biblioClient,
		Enricher:  scheduler,
		Retry:     util.DefaultRetryOptions,
		Parallel:  util.GetEnvInt("GRID_PARALLEL", 4),
		Notify:    status.Show,
		Context:   ctx,
	})
	finder := pathfind.NewFinder(pathfind.Params{
		Store:     store,
		Generator: aiClient,
		Enricher:  scheduler,
		Notify:    status.Show,
		Context:   ctx,
	})

	app := &mid.App{
		Explorer: exp,
		Grid:     wall,
		Finder:   finder,
		Enricher: scheduler,
		APIKey:   util.GetEnv("API_KEY"),
	}

	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Key = &k
	}

	if dbURL := util.GetEnv("DATABASE_URL"); dbURL != "" {
		conn, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			logger.Fatal("Failed to connect to database", "err", err)
		}
		defer conn.Close()
		app.Snapshots = pgstore.NewSnapshotDBStorage(conn)
	}
	if util.GetEnv("AWS_BUCKET") != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		app.S3 = s3Client
	}

	loadInitialGraph(ctx, app)

	if queue.Enabled() {
		conn := queue.Init()
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, map[string][]string{
			queue.SnapshotQueue: {queue.TopicGraphUpdated},
		}); err != nil {
			logger.Fatal("Failed to set up queues", "err", err)
		}

		publisher := queue.NewChangePublisher(queue.ChangePublisherParams{
			Source: exp.Export,
			Publish: func(topic string, body []byte) error {
				return queue.PublishTopic(ch, topic, body)
			},
			Delay: util.GetEnvDuration("SNAPSHOT_DELAY_SECONDS", time.Second, 2*time.Second),
		})
		publisher.Attach(store)
		defer publisher.Close()
	}

	Run(ctx, New(app))

	wall.Wait()
	finder.Wait()
}

// loadInitialGraph restores the latest archived snapshot when asked to and
// falls back to the bootstrap document.
func loadInitialGraph(ctx context.Context, app *mid.App) {
	if util.GetEnvBool("RESTORE_SNAPSHOT", false) {
		if app.Snapshots == nil || app.S3 == nil {
			logger.Warn("[Server] RESTORE_SNAPSHOT needs DATABASE_URL and AWS_BUCKET")
		} else {
			restored, err := restoreLatest(ctx, app.Snapshots, app.S3, app.Explorer)
			switch {
			case restored:
				return
			case errors.Is(err, common.ErrNotFound):
				logger.Info("[Server] No snapshot to restore")
			default:
				logger.Error("[Server] Failed to restore snapshot", "err", err)
			}
		}
	}

	path := util.GetEnv("BOOTSTRAP_FILE")
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		logger.Error("[Server] Failed to open bootstrap file", "path", path, "err", err)
		return
	}
	defer f.Close()

	doc, err := graph.ParseDocument(f)
	if err != nil {
		logger.Error("[Server] Invalid bootstrap file", "path", path, "err", err)
		return
	}
	if _, err := app.Explorer.LoadBootstrap(doc); err != nil {
		logger.Error("[Server] Failed to load bootstrap file", "path", path, "err", err)
	}
}

// reportModelUsage moves the provider's token counters into Prometheus and
// the log every interval.
func reportModelUsage(ctx context.Context, provider ai.GraphAIClient, interval time.Duration) {
	if interval <= 0 {
		return
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m := provider.GetMetrics()
			provider.ResetMetrics()
			if m.Requests == 0 {
				continue
			}
			metrics.ModelUsage(m.InputTokens, m.OutputTokens)
			logger.Info("[Server] Model usage",
				"requests", m.Requests,
				"input_tokens", m.InputTokens,
				"output_tokens", m.OutputTokens,
				"tokens_per_second", m.TokenPerSecond,
			)
		}
	}
}

func newProvider() ai.GraphAIClient {
	switch util.GetEnv("AI_ADAPTER") {
	case "ollama":
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			ChatModel: util.GetEnvString("AI_CHAT_MODEL", "llama3.1"),

			BaseURL: util.GetEnv("AI_CHAT_URL"),
			ApiKey:  util.GetEnv("AI_CHAT_KEY"),

			MaxConcurrentRequests: int64(util.GetEnvInt("AI_PARALLEL_REQ", 2)),
		})
		if err != nil {
			logger.Fatal("Failed to create Ollama client", "err", err)
		}
		return client
	default:
		return gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			ChatModel:   util.GetEnvString("AI_CHAT_MODEL", "gpt-4o-mini"),
			SearchModel: util.GetEnv("AI_SEARCH_MODEL"),
			ChatURL:     util.GetEnv("AI_CHAT_URL"),
			ChatKey:     util.GetEnv("AI_CHAT_KEY"),
		})
	}
}

// newSharedCache connects the optional Redis tier. An unreachable Redis
// is logged and skipped.
func newSharedCache(ctx context.Context) *cache.RedisStore {
	url := util.GetEnv("REDIS_URL")
	if url == "" {
		return nil
	}
	shared, err := cache.NewRedisStore(url, "folio:", util.GetEnvDuration("REDIS_TTL_SECONDS", time.Second, 6*time.Hour))
	if err != nil {
		logger.Warn("[Server] Invalid REDIS_URL, shared cache disabled", "err", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := shared.Ping(pingCtx); err != nil {
		logger.Warn("[Server] Redis unreachable, shared cache disabled", "err", err)
		shared.Close()
		return nil
	}
	return shared
}
