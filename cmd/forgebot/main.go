package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/ForgeBot/internal/adapter/gitlocal"
	fbhttp "github.com/Strob0t/ForgeBot/internal/adapter/http"
	"github.com/Strob0t/ForgeBot/internal/adapter/litellm"
	"github.com/Strob0t/ForgeBot/internal/adapter/mcp"
	"github.com/Strob0t/ForgeBot/internal/adapter/memory"
	fbnats "github.com/Strob0t/ForgeBot/internal/adapter/nats"
	"github.com/Strob0t/ForgeBot/internal/adapter/natskv"
	"github.com/Strob0t/ForgeBot/internal/adapter/openai"
	fbotel "github.com/Strob0t/ForgeBot/internal/adapter/otel"
	"github.com/Strob0t/ForgeBot/internal/adapter/postgres"
	"github.com/Strob0t/ForgeBot/internal/adapter/ristretto"
	"github.com/Strob0t/ForgeBot/internal/adapter/tiered"
	"github.com/Strob0t/ForgeBot/internal/adapter/workspace"
	"github.com/Strob0t/ForgeBot/internal/adapter/ws"
	"github.com/Strob0t/ForgeBot/internal/config"
	"github.com/Strob0t/ForgeBot/internal/domain/action"
	"github.com/Strob0t/ForgeBot/internal/domain/routing"
	"github.com/Strob0t/ForgeBot/internal/logger"
	"github.com/Strob0t/ForgeBot/internal/middleware"
	"github.com/Strob0t/ForgeBot/internal/port/buildlog"
	"github.com/Strob0t/ForgeBot/internal/port/cache"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
	"github.com/Strob0t/ForgeBot/internal/resilience"
	"github.com/Strob0t/ForgeBot/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// memoryBuildLogSize bounds the in-memory build log used without PostgreSQL.
const memoryBuildLogSize = 1000

func main() {
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		if err := runAdmin(os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		return
	}

	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(2)
	}
	if err := run(flags); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(flags config.CLIFlags) error {
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"model", cfg.LLM.DefaultModel,
		"fallbacks", cfg.LLM.FallbackModels,
		"version", version,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Observability ---

	shutdownOTEL, err := fbotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown failed", "error", err)
		}
	}()
	metrics, err := fbotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	buildLog, closeBuildLog, err := openBuildLog(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer closeBuildLog()

	var queue *fbnats.Queue
	var l2 cache.Cache
	if cfg.NATS.URL != "" {
		queue, err = fbnats.Connect(ctx, cfg.NATS)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := queue.Drain(); err != nil {
				slog.Warn("nats drain failed", "error", err)
			}
		}()
		kv, err := queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			slog.Warn("nats kv unavailable, issue summary cached in process only", "error", err)
		} else {
			l2 = natskv.New(kv)
		}
	}

	l1, err := ristretto.New(int(cfg.Cache.L1MaxSizeMB))
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	defer l1.Close()
	summary := service.NewCachedIssueSummary(buildLog, tiered.New(l1, l2, cfg.Cache.SummaryTTL),
		cfg.Build.SummaryRuns, cfg.Build.SummaryLimit, cfg.Cache.SummaryTTL)

	// --- Models ---

	client := openai.New(cfg.LLM)
	breaker := resilience.NewBreaker("llm", cfg.Breaker.MaxFailures, cfg.Breaker.Timeout).WithClassifier(llm.IsTransient)
	client.SetBreaker(breaker)

	invoker := service.NewModelInvoker(client, resilience.NewMemoryCounters(cfg.Agent.CounterCapacity), service.InvokerConfig{
		MaxModelAttempts: cfg.LLM.MaxModelAttempts,
		FallbackAfter:    cfg.LLM.FallbackAfter,
		FallbackModels:   cfg.LLM.FallbackModels,
		MinUsableTokens:  cfg.LLM.MinUsableTokens,
	})
	invoker.SetMetrics(metrics)

	var catalog service.ModelCatalog
	var health fbhttp.HealthChecker
	if cfg.LiteLLM.URL != "" {
		proxy := litellm.NewClient(cfg.LiteLLM.URL, cfg.LiteLLM.MasterKey)
		catalog, health = proxy, proxy
		checkModels(ctx, proxy, cfg.LLM)
	}
	selector := service.NewModelSelector(cfg.LLM.DefaultModel, catalog)

	// --- Actions ---

	files, err := workspace.New(cfg.Workspace)
	if err != nil {
		return fmt.Errorf("workspace: %w", err)
	}
	repo := gitlocal.NewRepo(files.Root(), cfg.Workspace.GitRemote, cfg.Workspace.GitBranch)

	tools := mcp.Import(ctx, cfg.MCP)
	defer tools.Close()

	regs := append(workspace.Actions(files, repo, selector), tools.Registrations()...)
	registry, err := action.NewRegistry(regs...)
	if err != nil {
		return fmt.Errorf("action registry: %w", err)
	}
	slog.Info("actions registered", "count", len(registry.Names()), "workspace", files.Root())

	executor := service.NewExecutor(registry)
	executor.SetMetrics(metrics)

	// --- Services ---

	hub := ws.NewHub()
	defer hub.Close()

	loop := service.NewAgentLoop(invoker, executor, service.LoopConfig{
		MaxIterations:   cfg.Agent.MaxIterations,
		ReadOnlyCeiling: cfg.Agent.ReadOnlyCeiling,
		DefaultModel:    cfg.LLM.DefaultModel,
		MaxTokens:       cfg.LLM.MaxTokens,
		Temperature:     cfg.LLM.Temperature,
		Private:         cfg.LLM.Private,
	})
	loop.SetMetrics(metrics)
	loop.SetHub(hub)

	buildModel := cfg.Build.Model
	if buildModel == "" {
		buildModel = cfg.LLM.DefaultModel
	}
	stages := service.NewModelStages(invoker, files, service.StageModelConfig{
		Model:          buildModel,
		MaxTokens:      cfg.LLM.MaxTokens,
		BuildMaxTokens: cfg.Build.BuildMaxTokens,
		Private:        cfg.LLM.Private,
	})
	pipeline := service.NewBuildPipeline(stages, buildLog)
	pipeline.SetFileStore(files)
	pipeline.SetHub(hub)
	pipeline.SetSummarizer(summary)
	pipeline.SetMetrics(metrics)
	if queue != nil {
		pipeline.SetQueue(queue)
	}

	assistant := service.NewAssistant(routing.NewRouter(cfg.Routing), loop, invoker, pipeline, service.AssistantConfig{
		DefaultModel:     cfg.LLM.DefaultModel,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		Private:          cfg.LLM.Private,
		BuildMaxAttempts: cfg.Build.MaxAttempts,
	})
	assistant.SetHub(hub)
	assistant.SetSelector(selector)
	assistant.SetMetrics(metrics)

	// --- Intake ---

	var limiter *middleware.RateLimiter
	var intakeLimiter service.IntakeLimiter
	if cfg.Server.RateLimit > 0 {
		limiter = middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
		limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
		intakeLimiter = limiter
	}

	if queue != nil {
		cancelIntake, err := service.NewGatewayIntake(assistant, queue, intakeLimiter).Start(ctx)
		if err != nil {
			return fmt.Errorf("gateway intake: %w", err)
		}
		defer cancelIntake()
		slog.Info("gateway intake started")
	}

	var mcpHandler http.Handler
	if cfg.MCP.Serve {
		mcpHandler = mcp.NewServer(
			mcp.ServerConfig{Name: "forgebot", Version: version, APIKey: cfg.MCP.APIKey},
			mcp.ServerDeps{Requests: assistant, BuildLog: buildLog, Issues: summary},
		).Handler()
	}

	handlers := &fbhttp.Handlers{
		Requests: assistant,
		BuildLog: buildLog,
		Issues:   summary,
		Models:   selector,
		Health:   health,
		Breaker:  breaker,
	}
	router := fbhttp.NewRouter(handlers, fbhttp.RouterConfig{
		ServiceName: cfg.Logging.Service,
		CORSOrigin:  cfg.Server.CORSOrigin,
		RateLimiter: limiter,
		WS:          hub.HandleWS,
		MCP:         mcpHandler,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

// openBuildLog selects PostgreSQL when a DSN is configured and the bounded
// in-memory log otherwise.
func openBuildLog(ctx context.Context, cfg config.Postgres) (buildlog.Store, func(), error) {
	if cfg.DSN == "" {
		slog.Warn("no database configured, build log kept in memory", "max_builds", memoryBuildLogSize)
		return memory.NewBuildLog(memoryBuildLogSize), func() {}, nil
	}

	pool, err := postgres.NewPool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres: %w", err)
	}
	slog.Info("postgres connected")

	v, err := postgres.RunMigrations(ctx, cfg.DSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied", "version", v)

	return postgres.NewBuildLog(pool), pool.Close, nil
}

// checkModels warns about configured models the proxy does not serve. The
// proxy may be configured later, so this never blocks startup.
func checkModels(ctx context.Context, proxy *litellm.Client, cfg config.LLM) {
	cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	want := append([]string{cfg.DefaultModel}, cfg.FallbackModels...)
	missing, err := proxy.MissingModels(cctx, want)
	if err != nil {
		slog.Warn("model catalog unavailable", "error", err)
		return
	}
	if len(missing) > 0 {
		slog.Warn("configured models not served by proxy", "missing", missing)
	}
}
