package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	contracts "github.com/dragon-zzuni/offline-agent/contracts/mq"
	"github.com/dragon-zzuni/offline-agent/internal/api"
	"github.com/dragon-zzuni/offline-agent/internal/classifier"
	"github.com/dragon-zzuni/offline-agent/internal/config"
	"github.com/dragon-zzuni/offline-agent/internal/model"
	"github.com/dragon-zzuni/offline-agent/internal/mqhandler"
	"github.com/dragon-zzuni/offline-agent/internal/persona"
	"github.com/dragon-zzuni/offline-agent/internal/pipeline"
	"github.com/dragon-zzuni/offline-agent/internal/poller"
	"github.com/dragon-zzuni/offline-agent/internal/ranker"
	"github.com/dragon-zzuni/offline-agent/internal/reasoning"
	"github.com/dragon-zzuni/offline-agent/internal/repository"
	"github.com/dragon-zzuni/offline-agent/internal/service"
	"github.com/dragon-zzuni/offline-agent/internal/source"
	"github.com/dragon-zzuni/offline-agent/internal/top3"
	"github.com/dragon-zzuni/offline-agent/pkg/db"
	"github.com/dragon-zzuni/offline-agent/pkg/logger"
	"github.com/dragon-zzuni/offline-agent/pkg/mq"
	"github.com/dragon-zzuni/offline-agent/pkg/redisclient"
	"github.com/dragon-zzuni/offline-agent/pkg/util"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		panic(err)
	}

	log := logger.NewLogger()
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Postgres
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("DB initialization failed", zap.Error(err))
	}
	defer dbConn.Close()

	if err := repository.EnsureSchema(ctx, dbConn); err != nil {
		log.Fatal("schema setup failed", zap.Error(err))
	}

	// Redis
	rdb := redisclient.New(cfg.Redis)
	defer rdb.Close()

	// RabbitMQ
	publisher, err := mq.NewPublisher(cfg.MQ.URL)
	if err != nil {
		log.Fatal("failed to init publisher", zap.Error(err))
	}
	defer publisher.Close()

	if err := declareDLQ(cfg.MQ.URL); err != nil {
		log.Fatal("failed to declare dead letter topology", zap.Error(err))
	}

	// Repositories
	todoRepo := repository.NewTodoRepository(dbConn)
	tagCacheRepo := repository.NewTagCacheRepository(dbConn)
	personaRepo := repository.NewPersonaRepository(dbConn)
	userRepo := repository.NewUserRepository(dbConn)

	// Reasoning client; everything downstream degrades to its
	// deterministic path when it is not configured.
	reasoningClient := reasoning.NewClient(cfg.Reasoning, log)
	var rankGen ranker.Generator
	var tagGen classifier.Generator
	var selGen top3.Generator
	if reasoningClient.Configured() {
		rankGen = reasoningClient
		tagGen = reasoningClient
		selGen = reasoningClient
	} else {
		log.Warn("Reasoning endpoint not configured, running heuristics only")
	}

	// Project directory, static for the process lifetime.
	sourceClient := source.NewClient(cfg.Source.MessagesURL, cfg.Source.ProjectsURL)
	projects, err := sourceClient.ListProjects(ctx)
	if err != nil {
		log.Warn("project directory unavailable, tagging is limited", zap.Error(err))
	}
	directory := model.NewProjectDirectory(projects)

	// Core services
	rankSvc := ranker.New(rankGen, log)
	tagSvc := classifier.New(tagCacheRepo, tagGen, directory, log)

	var selectionCache top3.CacheStore
	if cfg.Redis.Addr != "" {
		selectionCache = top3.NewRedisCache(rdb, log)
	} else {
		selectionCache = top3.NewMemoryCache()
	}
	selector := top3.NewSelector(selGen, selectionCache, rankSvc, directory, log)

	deduper := util.NewDeduperWithLogger(rdb, 24*time.Hour, log)
	retryCounter := util.NewRetryCounter(rdb, time.Hour)

	// The pipeline reads the active persona through the manager; the
	// manager runs collections through the pipeline.
	var personaManager *persona.Manager
	activePersona := func() string {
		if personaManager == nil {
			return ""
		}
		return personaManager.Active()
	}
	pipe := pipeline.New(rankSvc, todoRepo, publisher, activePersona, log)
	personaManager = persona.NewManager(sourceClient, personaRepo, todoRepo, pipe, log)

	// Classification worker
	consumer, err := mq.NewPriorityConsumer(cfg.MQ.URL, "todo.classify", contracts.RoutingKeyClassifyTodo, log)
	if err != nil {
		log.Fatal("failed to init consumer", zap.Error(err))
	}
	defer consumer.Close()
	classifyHandler := mqhandler.NewClassifyHandler(todoRepo, tagSvc, deduper, retryCounter, publisher, log)
	consumer.SetHandler(classifyHandler.Handle)

	// Poller
	bg := poller.New(sourceClient, pipe, deduper, activePersona, cfg.Poller.Interval, log)

	// API
	authService := service.NewAuthService(userRepo, cfg.JWT.Secret)
	authHandler := api.NewAuthHandler(authService)
	todoHandler := api.NewTodoHandler(todoRepo, todoRepo, personaManager)
	personaHandler := api.NewPersonaHandler(personaManager)
	top3Handler := api.NewTop3Handler(selector, todoRepo, personaManager, publisher, log)
	router := api.NewRouter(authHandler, todoHandler, personaHandler, top3Handler, cfg.JWT.Secret)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router.Engine,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return bg.Run(gctx)
	})

	g.Go(func() error {
		return retentionSweep(gctx, todoRepo, log)
	})

	g.Go(func() error {
		return consumer.StartConsuming()
	})

	g.Go(func() error {
		log.Info("API server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		consumer.Close()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("assistant stopped", zap.Error(err))
	}
	log.Info("assistant shut down")
}

const (
	// Done and stale rows are removed after this window.
	todoRetention = 30 * 24 * time.Hour
	// Sweep cadence; the window is far larger so drift is harmless.
	sweepInterval = 12 * time.Hour
)

// retentionSweep purges TODOs past the retention window until ctx is
// cancelled. One sweep runs at startup so restarts do not delay it.
func retentionSweep(ctx context.Context, todos *repository.TodoRepository, log *zap.Logger) error {
	sweep := func() {
		n, err := todos.PurgeOlderThan(ctx, time.Now().Add(-todoRetention))
		if err != nil {
			log.Warn("retention sweep failed", zap.Error(err))
			return
		}
		if n > 0 {
			log.Info("retention sweep purged todos", zap.Int64("removed", n))
		}
	}

	sweep()

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweep()
		}
	}
}

// declareDLQ sets up the dead letter exchange and queue once at boot.
func declareDLQ(url string) error {
	conn, err := mq.NewConnection(url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := mq.DeclareDLQExchange(ch); err != nil {
		return err
	}
	_, err = mq.DeclareDLQQueue(ch, contracts.RoutingKeyClassifyTodo)
	return err
}
