package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"papersub/internal/app"
	"papersub/internal/audit"
	"papersub/internal/config"
	"papersub/internal/document"
	"papersub/internal/lock"
	"papersub/internal/logger"
	"papersub/internal/options"
	"papersub/internal/paper"
	"papersub/internal/search"
	"papersub/internal/session"
	"papersub/internal/store"
	"papersub/internal/topics"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		log.Fatal("migrations failed", "error", err)
	}

	dataStore := store.NewPostgresStore(db)

	var locker lock.Locker = lock.NewLocal()
	revocations := session.Revocations(session.NewMemoryStore())
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using redis for submission locks and token revocation")
		redisLock, err := lock.NewRedis(cfg.RedisURL, cfg.LockTTL, log)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer redisLock.Close()
		locker = redisLock

		redisSessions, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		defer redisSessions.Close()
		revocations = redisSessions
	}

	blobs, err := document.NewMinioStore(ctx, document.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		log.Fatal("document storage unavailable", "error", err)
	}
	resolver := document.NewResolver(blobs,
		document.AllowAnyContentFile(cfg.AllowAnyContentFile),
		document.ContentFilePrefix(cfg.ContentFilePrefix),
	)

	registry, err := options.Load(cfg.OptionsFile)
	if err != nil {
		log.Fatal("submission options invalid", "file", cfg.OptionsFile, "error", err)
	}

	papers := paper.NewService(dataStore, locker, topics.NewVocabulary(), registry, resolver, paper.Settings{
		NoAbstract:           cfg.NoAbstract,
		MaxAuthors:           cfg.MaxAuthors,
		Blindness:            paper.ParseBlindness(cfg.Blindness),
		RequireCollaborators: cfg.RequireCollaborators,
		AddTopics:            cfg.AddTopics,
	}, log)

	var history app.HistorySource
	if strings.TrimSpace(cfg.AuditDir) != "" {
		if err := os.MkdirAll(cfg.AuditDir, 0o755); err != nil {
			log.Fatal("failed to create audit dir", "dir", cfg.AuditDir, "error", err)
		}
		auditService := audit.New(cfg.AuditDir)
		papers.AddObserver(auditService)
		history = auditService
	}

	var meiliClient *search.Meili
	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		engine = meiliClient
	}
	searchService := search.NewService(engine, search.NewPgFTS(db), log)
	papers.AddObserver(searchService)
	go searchService.ReindexAll(ctx)

	service := app.NewService(app.Options{
		TokenSecret: cfg.TokenSecret,
		Papers:      papers,
		DB:          dataStore,
		History:     history,
		Search:      searchService,
		Revocations: revocations,
		Log:         log,
	})

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("papersub API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
}
