package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"papersub/internal/audit"
	"papersub/internal/config"
	"papersub/internal/document"
	"papersub/internal/lock"
	"papersub/internal/logger"
	"papersub/internal/options"
	"papersub/internal/paper"
	"papersub/internal/search"
	"papersub/internal/store"
	"papersub/internal/topics"
)

// backend is the subset of the API wiring the admin commands need.
type backend struct {
	db     *sql.DB
	papers *paper.Service
	search *search.Service
	audit  *audit.Service
	close  func()
}

func openBackend(ctx context.Context, cfg config.Config, log *logger.Logger) (*backend, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	closers := []func(){func() { _ = db.Close() }}
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir, log); err != nil {
		closeAll()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	var locker lock.Locker = lock.NewLocal()
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisLock, err := lock.NewRedis(cfg.RedisURL, cfg.LockTTL, log)
		if err != nil {
			closeAll()
			return nil, err
		}
		closers = append(closers, func() { _ = redisLock.Close() })
		locker = redisLock
	}

	blobs, err := document.NewMinioStore(ctx, document.MinioConfig{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
	})
	if err != nil {
		closeAll()
		return nil, err
	}
	registry, err := options.Load(cfg.OptionsFile)
	if err != nil {
		closeAll()
		return nil, err
	}

	b := &backend{db: db}
	b.papers = paper.NewService(store.NewPostgresStore(db), locker, topics.NewVocabulary(), registry,
		document.NewResolver(blobs,
			document.AllowAnyContentFile(cfg.AllowAnyContentFile),
			document.ContentFilePrefix(cfg.ContentFilePrefix),
		),
		paper.Settings{
			NoAbstract:           cfg.NoAbstract,
			MaxAuthors:           cfg.MaxAuthors,
			Blindness:            paper.ParseBlindness(cfg.Blindness),
			RequireCollaborators: cfg.RequireCollaborators,
			AddTopics:            cfg.AddTopics,
		}, log)

	if strings.TrimSpace(cfg.AuditDir) != "" {
		b.audit = audit.New(cfg.AuditDir)
		b.papers.AddObserver(b.audit)
	}

	var engine search.Engine
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		closers = append(closers, meiliClient.Close)
		engine = meiliClient
	}
	b.search = search.NewService(engine, search.NewPgFTS(db), log)
	b.papers.AddObserver(b.search)

	b.close = closeAll
	return b, nil
}
