package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"grantdesk/internal/config"
	"grantdesk/internal/domain"
	cryptoinfra "grantdesk/internal/infra/crypto"
	"grantdesk/internal/infra/db"
	httpinfra "grantdesk/internal/infra/http"
	"grantdesk/internal/infra/jobs"
	"grantdesk/internal/infra/legacydb"
	"grantdesk/internal/infra/logging"
	"grantdesk/internal/infra/memdb"
	"grantdesk/internal/infra/pdf"
	"grantdesk/internal/infra/policyopa"
	"grantdesk/internal/infra/ratelimit"
	"grantdesk/internal/infra/storage"
	"grantdesk/internal/usecase"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	recoveryInterval = time.Minute
	recoveryAge      = 2 * time.Minute
)

type repositories struct {
	reports   usecase.ReportRepository
	jobs      usecase.JobRepository
	documents usecase.DocumentRepository
	directory interface {
		usecase.DirectoryRepository
		directoryWriter
	}
	audit  usecase.AuditEventRepository
	legacy usecase.LegacyRepository
}

func main() {
	cfg := config.FromEnv()
	log := logging.New(cfg.LogLevel, os.Stdout)
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repos, closeRepos, err := openRepositories(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to init store")
	}
	defer closeRepos()

	if cfg.DirectorySeedPath != "" {
		seed, err := loadDirectorySeed(cfg.DirectorySeedPath)
		if err != nil {
			log.WithError(err).Fatal("failed to load directory seed")
		}
		n, err := seed.apply(ctx, repos.directory)
		if err != nil {
			log.WithError(err).Fatal("failed to apply directory seed")
		}
		log.WithField("entries", n).Info("directory seeded")
	}

	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
	}

	artifacts, local, err := openArtifactStore(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("failed to init artifact storage")
	}
	if closer, ok := artifacts.(io.Closer); ok {
		defer closer.Close()
	}

	var sealer *cryptoinfra.Sealer
	if !cfg.PlaintextMode() {
		if sealer, err = cryptoinfra.NewSealerFromBase64(cfg.ArtifactEncryptionKey); err != nil {
			log.WithError(err).Fatal("invalid artifact encryption key")
		}
	} else {
		log.Warn("ARTIFACT_ENCRYPTION_KEY is not set; generated documents will be stored unencrypted")
	}
	layer := cryptoinfra.NewLayer(sealer)

	authz, err := policyopa.NewEngine(ctx, cfg.AuthorizationPolicyPath)
	if err != nil {
		log.WithError(err).Fatal("failed to load authorization policy")
	}

	var locker jobs.Locker = jobs.NewMemoryLocker()
	var limiter domain.RateLimiter = ratelimit.NewMemoryLimiter(nil, 0)
	if rdb != nil {
		locker = jobs.NewRedisLocker(rdb, "grantdesk:lock:")
		if redisLimiter, err := ratelimit.NewRedisLimiter(rdb, "grantdesk:ratelimit:"); err == nil {
			limiter = redisLimiter
		}
	}
	runner := jobs.NewRunner(jobs.Config{
		Workers:     cfg.JobWorkers,
		QueueSize:   cfg.JobQueueSize,
		MaxAttempts: cfg.JobMaxAttempts,
		Permanent:   usecase.IsPermanentFailure,
	}, locker, log)
	runner.Start(ctx)
	queue := jobs.NewQueue(runner)

	clock := func() time.Time { return time.Now().UTC() }
	builder := pdf.NewBuilder()
	emitter := usecase.NewAuditEmitter(repos.audit, clock)
	generation := &usecase.GenerationService{
		Reports:      repos.reports,
		Jobs:         repos.jobs,
		Documents:    repos.documents,
		Directory:    repos.directory,
		Builder:      builder,
		Inspector:    pdf.Inspector{},
		Integrity:    layer,
		Store:        artifacts,
		Queue:        queue,
		Authz:        authz,
		Audit:        emitter,
		Log:          logging.Component(log, "generation"),
		Clock:        clock,
		SignedURLTTL: cfg.SignedURLTTL(),
	}
	reports := &usecase.ReportService{
		Reports:    repos.reports,
		Directory:  repos.directory,
		Authz:      authz,
		Audit:      emitter,
		Generation: generation,
		Glyphs:     builder,
		Legacy: &usecase.LegacyLinker{
			Repo:  repos.legacy,
			Queue: queue,
			Audit: emitter,
			Log:   logging.Component(log, "legacy"),
			Clock: clock,
		},
		Log:   logging.Component(log, "reports"),
		Clock: clock,
	}
	integrity := &usecase.IntegrityService{
		Reports:   repos.reports,
		Documents: repos.documents,
		Store:     artifacts,
		Integrity: layer,
		Authz:     authz,
		Audit:     emitter,
		Log:       logging.Component(log, "integrity"),
	}

	if _, err := generation.Recover(ctx, 0); err != nil {
		log.WithError(err).Error("startup job recovery failed")
	}
	go generation.RunRecovery(ctx, recoveryInterval, recoveryAge)

	server := httpinfra.NewServer(httpinfra.ServerDeps{
		Reports:             reports,
		Generation:          generation,
		Integrity:           integrity,
		AuditRepo:           repos.audit,
		LocalArtifacts:      local,
		RateLimiter:         limiter,
		WriteLimitPerMinute: cfg.WriteRateLimitPerMinute,
		Log:                 logging.Component(log, "http"),
		Mode:                cfg.StoreMode(),
		AutosaveInterval:    cfg.AutosaveInterval(),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithFields(logrus.Fields{"addr": cfg.HTTPAddr, "mode": cfg.StoreMode(), "storage": artifacts.Provider()}).Info("grantdesk listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("server exited")
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("job runner shutdown; unfinished jobs will be recovered on restart")
	}
}

func openRepositories(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (repositories, func(), error) {
	if cfg.InMemoryStore {
		log.Warn("IN_MEMORY_STORE is set; reports and documents are lost on restart")
		store := memdb.NewStore()
		return repositories{
			reports:   store.Reports(),
			jobs:      store.Jobs(),
			documents: store.Documents(),
			directory: memdb.NewDirectoryRepository(),
			audit:     memdb.NewAuditEventRepository(),
			legacy:    memdb.NewLegacyRepository(),
		}, func() {}, nil
	}

	store, err := db.NewStore(cfg.PostgresDSN, log)
	if err != nil {
		return repositories{}, nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return repositories{}, nil, err
	}
	legacyStore, err := legacydb.NewStore(ctx, cfg.LegacyPostgresDSN)
	if err != nil {
		_ = store.Close()
		return repositories{}, nil, err
	}
	if err := legacyStore.EnsureSchema(ctx); err != nil {
		log.WithError(err).Warn("legacy schema check failed; linkage will retry per report")
	}
	closeAll := func() {
		legacyStore.Close()
		_ = store.Close()
	}
	return repositories{
		reports:   db.NewReportRepository(store.DB),
		jobs:      db.NewJobRepository(store.DB),
		documents: db.NewDocumentRepository(store.DB),
		directory: db.NewDirectoryRepository(store.DB),
		audit:     db.NewAuditEventRepository(store.DB),
		legacy:    legacydb.NewLegacyRepo(legacyStore.Pool),
	}, closeAll, nil
}

// openArtifactStore also returns the local store when one is used, so the
// server can serve its signed links.
func openArtifactStore(ctx context.Context, cfg config.Config) (usecase.ArtifactStore, *storage.LocalStore, error) {
	if cfg.StorageProvider == "gcs" {
		gcs, err := storage.NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsJSON)
		if err != nil {
			return nil, nil, err
		}
		return gcs, nil, nil
	}
	local, err := storage.NewLocalStore(cfg.LocalStorageDir, cfg.LocalURLSigningSecret, cfg.PublicBaseURL)
	if err != nil {
		return nil, nil, err
	}
	return local, local, nil
}
