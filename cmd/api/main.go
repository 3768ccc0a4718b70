package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"legalflow/internal/app"
	"legalflow/internal/attachments"
	"legalflow/internal/config"
	"legalflow/internal/division"
	"legalflow/internal/events"
	"legalflow/internal/logging"
	"legalflow/internal/resolver"
	"legalflow/internal/search"
	"legalflow/internal/store"
	"legalflow/internal/workflow"
)

func main() {
	configFile := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logging.Logger.Fatal().Err(err).Msg("load config")
	}
	closeLog := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile, Output: os.Stderr})
	defer func() { _ = closeLog() }()
	log := logging.Component("api")

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("migrations failed")
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("applied migration")
	}

	dataStore := store.NewPostgresStore(db)

	if cfg.DivisionsFile != "" {
		groups, err := division.LoadGroups(cfg.DivisionsFile, time.Now().UTC())
		if err != nil {
			log.Fatal().Err(err).Msg("load divisions file")
		}
		if err := dataStore.ReplaceDivisionGroups(ctx, groups, false); err != nil {
			log.Fatal().Err(err).Msg("seed division registry")
		}
		log.Info().Int("groups", len(groups)).Msg("division registry seeded")
	}

	policy, err := workflow.LoadDirectorPolicy(cfg.PolicyFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.PolicyFile).Msg("load director policy")
	}

	var publisher events.Publisher = events.NewLogPublisher(logging.Component("events"))
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisPublisher, err := events.NewRedisPublisher(cfg.RedisURL, cfg.EventsStream)
		if err != nil {
			log.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisPublisher.Close()
		publisher = redisPublisher
		log.Info().Str("stream", cfg.EventsStream).Msg("publishing domain events to redis")
	}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		go searchService.ReindexAllFromPG(ctx)
	}

	deps := app.Deps{
		Store:     dataStore,
		Directory: dataStore,
		Resolver:  resolver.New(dataStore, dataStore, cfg.DirectoryTimeout),
		Policy:    policy,
		Events:    publisher,
		Search:    searchService,
	}
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		files, err := attachments.NewMinioStore(ctx, attachments.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage connection failed")
		}
		deps.Attachments = files
	} else {
		log.Warn().Msg("MINIO_ENDPOINT is not set; comment attachments are disabled")
	}
	service := app.New(deps)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin, cfg.RateLimitRPS, cfg.RateLimitBurst)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("legalflow API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
