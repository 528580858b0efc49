// Package main provides the entry point for the API server.
package main

import (
	"context"
	"os"

	"github.com/denhq/control-plane/internal/agent"
	"github.com/denhq/control-plane/internal/api"
	"github.com/denhq/control-plane/internal/auth"
	"github.com/denhq/control-plane/internal/cleanup"
	"github.com/denhq/control-plane/internal/credentials"
	"github.com/denhq/control-plane/internal/exporter"
	"github.com/denhq/control-plane/internal/gate"
	"github.com/denhq/control-plane/internal/lifecycle"
	"github.com/denhq/control-plane/internal/registry"
	"github.com/denhq/control-plane/internal/shutdown"
	pgstore "github.com/denhq/control-plane/internal/store/postgres"
	"github.com/denhq/control-plane/internal/subdomains"
	"github.com/denhq/control-plane/pkg/config"
	"github.com/denhq/control-plane/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.LogLevel, cfg.LogFormat != "console")

	storeCfg := pgstore.DefaultConfig(cfg.DatabaseDSN)
	store, err := pgstore.NewPostgresStore(storeCfg, log.Logger)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewCloserComponent("postgres", store))

	// Seed the acceptable-use question bank on first boot.
	if cfg.Gate.QuestionsFile != "" {
		if err := gate.SeedQuestions(ctx, store, cfg.Gate.QuestionsFile, log.Logger); err != nil {
			log.Error("failed to seed question bank", "error", err)
			os.Exit(1)
		}
	}

	authService := auth.NewService(&auth.Config{
		JWTSecret:   []byte(cfg.JWTSecret),
		TokenExpiry: cfg.JWTExpiry,
	}, log.Logger)

	agentClient := agent.NewHTTPClient(&agent.Config{
		Port:         cfg.Nodes.AgentPort,
		Timeout:      cfg.Nodes.AgentTimeout,
		Retries:      cfg.Nodes.AgentRetries,
		RetryBackoff: cfg.Nodes.AgentRetryBackoff,
	}, log.Logger)

	registryService := registry.NewService(&registry.Config{
		FreshnessWindow:  cfg.Nodes.FreshnessWindow,
		DefaultMemoryMB:  cfg.Containers.DefaultMemoryMB,
		DefaultCPUCores:  cfg.Containers.DefaultCPUCores,
		DefaultStorageGB: cfg.Containers.DefaultStorageGB,
	}, store, log.Logger)

	gateService := gate.NewService(&gate.Config{
		QuestionCount: cfg.Gate.QuestionCount,
	}, store, nil, log.Logger)

	resolver := subdomains.NewResolver(store)

	lifecycleService := lifecycle.NewService(&lifecycle.Config{
		FreshnessWindow:  cfg.Nodes.FreshnessWindow,
		DefaultMemoryMB:  cfg.Containers.DefaultMemoryMB,
		DefaultCPUCores:  cfg.Containers.DefaultCPUCores,
		DefaultStorageGB: cfg.Containers.DefaultStorageGB,
		MaxPortsPerUser:  cfg.Containers.MaxPortsPerUser,
	}, store, agentClient, resolver, log.Logger)

	subdomainService := subdomains.NewService(store, resolver, cfg.PlatformDomain, log.Logger)
	credentialService := credentials.NewService(store, agentClient, log.Logger)

	var exporterService *exporter.Service
	if cfg.Exports.Endpoint != "" {
		objects, err := exporter.NewS3Store(exporter.S3Config{
			Endpoint:        cfg.Exports.Endpoint,
			AccessKeyID:     cfg.Exports.AccessKeyID,
			SecretAccessKey: cfg.Exports.SecretAccessKey,
			Bucket:          cfg.Exports.Bucket,
			UseSSL:          cfg.Exports.UseSSL,
		})
		if err != nil {
			log.Error("failed to initialize object storage", "error", err)
			os.Exit(1)
		}
		exporterService = exporter.NewService(exporter.Config{
			UploadURLExpiry: cfg.Exports.UploadURLExpiry,
		}, store, agentClient, objects, log.Logger)
	} else {
		log.Warn("object storage not configured, filesystem exports disabled")
	}

	server := api.NewServer(cfg, store, api.Services{
		Auth:        authService,
		Registry:    registryService,
		Gate:        gateService,
		Lifecycle:   lifecycleService,
		Subdomains:  subdomainService,
		Resolver:    resolver,
		Credentials: credentialService,
		Exporter:    exporterService,
	}, log.Logger)

	sweeper := cleanup.NewService(&cleanup.Config{
		Interval: cfg.Cleanup.Interval,
		StaleAge: cfg.Cleanup.StaleAge,
	}, store, lifecycleService, log.Logger)
	go sweeper.Run(ctx)

	serverStopped := make(chan struct{})
	go func() {
		if err := server.Start(ctx); err != nil {
			log.Error("server error", "error", err)
		}
		close(serverStopped)
		coordinator.Shutdown()
	}()

	coordinator.Register(shutdown.NewFuncComponent("api-server", func(shCtx context.Context) error {
		cancel()
		select {
		case <-serverStopped:
			return nil
		case <-shCtx.Done():
			return shCtx.Err()
		}
	}))

	log.Info("starting API server",
		"host", cfg.APIHost,
		"port", cfg.APIPort,
		"domain", cfg.PlatformDomain,
	)

	go coordinator.WaitForSignal()
	coordinator.Wait()
	log.Info("server stopped")
	os.Exit(coordinator.ExitCode())
}
