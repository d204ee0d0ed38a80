package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docport/docport/internal/api"
	"github.com/docport/docport/internal/artifacts"
	"github.com/docport/docport/internal/auth"
	"github.com/docport/docport/internal/build"
	"github.com/docport/docport/internal/config"
	"github.com/docport/docport/internal/events"
	"github.com/docport/docport/internal/launch"
	"github.com/docport/docport/internal/podman"
	"github.com/docport/docport/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx := context.Background()

	podmanClient, err := podman.NewClient()
	if err != nil {
		log.Fatalf("failed to initialize podman: %v", err)
	}
	version, err := podmanClient.Version(ctx)
	if err != nil {
		log.Fatalf("failed to get podman version: %v", err)
	}
	log.Printf("docport: using podman %s", version)

	st, err := store.Open(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()
	log.Printf("docport: SQLite data directory: %s", cfg.DataDir)

	// Build log archive (if configured)
	var logStore *artifacts.LogStore
	if cfg.S3Bucket != "" {
		logStore, err = artifacts.NewLogStore(artifacts.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
		if err != nil {
			log.Printf("docport: failed to initialize log archive: %v (continuing without)", err)
			logStore = nil
		} else {
			log.Printf("docport: S3 log archive configured (bucket=%s, region=%s)", cfg.S3Bucket, cfg.S3Region)
		}
	}

	// Remote registry for pushes (if configured)
	var registry *build.RegistryConfig
	if cfg.Registry != "" {
		registry = &build.RegistryConfig{
			Registry:   cfg.Registry,
			Repository: cfg.RegistryRepository,
			Username:   cfg.RegistryUsername,
			Password:   cfg.RegistryPassword,
		}
		log.Printf("docport: registry configured (registry=%s, repo=%s)", cfg.Registry, cfg.RegistryRepository)
	}

	builder := build.NewBuilder(podmanClient, st, logStore, registry)
	launcher := launch.NewLauncher(podmanClient, st, launch.Options{
		StartupTimeout: time.Duration(cfg.StartupTimeoutSec) * time.Second,
		StopGrace:      time.Duration(cfg.StopGraceSec) * time.Second,
	})

	server := api.NewServer(builder, launcher, st, cfg.APIKey)
	if logStore != nil {
		server.SetLogArchive(logStore)
	}
	if cfg.JWTSecret != "" {
		server.SetLogStreaming(podmanClient, auth.NewJWTIssuer(cfg.JWTSecret))
		log.Println("docport: JWT log streaming configured")
	}

	// NATS event publisher (if configured)
	if cfg.NATSURL != "" {
		publisher, err := events.NewPublisher(cfg.NATSURL, st)
		if err != nil {
			log.Printf("docport: NATS publisher not available: %v (continuing without)", err)
		} else {
			publisher.Start()
			defer publisher.Stop()
			log.Println("docport: NATS event publisher started")
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Printf("docport: starting server on %s", addr)

	go func() {
		if err := server.Start(addr); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("docport: shutting down...")
	if err := server.Close(); err != nil {
		log.Printf("error closing server: %v", err)
	}
}
