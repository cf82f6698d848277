package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"alttext/internal/config"
	"alttext/internal/core/fetch"
	"alttext/internal/core/generate"
	"alttext/internal/core/job"
	"alttext/internal/core/scan"
	"alttext/internal/logger"
	"alttext/internal/platform/eino"
	"alttext/internal/platform/quota"
	rds "alttext/internal/platform/redis"
	tasks "alttext/internal/platform/tasks"
	"alttext/internal/server"
	"alttext/internal/worker"
)

func main() {
	cfg := config.Load()
	log.Printf("[alttext] starting at %s (env=%s)\n", cfg.HTTPAddr, cfg.AppEnv)

	logr := logger.New("main")

	redisSvc, err := rds.New(rds.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer redisSvc.Close()

	taskClient := tasks.New(redisSvc)
	asynqServer := asynq.NewServer(redisSvc.AsynqRedisOpt(), asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})

	jobSvc := job.NewService(redisSvc)

	// Vision fallback chain: one captioner per configured model, tried in
	// order until one answers.
	einoSvc, err := eino.NewService(eino.Config{APIKey: cfg.GeminiAPIKey})
	if err != nil {
		log.Fatalf("failed to initialize vision service: %v", err)
	}
	var providers []generate.Provider
	for _, modelID := range cfg.VisionModels {
		captioner, err := einoSvc.NewCaptioner(context.Background(), modelID)
		if err != nil {
			log.Fatalf("failed to initialize captioner %s: %v", modelID, err)
		}
		providers = append(providers, captioner)
	}

	quotaSvc := quota.New(redisSvc, quota.Limits{
		Free: cfg.FreeTierMonthlyLimit,
		Pro:  cfg.ProTierMonthlyLimit,
	})

	fetcher := fetch.New(fetch.Options{
		Timeout:        cfg.FetchTimeout,
		MaxBodyBytes:   cfg.MaxBodyBytes,
		MaxImageBytes:  cfg.MaxImageBytes,
		RequestsPerSec: cfg.FetchPerSec,
	})

	generateSvc := generate.NewService(providers, quotaSvc, fetcher, redisSvc, generate.Options{
		Workers:        cfg.GenerateWorkers,
		AttemptTimeout: cfg.GenerateTimeout,
	})

	scanSvc := scan.NewService(jobSvc, taskClient, fetcher, generateSvc, cfg)

	mux := worker.NewMux(scanSvc.HandleScanTask)

	go func() {
		if err := asynqServer.Start(mux); err != nil {
			log.Printf("[worker] stopped: %v\n", err)
		}
	}()

	app := fiber.New(fiber.Config{
		AppName: "AltText Engine",
		JSONEncoder: func(v interface{}) ([]byte, error) {
			var buf bytes.Buffer
			encoder := json.NewEncoder(&buf)
			encoder.SetEscapeHTML(false)
			if err := encoder.Encode(v); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	})

	deps := server.Dependencies{
		Jobs:  jobSvc,
		Scan:  scanSvc,
		Redis: redisSvc,
	}
	healthHandler := server.RegisterRoutes(app, deps)

	go func() {
		time.Sleep(2 * time.Second)
		healthHandler.SetReady()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-shutdown
		logr.LogInfo("Shutting down...")
		asynqServer.Shutdown()
		_ = app.ShutdownWithTimeout(5 * time.Second)
	}()

	if err := app.Listen(cfg.HTTPAddr); err != nil {
		log.Fatalf("server listen: %v", err)
	}
}
