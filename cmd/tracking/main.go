package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/mail-tracker/internal/app"
	"github.com/ignite/mail-tracker/internal/config"
	"github.com/ignite/mail-tracker/internal/tracking"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRACKER_CONFIG"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	handler, err := a.Handler()
	if err != nil {
		log.Fatalf("handler: %v", err)
	}

	var consumer *tracking.Consumer
	if queueURL := cfg.Notifications.SQSQueueURL; queueURL != "" {
		sqsClient, err := a.SQS(ctx)
		if err != nil {
			log.Fatalf("sqs: %v", err)
		}
		consumer = tracking.NewConsumer(sqsClient, queueURL, a.Tracker)
		consumer.Start(ctx)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      handler.Routes(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Printf("tracking service listening on %s (base url %s)", srv.Addr, cfg.Server.BaseURL)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down tracking service...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	if consumer != nil {
		cancel()
		consumer.Stop()
	}
}
