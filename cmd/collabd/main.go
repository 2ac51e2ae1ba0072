// Command collabd runs one node of the real-time todo-list collaboration
// service (spec.md §1): the WebSocket event dispatcher, the three-tier
// cache, and the write-behind persistence worker described by every other
// package in this module. Wiring order follows the teacher's cmd/main.go
// -> internal/server.NewServer flow, generalized from a single price-feed
// server into the full C1-C11 component graph.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "go.uber.org/automaxprocs"

	"github.com/collabtodo/collabd/internal/auth"
	"github.com/collabtodo/collabd/internal/cache"
	"github.com/collabtodo/collabd/internal/config"
	"github.com/collabtodo/collabd/internal/coordinator"
	"github.com/collabtodo/collabd/internal/events"
	"github.com/collabtodo/collabd/internal/logging"
	"github.com/collabtodo/collabd/internal/metrics"
	"github.com/collabtodo/collabd/internal/pubsub"
	"github.com/collabtodo/collabd/internal/repository"
	"github.com/collabtodo/collabd/internal/store"
	"github.com/collabtodo/collabd/internal/transport"
	"github.com/collabtodo/collabd/internal/writebehind"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "collabd: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{Debug: cfg.Debug, Env: cfg.Env})
	logger.Info().Msg("starting collabd")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- durable store (L3, C1) ---
	repo, err := repository.Open(cfg.DurableStoreURL, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect durable store")
	}
	defer repo.Close()

	// --- shared store (L2, C2) ---
	l2, err := store.Open(ctx, cfg.SharedStoreURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect shared store")
	}
	defer l2.Close()

	// --- fan-out bus (C5) ---
	bus, err := pubsub.Connect(pubsub.DefaultConfig(cfg.NATSURL, cfg.PubSubChannel), logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect fan-out bus")
	}

	// --- metrics (C11) ---
	m := metrics.New()
	m.SetBusConnected(bus.IsConnected())
	collector := metrics.NewCollector(m, 5*time.Second)
	collectorDone := make(chan struct{})
	go collector.Run(collectorDone)
	defer close(collectorDone)

	// --- write-behind worker (C6) ---
	writer := writebehind.New(repo, cfg.WriterQueueSize, cfg.WriterShutdownDrainSeconds, logger)
	writerCtx, writerCancel := context.WithCancel(context.Background())
	writer.Start(writerCtx)

	// --- process-local cache + dispatch (C4, C10) ---
	l1 := cache.NewStore()
	coord := coordinator.New(l1, l2, repo, bus, writer, logger)
	dispatcher := events.NewDispatcher(coord, repo, logger)

	jwt := auth.NewJWTManager(cfg.AuthSecret, cfg.AuthTokenDuration)

	hub := transport.NewHub(l1, dispatcher, m, cfg.MaxConnections, logger)

	// --- C5 listener loop: apply + fan out every mutation this node
	// didn't originate itself as well as ones it did (spec.md §4.6). ---
	go func() {
		if err := bus.Listen(hub.HandleMutation); err != nil {
			logger.Error().Err(err).Msg("fan-out bus listener exited")
		}
	}()

	srv := transport.NewServer(transport.Config{
		Addr:        addr(cfg.Host, cfg.Port),
		RequireAuth: true,
		CORSOrigins: cfg.CORSOrigins,
	}, hub, bus, writer, jwt, m, collector, logger)

	go func() {
		if err := srv.Serve(); err != nil {
			logger.Error().Err(err).Msg("http server exited")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	// Reverse order of startup: stop accepting connections, stop the
	// fan-out listener, drain the write-behind queue, then close stores.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown")
	}

	bus.Close()

	writerCancel()
	writer.Wait()

	logger.Info().Msg("collabd stopped")
}

func addr(host string, port int) string {
	if host == "" {
		host = "0.0.0.0"
	}
	return fmt.Sprintf("%s:%d", host, port)
}
