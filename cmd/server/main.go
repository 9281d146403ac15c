package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/mama165/sdk-go/logs"

	"github.com/Tyrowin/nexus-realtime/internal/presence"
	"github.com/Tyrowin/nexus-realtime/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	config, err := server.LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opts []server.Option
	if config.RedisURL != "" {
		client, err := presence.NewRedisClient(ctx, config.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("Closing Redis client")
			_ = client.Close()
		}()

		store := presence.NewRedisStore(client)
		if err := store.Reset(ctx); err != nil {
			return err
		}
		opts = append(opts, server.WithPresenceStore(store))
		log.Info("Mirroring presence to Redis")
	}

	gateway := server.NewGateway(config, log, opts...)
	go gateway.Run()

	httpServer := server.CreateServer(config.Port, gateway.Routes())

	errChan := make(chan error, 1)
	go func() {
		if err := server.StartServer(httpServer, log); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		_ = gateway.Shutdown(config.ShutdownTimeout)
		return err
	}

	if err := server.ShutdownServer(httpServer, config.ShutdownTimeout, log); err != nil {
		log.Warn("HTTP server did not shut down cleanly", "error", err)
	}
	if err := gateway.Shutdown(config.ShutdownTimeout); err != nil {
		log.Warn("Gateway did not shut down cleanly", "error", err)
	}
	log.Info("Server stopped cleanly")
	return nil
}
