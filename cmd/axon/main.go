// Command axon serves the coordination-hub engine over either the stream
// or HTTP+push transport (§6). Wiring follows cmd/cliaimonitor/main.go's
// shape — parse flags, open storage, start serving, wait for a shutdown
// signal, drain, exit — generalized from that program's dashboard/agent
// supervision to a single engine + dispatcher.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/axon-run/axon/internal/axonlog"
	"github.com/axon-run/axon/internal/config"
	"github.com/axon-run/axon/internal/engine"
	"github.com/axon-run/axon/internal/mcp"
	"github.com/axon-run/axon/internal/store"
)

// drainGrace is the default shutdown grace period from §5.
const drainGrace = 15 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin *os.File, stdout *os.File, stderr *os.File) int {
	cfg, err := config.Load(args)
	if err != nil {
		fmt.Fprintf(stderr, "axon: %v\n", err)
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "axon %s\n", config.Version)
		return 0
	}

	log := axonlog.New(stderr, cfg.LogLevel)

	s, closeStore, err := openStore(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("failed to open store")
		return 2
	}
	defer closeStore()

	eng := engine.New(s)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case "stream":
		return runStream(ctx, eng, log, stdin, stdout)
	case "http":
		return runHTTP(ctx, eng, log, cfg.ListenAddr)
	default:
		fmt.Fprintf(stderr, "axon: unknown transport %q\n", cfg.Transport)
		return 1
	}
}

// openStore opens a SQLite store at path, or an in-memory store when path
// is "memory://" — useful for local smoke-testing without a database file.
func openStore(path string) (store.Store, func(), error) {
	if strings.HasPrefix(path, "memory://") {
		m := store.NewMemoryStore()
		return m, func() {}, nil
	}
	s, err := store.Open(path, 10)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { s.Close() }, nil
}

func runStream(ctx context.Context, eng *engine.Engine, log zerolog.Logger, stdin *os.File, stdout *os.File) int {
	srv := mcp.NewStreamServerWithLogger(eng, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, stdin, stdout)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received, draining")
		select {
		case <-errCh:
		case <-time.After(drainGrace):
			log.Warn().Msg("drain grace period exceeded, exiting")
		}
		return 0
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("stream server exited")
			return 3
		}
		return 0
	}
}

func runHTTP(ctx context.Context, eng *engine.Engine, log zerolog.Logger, listenAddr string) int {
	httpServer := mcp.NewHTTPServer(eng, log, 0, 0)
	srv := &http.Server{
		Addr:    listenAddr,
		Handler: httpServer.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	log.Info().Str("addr", listenAddr).Msg("listening")

	select {
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed to start")
			return 3
		}
		return 0
	case <-ctx.Done():
	}

	log.Info().Msg("shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainGrace)
	defer cancel()

	httpServer.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("forced connection close after grace period")
	}
	return 0
}
