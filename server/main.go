package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/hiveci/hive/server/flags"
	"github.com/hiveci/hive/server/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

var dataRoot string
var secret []byte

// Global context for shutdown cascading. When cancel() is called (from the
// signal handler), all goroutines watching ctx.Done() begin their shutdown
// sequence.
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the two main goroutines: scheduler and HTTP server. main()
// blocks on wg.Wait() and only exits when both are done.
var wg sync.WaitGroup

func main() {
	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Hive server starting up...", "version", version, "commit", commit)

	if err := loadSecret(); err != nil {
		log.Error("Invalid secret", "error", err)
		os.Exit(1)
	}

	// Create data directory
	dataRoot = viper.GetString(flags.ServerData)
	if err := os.MkdirAll(dataRoot, 0755); err != nil {
		log.Error("Failed to create data directory", "error", err)
		os.Exit(1)
	}

	// Setup signal handling for graceful shutdown
	setupInterrupts()

	// Setup scheduler
	if err := createScheduler(); err != nil {
		log.Error("Failed to create scheduler", "error", err)
		os.Exit(1)
	}

	// Scheduler goroutine: Run() blocks in its event loop until Shutdown()
	// is called. A companion goroutine waits for ctx cancellation, then
	// orchestrates a graceful stop.
	wg.Add(1)
	go scheduler.Run()
	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		scheduler.Wait()
		wg.Done()
	}()

	// listenEvents consumes the scheduler event stream for operational
	// logging. It exits when its subscription is canceled at shutdown.
	channel, unsubscribe := scheduler.Subscribe()
	defer unsubscribe()
	go listenEvents(channel)

	// Artifact retention sweep: once at startup, then daily.
	go func() {
		retention := viper.GetDuration(flags.ArtifactRetention)
		for {
			cleanupOldArtifacts(dataRoot, retention)
			select {
			case <-ctx.Done():
				return
			case <-time.After(24 * time.Hour):
			}
		}
	}()

	// HTTP server goroutine. A nested goroutine watches for shutdown and
	// calls Shutdown(), which stops accepting new connections and waits for
	// in-flight requests to complete.
	httpServer := &http.Server{
		Addr:    viper.GetString(flags.Listen),
		Handler: newRouter(),
	}
	wg.Add(1)
	go func() {
		go func() {
			<-ctx.Done()
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				log.Warn("HTTP shutdown did not complete cleanly", "error", err)
			}
		}()

		log.Info("Server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Failed to serve", "error", err)
			os.Exit(1)
		}
		wg.Done()
	}()

	// Block until both scheduler and HTTP server goroutines have finished.
	wg.Wait()
	log.Info("Shutdown completed. Bye!")
}

func loadSecret() error {
	s := viper.GetString(flags.Secret)
	if len(s) < 8 {
		return fmt.Errorf("secret must be at least 8 characters long")
	}
	secret = []byte(s)
	return nil
}

// setupInterrupts handles Ctrl+C (SIGINT) with a double-tap pattern:
// - First signal: calls cancel() which cascades shutdown through ctx.Done()
// - Second signal: forces immediate exit (in case graceful shutdown hangs)
func setupInterrupts() {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel()
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
