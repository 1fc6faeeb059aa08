package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gammadia/warden/server/flags"
	"github.com/gammadia/warden/server/log"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Versioning information set at build time
var version, commit = "dev", "n/a"

// Global context for shutdown cascading. When cancel() is called (from the
// signal handler), all goroutines watching ctx.Done() begin their shutdown
// sequence.
var ctx, cancel = context.WithCancel(context.Background())

// wg tracks the two main goroutines: fleet driver and HTTP server.
// main() blocks on wg.Wait() and only exits when both are done.
var wg sync.WaitGroup

func main() {
	// Setup logger first as this will be used to report progress of the rest of the setup
	if err := log.Init(); err != nil {
		lo.Must(fmt.Fprintln(os.Stderr, err))
		os.Exit(1)
	}
	log.Info("Warden server starting up...", "version", version, "commit", commit)
	serverStatus.StartedAt = time.Now()

	// Setup signal handling for graceful shutdown
	setupInterrupts()

	// Setup fleet: provider, registry, controller, retention, driver
	if err := createFleet(); err != nil {
		log.Error("Failed to create fleet", "error", err)
		os.Exit(1)
	}

	// Driver goroutine: Run() blocks in its tick loop until Stop() is called.
	// A companion goroutine waits for ctx cancellation, then orchestrates a
	// graceful shutdown: Stop() ends the loop, controller.Wait() blocks until
	// in-flight launches settle, then the provider is released.
	wg.Add(1)
	go driver.Run()
	go func() {
		<-ctx.Done()       // triggered by cancel() in signal handler
		driver.Stop()      // closes the driver's stop channel → Run() returns
		controller.Wait()  // blocks until all pending launches finish
		controller.Drain() // terminates remaining nodes, draining the provider's WaitGroup
		provider.Shutdown()
		provider.Wait()
		wg.Done()
	}()

	// listenEvents consumes controller events to keep serverStatus current
	// for the admin API handlers.
	channel, unsubscribe := controller.Subscribe()
	defer unsubscribe()
	go listenEvents(channel)

	// HTTP server goroutine. A nested goroutine watches for shutdown and
	// calls Shutdown(), which stops accepting new connections and waits for
	// in-flight requests to complete. Then ListenAndServe() returns and
	// wg.Done() unblocks main.
	httpServer := &http.Server{
		Addr:    viper.GetString(flags.Listen),
		Handler: newRouter(),
	}
	wg.Add(1)
	go func() {
		go func() {
			<-ctx.Done() // triggered by cancel() in signal handler
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()

		log.Info("Server listening", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Failed to serve", "error", err)
			os.Exit(1)
		}
		wg.Done()
	}()

	// Block until both the driver and the HTTP server goroutines have finished.
	wg.Wait()
	log.Info("Shutdown completed. Bye!")
}

// setupInterrupts handles Ctrl+C (SIGINT) with a double-tap pattern:
// - First signal: calls cancel() which cascades shutdown through ctx.Done() to all goroutines
// - Second signal: forces immediate exit (in case graceful shutdown hangs)
func setupInterrupts() {
	sig := make(chan os.Signal, 1) // buffered: won't miss a signal while processing
	signal.Notify(sig, os.Interrupt)

	go func() {
		<-sig
		log.Info("Shutdown signal received, attempting graceful shutdown")
		cancel() // triggers ctx.Done() everywhere
		<-sig
		log.Warn("Second shutdown signal received, forcing exit")
		os.Exit(1)
	}()
}
