// Command mockworker starts a fake TitaniumScale worker for local testing.
// Usage: go run ./cmd/mockworker [port]
// Default port: 9999. MOCKWORKER_TOKEN sets the required API token.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/raysh454/tiscale/internal/logging"
	"github.com/raysh454/tiscale/internal/mockworker"
)

func main() {
	cfg := mockworker.DefaultConfig()

	// Optional: custom port from command line
	if len(os.Args) > 1 {
		port, err := strconv.Atoi(os.Args[1])
		if err != nil || port < 1 || port > 65535 {
			log.Fatalf("Invalid port: %s", os.Args[1])
		}
		cfg.Port = port
	}
	cfg.Token = os.Getenv("MOCKWORKER_TOKEN")
	cfg.Logger = logging.NewStdoutLogger("mockworker")

	fmt.Println("===========================================")
	fmt.Println("   TitaniumScale mock worker")
	fmt.Println("===========================================")
	fmt.Printf("listening on http://localhost:%d\n", cfg.Port)
	fmt.Printf("tasks finish after %d status polls\n", cfg.PollsUntilDone)
	fmt.Println()

	srv := mockworker.New(cfg).HTTPServer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server error: %v", err)
	}
}
