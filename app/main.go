package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// main starts the messaging client daemon: the realtime session plus a local
// ops server exposing health and metrics.
func main() {
	container, err := NewContainer()
	if err != nil {
		log.Fatal(err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Start(ctx); err != nil {
		container.Logger.Error("session start failed", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Ops server is starting on http://localhost%s\n", container.Server.Addr)
		if err := container.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-quit
	log.Println("Shutting down client...")

	if container.CallService.Busy() {
		// Mirrors the page-unload guard: never drop an in-progress call
		// without telling the peer.
		container.Logger.Warn("shutting down with an active call, ending it")
		if err := container.CallService.End(context.Background()); err != nil {
			container.Logger.Error("failed to end active call", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := container.Server.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Ops server forced to shutdown:", err)
	}

	if err := container.Close(); err != nil {
		container.Logger.Error("shutdown error", "error", err)
	}

	log.Println("Client exiting")
}
