// Package main starts the identity service process lifecycle.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/tessera-id/tessera/internal/app"
	"github.com/tessera-id/tessera/internal/platform/config"
)

func main() {
	var cfg app.Config
	if err := config.ParseEnv(&cfg); err != nil {
		config.Exitf("parse config: %v", err)
	}
	log.SetPrefix("[TESSERA] ")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
