// Command client serves only the web console, against whatever backend
// API_BASE_URL points at.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"github.com/phillip-england/distconsole/internal/config"
	"github.com/phillip-england/distconsole/internal/consoleapp"
	"github.com/phillip-england/distconsole/internal/envutil"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := envutil.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatal(err)
	}
	if err := consoleapp.Run(ctx, cfg, config.NewLogger(cfg, "console")); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}
