// Command callpiped runs the callpipe pipeline daemon directly, without
// the CLI wrapper. It loads configuration from the default location (or
// CALLPIPE_CONFIG) and blocks until terminated.
package main

import (
	"context"
	"errors"
	"log"
	"os"

	"callpipe/internal/config"
	"callpipe/internal/daemon"
)

func main() {
	path := os.Getenv("CALLPIPE_CONFIG")
	cfg, _, _, err := config.Load(path)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	if err := daemon.Run(context.Background(), cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("callpiped: %v", err)
	}
}
