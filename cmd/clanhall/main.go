package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"clanhall/src/lib"
	"clanhall/src/relay"
)

func main() {
	cfg, err := lib.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server, err := relay.NewServer(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap server: %v", err)
	}

	if err := server.Run(ctx); err != nil {
		log.Fatalf("server exited with error: %v", err)
	}
}
