package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/vrc-chatbox/bridge/internal/config"
	"github.com/vrc-chatbox/bridge/internal/realtime"
	"github.com/vrc-chatbox/bridge/internal/vrc"
	"github.com/vrc-chatbox/bridge/internal/ws"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	port := flag.Int("port", 0, "Override server port")
	listen := flag.Bool("listen", false, "Start the OSC listener immediately")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if *port > 0 {
		cfg.Server.Port = *port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broadcaster := ws.NewBroadcaster()
	listener := vrc.NewListener(cfg.OSC.ListenPort, broadcaster)
	manager := realtime.NewManager(cfg.Realtime.URLTemplate, broadcaster)

	if *listen {
		listener.Start(ctx)
	}

	server := ws.NewServer(ctx, cfg, broadcaster, listener, manager)
	mux := http.NewServeMux()
	server.SetupRoutes(mux)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		cancel()
		os.Exit(0)
	}()

	if err := ws.ListenAndServe(cfg.Server.Host, cfg.Server.Port, mux); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
