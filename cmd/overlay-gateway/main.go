// Overlay gateway: bridges the scoring bus onto Socket.IO for broadcast
// graphics packages. Overlay clients join a room per bout and receive
// score updates and lifecycle transitions as they happen; the gateway is
// read-only and holds no scoring state, so any number of replicas can run
// behind a load balancer as long as they share the Redis bus bridge.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	socketio "github.com/googollee/go-socket.io"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	port := flag.String("port", "8090", "listen port")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	cfg.FromEnv()
	if p := os.Getenv("OVERLAY_PORT"); p != "" {
		*port = p
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if cfg.Redis.Addr == "" {
		log.Fatal("REDIS_ADDR is required: the gateway receives events over the Redis bus bridge")
	}

	b := bus.NewBus(cfg.Bus.SubscriberBuffer, clock.NewSystemClock(), nil)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	bridge := bus.NewRedisBridge(rdb, b)
	if err := bridge.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start Redis bridge: %v", err)
	}
	defer bridge.Close()

	server := socketio.NewServer(nil)

	server.OnConnect("/", func(s socketio.Conn) error {
		s.SetContext("")
		slog.Info("overlay client connected", "sid", s.ID(), "remote", s.RemoteAddr().String())
		return nil
	})

	// Overlays follow one bout at a time. Switching bouts between fights
	// is a leave + join, so a client never straddles two rooms.
	server.OnEvent("/", "join_bout", func(s socketio.Conn, boutID string) {
		if prev, ok := s.Context().(string); ok && prev != "" {
			s.Leave(roomFor(prev))
		}
		s.SetContext(boutID)
		s.Join(roomFor(boutID))
		s.Emit("joined", boutID)
		slog.Info("overlay joined bout", "sid", s.ID(), "bout_id", boutID)
	})

	server.OnEvent("/", "leave_bout", func(s socketio.Conn, boutID string) {
		s.Leave(roomFor(boutID))
		s.SetContext("")
	})

	server.OnError("/", func(s socketio.Conn, err error) {
		slog.Warn("socket.io error", "error", err)
	})

	server.OnDisconnect("/", func(s socketio.Conn, reason string) {
		slog.Info("overlay client disconnected", "sid", s.ID(), "reason", reason)
	})

	go func() {
		if err := server.Serve(); err != nil {
			slog.Error("socket.io serve error", "error", err)
		}
	}()
	defer server.Close()

	// Fan every bus message out to its bout room. Calibration changes
	// have no bout and go to the whole namespace.
	sub := b.SubscribeAll()
	go func() {
		for msg := range sub.C {
			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Error("failed to encode bus message", "error", err)
				continue
			}
			if msg.BoutID == "" {
				server.BroadcastToNamespace("/", string(msg.Topic), string(payload))
				continue
			}
			server.BroadcastToRoom("/", roomFor(msg.BoutID), string(msg.Topic), string(payload))
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/socket.io/", server)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"service": "overlay-gateway",
			"clients": server.Count(),
		})
	})

	httpServer := &http.Server{
		Addr:         ":" + *port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received")
		b.Unsubscribe(sub)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
	}()

	slog.Info("🚀 overlay gateway listening", "port", *port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Gateway failed: %v", err)
	}
}

func roomFor(boutID string) string {
	return "bout:" + boutID
}
