package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/ringside/backend/internal/api"
	"github.com/ringside/backend/internal/audit"
	"github.com/ringside/backend/internal/bus"
	"github.com/ringside/backend/internal/clock"
	"github.com/ringside/backend/internal/config"
	"github.com/ringside/backend/internal/harmonizer"
	"github.com/ringside/backend/internal/metrics"
	"github.com/ringside/backend/internal/results"
	"github.com/ringside/backend/internal/rounds"
	"github.com/ringside/backend/internal/scoring"
	"github.com/ringside/backend/internal/webhooks"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is optional; Cloud Run injects real env vars.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}
	cfg.FromEnv()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
	slog.Info("starting scoring backend",
		"env", cfg.Server.Env,
		"storage_driver", cfg.Storage.Driver,
		"port", cfg.Server.Port)

	clk := clock.NewSystemClock()
	meters := metrics.NewMetrics()

	// Scoring profile: the promotion may override the default weights.
	profile, err := scoring.LoadProfile(cfg.Scoring.ProfilePath)
	if err != nil {
		log.Fatalf("Failed to load scoring profile: %v", err)
	}

	// Storage
	var (
		roundStore rounds.Store
		auditStore audit.Store
	)
	switch cfg.Storage.Driver {
	case "postgres":
		pg, err := rounds.NewPostgresStore(cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect round store: %v", err)
		}
		defer pg.Close()
		if err := pg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to prepare round schema: %v", err)
		}

		apg, err := audit.NewPostgresStore(cfg.Storage.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect audit store: %v", err)
		}
		defer apg.Close()
		if err := apg.EnsureSchema(context.Background()); err != nil {
			log.Fatalf("Failed to prepare audit schema: %v", err)
		}
		roundStore, auditStore = pg, apg
	default:
		slog.Warn("using in-memory storage, state is lost on restart")
		roundStore, auditStore = rounds.NewInMemoryStore(), audit.NewInMemoryStore()
	}

	// Spanner audit archive (optional, layered over the primary store).
	if cfg.Storage.SpannerDatabase != "" {
		spannerStore, err := audit.NewSpannerStore(context.Background(), cfg.Storage.SpannerDatabase)
		if err != nil {
			log.Fatalf("Failed to connect Spanner audit archive: %v", err)
		}
		defer spannerStore.Close()
		auditStore = audit.NewTeeStore(auditStore, spannerStore)
		slog.Info("audit archive enabled", "spanner", cfg.Storage.SpannerDatabase)
	}

	auditLog := audit.NewLog(auditStore, clk, meters)
	b := bus.NewBus(cfg.Bus.SubscriberBuffer, clk, meters)
	coordinator := config.NewCoordinator(&cfg.Calibration, nil)

	// Calibration changes fan out to every connected console.
	coordinator.OnUpdate(func(cal config.Calibration) {
		b.Publish(bus.TopicConfigUpdates, &bus.Message{
			Type: "calibration_update",
			Data: map[string]interface{}{
				"version":     cal.Version,
				"modified_by": cal.ModifiedBy,
			},
		})
		if _, err := auditLog.Record(context.Background(), "", "",
			audit.ActionConfigChanged, cal.ModifiedBy, map[string]interface{}{
				"version": cal.Version,
			}); err != nil {
			slog.Error("failed to audit calibration change", "error", err)
		}
	})

	// Redis: verdict cache plus the cross-pod bus bridge.
	var cache *rounds.VerdictCache
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		cache = rounds.NewVerdictCache(rdb)

		if cfg.Redis.EnableBridge {
			bridge := bus.NewRedisBridge(rdb, b)
			if err := bridge.Start(context.Background()); err != nil {
				log.Fatalf("Failed to start Redis bridge: %v", err)
			}
			defer bridge.Close()
		}
	}

	// Pub/Sub bridge for durable downstream delivery.
	if cfg.GCP.ProjectID != "" && cfg.GCP.PubSubTopic != "" {
		psBridge, err := bus.NewPubSubBridge(cfg.GCP.ProjectID, cfg.GCP.PubSubTopic, b)
		if err != nil {
			log.Fatalf("Failed to connect Pub/Sub bridge: %v", err)
		}
		psBridge.Start()
		defer psBridge.Close()
	}

	// Results mirror for the commission portal.
	var mirror rounds.ResultsMirror
	if cfg.Supabase.URL != "" {
		sm, err := results.NewSupabaseMirror()
		if err != nil {
			slog.Warn("results mirror disabled", "error", err)
		} else {
			mirror = sm
		}
	}

	manager := rounds.NewManager(rounds.ManagerDeps{
		Store:       roundStore,
		Audit:       auditLog,
		Bus:         b,
		Harmonizer:  harmonizer.New(),
		Coordinator: coordinator,
		Engine:      scoring.NewEngine(profile),
		Clock:       clk,
		Timers:      clock.NewTimerRegistry(clk),
		Validation:  cfg.Validation,
		Cache:       cache,
		Mirror:      mirror,
		Meters:      meters,
	})
	defer manager.Close()

	// Webhooks: Cloud Tasks when configured, in-process workers otherwise.
	registry := webhooks.NewRegistry()
	var emitter webhooks.WebhookEmitter
	if cfg.GCP.ProjectID != "" && cfg.GCP.TasksQueue != "" {
		cd, err := webhooks.NewCloudDispatcher(registry,
			cfg.GCP.ProjectID, cfg.GCP.TasksLocation, cfg.GCP.TasksQueue,
			cfg.Webhooks.Workers)
		if err != nil {
			log.Fatalf("Failed to connect Cloud Tasks dispatcher: %v", err)
		}
		emitter = cd
	} else {
		emitter = webhooks.NewDispatcher(registry, cfg.Webhooks.Workers)
	}
	bridge := webhooks.NewBusBridge(b, emitter)
	defer func() {
		bridge.Stop()
		emitter.Shutdown()
	}()

	server := api.NewServer(api.ServerDeps{
		Manager:     manager,
		Store:       roundStore,
		Audit:       auditLog,
		Bus:         b,
		Coordinator: coordinator,
		Webhooks:    registry,
	})

	// Cloud Run sends SIGTERM on scale-down.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		slog.Info("shutdown signal received, draining")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	port, err := strconv.Atoi(cfg.Server.Port)
	if err != nil {
		port = 8080
	}
	if err := server.Start(port); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
	slog.Info("server stopped")
}
