package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulse/chat-app/internal/auth"
	"github.com/pulse/chat-app/internal/bridge"
	"github.com/pulse/chat-app/internal/gateway"
	"github.com/pulse/chat-app/internal/live"
	"github.com/pulse/chat-app/internal/presence"
	"github.com/pulse/chat-app/internal/ratelimit"
	"github.com/pulse/chat-app/internal/registry"
	"github.com/pulse/chat-app/internal/rooms"
	"github.com/pulse/chat-app/internal/store"
	"github.com/pulse/chat-app/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("MAX_FRAME_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			config.MaxFrameSize = n
		}
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "live-1"
	}

	// --- PostgreSQL ---
	if path := os.Getenv("MIGRATIONS_PATH"); path != "" {
		if err := store.Migrate(databaseURL, path); err != nil {
			log.Fatalf("failed to run migrations: %v", err)
		}
		log.Printf("migrations applied from %s", path)
	}
	st, err := store.Open(databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to PostgreSQL: %v", err)
	}

	// --- Redis (rate limiting) ---
	redisAddr := "localhost:6379"
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		redisAddr = v
	}
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		log.Fatalf("failed to connect to Redis: %v", err)
	}
	pingCancel()
	limiter := ratelimit.NewLimiter(rdb)

	// --- NATS (optional cross-instance mirror) ---
	var (
		liveMirror live.Mirror     = bridge.Nop{}
		presMirror presence.Mirror = bridge.Nop{}
		natsBridge *bridge.Bridge
	)
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		bridgeConfig := bridge.DefaultConfig()
		bridgeConfig.URL = natsURL
		bridgeConfig.Name = "chat-live-" + serverName
		natsBridge, err = bridge.Connect(bridgeConfig, serverName)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		liveMirror = natsBridge
		presMirror = natsBridge
	}

	log.Printf("chat live server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  max_frame_size:  %d", config.MaxFrameSize)
	log.Printf("  redis_addr:      %s", redisAddr)
	log.Printf("  server_name:     %s", serverName)
	log.Printf("  nats_enabled:    %v", natsBridge != nil)

	gw := gateway.New(auth.NewJWTVerifier([]byte(jwtSecret)), st, gateway.DefaultAdmissionTimeout)

	dispatcher := ws.NewMessageDispatcher(nil)
	server := ws.NewServer(config, gw.Admit, dispatcher.Dispatch)
	dispatcher.SetServer(server)

	reg := registry.New()
	rms := rooms.New()
	tracker := presence.NewTracker(reg, st, server, presMirror)
	service := live.NewService(reg, rms, tracker, st, server, liveMirror, limiter)

	service.RegisterHandlers(dispatcher)
	server.SetOnConnect(service.HandleConnect)
	server.SetOnDisconnect(service.HandleDisconnect)

	if natsBridge != nil {
		if err := natsBridge.Start(service); err != nil {
			log.Fatalf("failed to start NATS bridge: %v", err)
		}
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if natsBridge != nil {
			natsBridge.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if err := rdb.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := st.Close(); err != nil {
			log.Printf("store close error: %v", err)
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
