package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/whisper/relay/internal/protocol"
	"github.com/whisper/relay/internal/ratelimit"
	"github.com/whisper/relay/internal/relay"
	"github.com/whisper/relay/internal/store"
	"github.com/whisper/relay/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if dir := os.Getenv("STATIC_DIR"); dir != "" {
		config.StaticDir = dir
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

	// --- Persistent store ---
	var st store.Store
	dsn := os.Getenv("DATABASE_URL")
	if dsn != "" {
		pg, err := store.OpenPostgres(dsn)
		if err != nil {
			log.Fatalf("failed to open postgres store: %v", err)
		}
		st = pg
	} else {
		log.Printf("DATABASE_URL not set, using in-memory store (history is lost on restart)")
		st = store.NewMemory()
	}

	// --- Redis rate limiter (optional) ---
	var limiter *ratelimit.Limiter
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			cancel()
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		cancel()
		limiter = ratelimit.NewLimiter(rdb)
	}

	log.Printf("relay server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  static_dir:      %s", config.StaticDir)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  store:           %s", storeKind(dsn))
	log.Printf("  redis_addr:      %s", orNone(redisAddr))

	dispatcher := ws.NewMessageDispatcher()
	server := ws.NewServer(config, dispatcher.Dispatch)
	router := relay.NewRouter(st, server)

	// Replay history and profiles to every newcomer before it goes live.
	server.SetOnConnect(func(conn *ws.Connection) error {
		return router.Onboard(conn.ID)
	})

	// Per-IP connect throttling when Redis is configured.
	if limiter != nil {
		server.SetConnectGate(func(r *http.Request) bool {
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			allowed, _ := limiter.Allow(ctx, host, ratelimit.RuleConnect)
			return allowed
		})
	}

	// -----------------------------------------------------------------------
	// chat — persist and broadcast to everyone, sender included
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeChat, func(conn *ws.Connection, msg interface{}, raw []byte) {
		chatMsg, ok := msg.(protocol.ChatMsg)
		if !ok {
			return
		}

		if limiter != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			allowed, _ := limiter.Allow(ctx, conn.ID, ratelimit.RuleMessage)
			cancel()
			if !allowed {
				resp, err := protocol.NewServerMessage(protocol.TypeError, protocol.ErrorMsg{
					Code:    "rate_limited",
					Message: "too many messages, slow down",
				})
				if err == nil {
					_ = conn.WriteMessage(resp)
				}
				return
			}
		}

		router.HandleChat(conn.ID, chatMsg, raw)
	})

	// -----------------------------------------------------------------------
	// typing / stop_typing — relay to everyone except the sender
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}, raw []byte) {
		router.HandleTyping(conn.ID, protocol.TypeTyping, raw)
	})
	dispatcher.Register(protocol.TypeStopTyping, func(conn *ws.Connection, msg interface{}, raw []byte) {
		router.HandleTyping(conn.ID, protocol.TypeStopTyping, raw)
	})

	// -----------------------------------------------------------------------
	// profile — upsert and broadcast profile_update to everyone
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeProfile, func(conn *ws.Connection, msg interface{}, raw []byte) {
		profileMsg, ok := msg.(protocol.ProfileMsg)
		if !ok {
			return
		}
		router.HandleProfile(conn.ID, profileMsg)
	})

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
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

func storeKind(dsn string) string {
	if dsn != "" {
		return "postgres"
	}
	return "memory"
}

func orNone(v string) string {
	if v == "" {
		return "(none)"
	}
	return v
}
