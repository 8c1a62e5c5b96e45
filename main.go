package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"tripsync/db"
	"tripsync/extract"
	"tripsync/globals"
	"tripsync/itinerary"
	"tripsync/live"
	"tripsync/mq"
	"tripsync/planner"
	"tripsync/ratelim"
	"tripsync/rdx"
	"tripsync/routes"
	"tripsync/store"
	"tripsync/stream"
	"tripsync/syncer"
)

// securityHeaders applies a set of recommended HTTP security headers.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request method, path, remote address, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s from %s - %v", r.Method, r.RequestURI, r.RemoteAddr, time.Since(start))
	})
}

// Index is a simple health check handler.
func Index(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	fmt.Fprint(w, "200")
}

type realtime interface {
	syncer.Channel
	mq.Publisher
}

func main() {
	cfg := globals.LoadConfig()
	ctx := context.Background()

	if err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDB); err != nil {
		log.Fatalf("❌ Mongo: %v", err)
	}

	var conn *redis.Client
	if cfg.StoreBackend == "redis" || cfg.RealtimeBackend == "redis" {
		c, err := rdx.Connect(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("❌ Redis: %v", err)
		}
		conn = c
	}

	var sessions store.Store
	var closeStore func()
	switch cfg.StoreBackend {
	case "bolt":
		b, err := store.OpenBolt(cfg.BoltPath)
		if err != nil {
			log.Fatalf("❌ Bolt: %v", err)
		}
		sessions, closeStore = b, func() { _ = b.Close() }
	case "redis":
		sessions = store.NewRedis(conn, "tripsync:", 7*24*time.Hour)
	default:
		sessions = store.NewMemory()
	}

	// row changes fan out in process, or across nodes through redis
	var rt realtime
	var stopRealtime func()
	if cfg.RealtimeBackend == "redis" {
		ch := mq.NewRedisChannel(conn)
		rt, stopRealtime = ch, ch.Close
	} else {
		hub := live.NewHub()
		go hub.Run()
		rt, stopRealtime = hub, hub.Stop
	}
	repo := mq.NewNotifier(db.NewItineraryStore(), rt)

	plans := planner.NewRegistry(planner.Config{
		Repo:      repo,
		Channel:   rt,
		Streamer:  stream.NewClient(cfg.ChatEndpoint, cfg.ChatAPIKey, cfg.ChatModel),
		Store:     sessions,
		Extract:   extract.Options{DefaultDestination: cfg.DefaultDestination},
		Debounce:  cfg.LocalDebounce,
		ShareBase: cfg.PublicBaseURL,
	})

	router := httprouter.New()
	router.GET("/health", Index)
	routes.AddPlanRoutes(router, &planner.Handlers{Plans: plans}, ratelim.NewRateLimiter(20, 5))
	routes.AddItineraryRoutes(router, &itinerary.Handlers{Repo: repo, ShareBase: cfg.PublicBaseURL})
	routes.AddLiveRoutes(router, &live.Server{
		Repo:      repo,
		Channel:   rt,
		Debounce:  cfg.CollabDebounce,
		ShareBase: cfg.PublicBaseURL,
	})

	// apply middleware: CORS → security headers → logging → router
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(router)

	server := &http.Server{
		Addr:              cfg.Port,
		Handler:           loggingMiddleware(securityHeaders(corsHandler)),
		ReadTimeout:       7 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		// no WriteTimeout: chat replies stream for as long as the model talks
	}

	server.RegisterOnShutdown(func() {
		log.Println("🛑 Closing planning sessions...")
		plans.Close()
		stopRealtime()
	})

	go func() {
		log.Printf("🚀 Server listening on %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ ListenAndServe error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("🛑 Shutdown signal received; shutting down gracefully...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("❌ Graceful shutdown failed: %v", err)
	}
	if closeStore != nil {
		closeStore()
	}
	db.Disconnect(shutdownCtx)
	rdx.Close()

	log.Println("✅ Server stopped cleanly")
}
