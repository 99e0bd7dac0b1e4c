// Command api runs the Command/Mutation API (spec.md §4.J): the HTTP
// surface hosts, managers, and automation callers use to create,
// update, and cancel sessions, plus the dashboard's websocket
// live-push endpoint.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/redis/go-redis/v9"

	"github.com/tableup/scheduler/internal/api"
	"github.com/tableup/scheduler/internal/api/auth"
	"github.com/tableup/scheduler/internal/broker"
	"github.com/tableup/scheduler/internal/chat"
	"github.com/tableup/scheduler/internal/config"
	"github.com/tableup/scheduler/internal/dashboard"
	"github.com/tableup/scheduler/internal/db"
	"github.com/tableup/scheduler/internal/logging"
	"github.com/tableup/scheduler/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init("tableup-api")
	if err != nil {
		log.Fatal(ctx, "api: telemetry init failed")
	}
	defer shutdownTelemetry(context.Background())

	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(ctx, "api: db connect failed")
	}
	defer database.Close()

	rateLimiterOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatal(ctx, "api: parse redis url for rate limiter failed")
	}
	rateLimiterClient := redis.NewClient(rateLimiterOpts)
	defer rateLimiterClient.Close()
	limiter := api.NewRateLimiter(rateLimiterClient, 60, 1)

	bkr, err := broker.Dial(ctx, cfg.BrokerURL)
	if err != nil {
		log.Fatal(ctx, "api: broker dial failed")
	}
	defer bkr.Close()

	jwtManager, err := auth.NewJWTManager(cfg.JWTRSAPrivateKey, cfg.JWTRSAPublicKey)
	if err != nil {
		log.Fatal(ctx, "api: jwt manager init failed")
	}

	// The Command API never opens a gateway connection of its own —
	// only resolves @mentions via tenant member search — so its
	// discordgo.Session is REST-only (never .Open()'d).
	discordSession, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal(ctx, "api: discord session init failed")
	}
	chatClient := chat.NewDiscordClient(discordSession, 5)

	const dashboardQueue = "tableup.dashboard"
	if err := bkr.DeclareConsumerQueue(dashboardQueue, "#"); err != nil {
		log.Fatal(ctx, "api: declare dashboard queue failed")
	}

	hub := dashboard.NewHub(log)
	go hub.Run(ctx)
	dashboardConsumer := dashboard.NewConsumer(database, bkr, hub, log)
	go func() {
		if err := dashboardConsumer.Run(ctx, dashboardQueue, "api-dashboard", cfg.BrokerPrefetch); err != nil {
			log.Error(ctx, "api: dashboard consumer stopped")
		}
	}()
	dashboardServer := dashboard.NewServer(hub, jwtManager, database, log)

	mux := http.NewServeMux()
	mux.Handle("/", api.NewRouter(database, bkr, chatClient, log, jwtManager, limiter))
	mux.HandleFunc("/v1/dashboard/ws", dashboardServer.ServeWS)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info(ctx, "api: listening on :"+cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(ctx, "api: server failed")
		}
	}()

	<-ctx.Done()
	log.Info(context.Background(), "api: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(shutdownCtx)
}
