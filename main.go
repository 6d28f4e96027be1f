package main

import (
	"log"
	"os"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"concierge/internal/agent"
	"concierge/internal/api"
	"concierge/internal/auth"
	"concierge/internal/cache"
	"concierge/internal/chat"
	"concierge/internal/config"
	"concierge/internal/control"
	"concierge/internal/credentials"
	"concierge/internal/docs"
	"concierge/internal/hub"
	"concierge/internal/logging"
	"concierge/internal/redis"
	"concierge/internal/storage"
	"concierge/internal/store"
	"concierge/internal/users"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONCIERGE_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logging.Init(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogPretty)
	logger := logging.With("main")

	dbType := os.Getenv("CONCIERGE_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// The cache is an accelerator; a missing redis degrades to direct reads
	// instead of refusing to start.
	rdb, err := redis.NewClient(cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, running without cache")
		rdb = nil
	} else {
		defer rdb.Close()
	}

	cacheTTL := time.Duration(cfg.BasicConfig.CacheTTLMinutes) * time.Minute
	var cacheStore cache.Store
	if rdb != nil {
		cacheStore = rdb
	}
	gw := store.New(db, cache.New(cacheStore, cacheTTL))

	runner, err := agent.NewRunner(cfg, gw)
	if err != nil {
		log.Fatalf("init agent runner: %v", err)
	}

	registry := control.NewRegistry()
	creds := credentials.NewResolver(db)
	sockets := hub.New()
	coordinator := chat.NewCoordinator(gw, chat.RunnerSource{Runner: runner}, registry, creds, runner.Titler(), sockets)

	ingestor, err := docs.NewIngestor(gw, runner.Embedder())
	if err != nil {
		log.Fatalf("init document ingestor: %v", err)
	}

	userSvc := users.NewService(db)
	authSvc := auth.NewService(db, rdb, 24*time.Hour)

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}

	handlers := api.NewHandler(userSvc, authSvc, gw, coordinator, creds, sockets, ingestor, fileBase, cfg.BasicConfig.FrontendOrigin)

	router := gin.New()
	router.Use(api.RequestLogger(), gin.Recovery())
	if origin := cfg.BasicConfig.FrontendOrigin; origin != "" {
		corsCfg := cors.DefaultConfig()
		corsCfg.AllowOrigins = []string{origin}
		corsCfg.AllowCredentials = true
		corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization", authSvc.CSRFHeaderName())
		router.Use(cors.New(corsCfg))
	}
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	logger.Info().Str("addr", addr).Msg("starting server")
	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
