package main

import (
	"context"
	"log"
	"os"

	"codocs/internal/api"
	"codocs/internal/config"
	"codocs/internal/hub"
	"codocs/internal/redis"
	"codocs/internal/service/document"
	"codocs/internal/service/extract"
	"codocs/internal/storage"

	"github.com/gin-gonic/gin"
)

func main() {
	cfgPath := os.Getenv("CODOCS_CONFIG")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	dbType := os.Getenv("CODOCS_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	log.Printf("dbType: %s\n", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := storage.Migrate(db, dbType); err != nil {
		log.Fatalf("migrate database: %v", err)
	}

	// Redis is optional; without it the server runs single-instance with no
	// read cache.
	var cache *redis.Client
	if cfg.Redis.Host != "" {
		cache, err = redis.NewClient(cfg)
		if err != nil {
			log.Fatalf("create redis client: %v", err)
		}
		defer cache.Close()
	}

	docs := document.NewService(db, cache)
	rooms := hub.New()
	if cache != nil {
		relayCtx, relayCancel := context.WithCancel(context.Background())
		defer relayCancel()
		relay := hub.NewRelay(cache)
		relay.Start(relayCtx, rooms)
		rooms.SetRelay(relay)
	}

	fileBase := cfg.BasicConfig.FileBaseDir
	if fileBase == "" {
		fileBase = "./data/uploads"
	}
	if err := os.MkdirAll(fileBase, 0o755); err != nil {
		log.Fatalf("create upload dir: %v", err)
	}

	handlers := api.NewHandler(docs, extract.NewService(), rooms, fileBase,
		cfg.BasicConfig.MaxUploadBytes, cfg.BasicConfig.AutosaveIntervalMS)

	router := gin.Default()
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}

	if err := router.Run(addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
