package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"geocompliance-backend/app"
	"geocompliance-backend/config"
	"geocompliance-backend/handlers"
)

func main() {
	// Load .env file from project root (relative to cmd/server/)
	// Try current directory first, then project root
	if err := godotenv.Load(); err != nil {
		if err := godotenv.Load("../../.env"); err != nil {
			log.Printf("Warning: No .env file found, using environment variables")
		}
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	a, err := app.New(context.Background(), cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()
	log.Printf("Backends ready (database=%s, index=%s, sessions=%s)",
		cfg.Database.Driver, cfg.VectorIndex.Type, cfg.Session.Type)

	if cfg.Server.APITokenHash == "" {
		log.Println("Warning: API_TOKEN_HASH not set, ingest endpoints are unauthenticated")
	}

	r := handlers.NewRouter(handlers.Handlers{
		Ingest:       handlers.NewIngestHandler(a.Ingestion, a.Storage),
		Assessment:   handlers.NewAssessmentHandler(a.Matcher, a.Coordinator),
		Regulation:   handlers.NewRegulationHandler(a.Records),
		APITokenHash: cfg.Server.APITokenHash,
	})

	log.Printf("Server starting on port %s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
