package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"geocompliance-backend/config"
	"geocompliance-backend/vectorindex"
)

func main() {
	reset := flag.Bool("reset", false, "drop regulation_embeddings before creating it")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: No .env file found, using environment variables: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.Database.Driver != "pgx" {
		log.Fatalf("DATABASE_URL must point at Postgres (driver %q)", cfg.Database.Driver)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pool.Close()

	if *reset {
		if _, err := pool.Exec(ctx, "DROP TABLE IF EXISTS regulation_embeddings CASCADE"); err != nil {
			log.Fatalf("Failed to drop table: %v", err)
		}
		log.Println("✓ Dropped existing regulation_embeddings table (if any)")
	}

	steps := vectorindex.PgVectorSchema(cfg.LLM.Dimension)
	for _, step := range steps {
		if _, err := pool.Exec(ctx, step.SQL); err != nil {
			log.Fatalf("Failed to create %s: %v", step.Name, err)
		}
		log.Printf("✓ Created %s", step.Name)
	}

	fmt.Println("\n✅ Database schema created successfully!")
	fmt.Println("   Table: regulation_embeddings")
	fmt.Printf("   Dimension: %d, steps: %d\n", cfg.LLM.Dimension, len(steps))
}
