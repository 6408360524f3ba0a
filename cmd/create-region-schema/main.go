package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/joho/godotenv"

	"geocompliance-backend/config"
	"geocompliance-backend/repository"
)

// Pre-creates <region>_definitions and <region>_regulations. Ingestion creates
// them on demand; this is for databases where the service role lacks DDL rights.
func main() {
	regions := flag.String("regions", "", "comma-separated regions (default: every configured jurisdiction)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: No .env file found, using environment variables: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	db, dialect, err := repository.Open(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	records := repository.NewRecordRepository(db, dialect)

	var targets []string
	if *regions != "" {
		for _, r := range strings.Split(*regions, ",") {
			if r = strings.TrimSpace(r); r != "" {
				targets = append(targets, r)
			}
		}
	} else {
		for _, j := range cfg.Jurisdictions {
			targets = append(targets, j.Code)
		}
	}

	for _, region := range targets {
		if err := records.EnsureRegion(ctx, region); err != nil {
			log.Fatalf("Failed to create tables for %s: %v", region, err)
		}
		log.Printf("✓ Created tables for %s", strings.ToUpper(region))
	}

	fmt.Printf("\n✅ Region schema ready for %d regions (%s)\n", len(targets), dialect)
}
