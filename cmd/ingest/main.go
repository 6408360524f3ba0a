package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"geocompliance-backend/app"
	"geocompliance-backend/config"
	"geocompliance-backend/service"
)

// Documents are named <REGION>_<STATUTE>.txt, e.g. UT_HB311.txt
func main() {
	dir := flag.String("dir", "./regulations", "directory of extracted regulation texts")
	region := flag.String("region", "", "region for every file (overrides the file name)")
	statute := flag.String("statute", "", "statute for every file (overrides the file name)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: No .env file found, using environment variables: %v", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// documents are read from -dir, wherever it is
	cfg.Storage.AllowAnyLocalPath = true
	if cfg.VectorIndex.Type == "memory" || cfg.VectorIndex.Type == "" {
		log.Fatal("VECTOR_INDEX is memory; set pgvector or qdrant so embeddings outlive this process")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer a.Close()

	files, err := os.ReadDir(*dir)
	if err != nil {
		log.Fatalf("Failed to read directory: %v", err)
	}

	var reqs []service.IngestRequest
	for _, f := range files {
		if f.IsDir() || !strings.EqualFold(filepath.Ext(f.Name()), ".txt") {
			continue
		}
		r, s := splitName(f.Name())
		if *region != "" {
			r = *region
		}
		if *statute != "" {
			s = *statute
		}
		if r == "" || s == "" {
			color.Yellow("skipping %s: cannot tell region and statute from the name", f.Name())
			continue
		}
		reqs = append(reqs, service.IngestRequest{
			Region:  r,
			Statute: s,
			Source:  filepath.Join(*dir, f.Name()),
		})
	}
	if len(reqs) == 0 {
		log.Fatalf("No documents found in %s", *dir)
	}

	ok := color.New(color.FgGreen, color.Bold).SprintFunc()
	warn := color.New(color.FgYellow).SprintFunc()
	fail := color.New(color.FgRed, color.Bold).SprintFunc()
	name := color.New(color.FgCyan, color.Bold).SprintFunc()

	failed := 0
	for _, item := range a.Ingestion.IngestBatch(ctx, reqs) {
		label := name(filepath.Base(item.Request.Source))
		switch {
		case item.Err != nil:
			failed++
			fmt.Printf("%s %s: %v\n", fail("FAIL"), label, item.Err)
		case item.Result.ParseEmpty:
			fmt.Printf("%s %s: no sections recognised\n", warn("EMPTY"), label)
		default:
			res := item.Result
			fmt.Printf("%s %s: %d sections, %d chunks, %d definitions, %d regulations, %d embedded\n",
				ok("OK"), label, res.Sections, res.Chunks, res.DefinitionsWritten, res.RegulationsWritten, res.Embedded)
			for _, e := range res.Errors {
				fmt.Printf("   %s chunk %d (%s): %s\n", warn("skipped"), e.Sequence, e.SectionRef, e.Message)
			}
		}
	}

	if failed > 0 {
		os.Exit(1)
	}
}

func splitName(filename string) (region, statute string) {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	region, statute, found := strings.Cut(base, "_")
	if !found {
		return "", ""
	}
	return region, statute
}
