package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"leadflow/internal/database"
	"leadflow/internal/migrations"
)

func main() {
	dbPath := flag.String("db", "./leadflow.db", "Path to the database file")
	seedPath := flag.String("seed", "", "Optional YAML catalog of connections, groups, tags and landing pages to insert")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names, err := migrations.List()
	if err != nil {
		log.Fatalf("Failed to list migrations: %v", err)
	}

	db, err := database.New(ctx, *dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Printf("Schema up to date (%d migrations)\n", len(names))

	if *seedPath == "" {
		return
	}

	cat, err := loadCatalog(*seedPath)
	if err != nil {
		log.Fatalf("Failed to load seed catalog: %v", err)
	}
	summary, err := seed(ctx, db, cat)
	if err != nil {
		log.Fatalf("Failed to seed catalog: %v", err)
	}
	fmt.Println(summary)
}
