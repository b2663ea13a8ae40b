// Migrate applies or rolls back the database schema.
package main

import (
	"errors"
	"flag"
	"log"

	"minutes-maker/backend/internal/config"
	"minutes-maker/backend/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Println("no schema changes to apply")
			return
		}
		log.Fatalf("migrate %s: %v", *direction, err)
	}
	log.Printf("migrations %s applied", *direction)
}
