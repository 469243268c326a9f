package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	_ "github.com/lib/pq"
	"github.com/phonginreallife/accessctl/authz"
	"github.com/phonginreallife/accessctl/db"
	"github.com/phonginreallife/accessctl/internal/config"
)

func main() {
	if err := config.LoadConfig(os.Getenv("ACCESSCTL_CONFIG_PATH")); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pg.Close()

	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	ctx := context.Background()

	log.Println("Running migration...")
	if err := db.ApplySchema(ctx, pg); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	roles := authz.NewSimpleRoleStore(pg)
	if err := db.SeedSystemRoles(ctx, roles, config.App.Authz.AdminRoleSlug, config.App.Authz.SeedAdminUserID); err != nil {
		log.Fatalf("Seeding system roles failed: %v", err)
	}

	log.Println("Migration applied successfully!")
}
