// seed creates a development account for local testing. Run via go run ./cmd/seed.
// Idempotent: skips inserts if the dev user (dev@example.com) already exists.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/althaafka/pdfhub-api/internal/bootstrap"
	"github.com/althaafka/pdfhub-api/internal/config"
	"github.com/althaafka/pdfhub-api/internal/identity"
)

const (
	devUserEmail = "dev@example.com"
	devUsername  = "devuser"
	devPassword  = "Passw0rd!"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}
	defer app.Close(ctx)

	existing, err := app.Identities.FindByEmail(ctx, devUserEmail)
	if err != nil {
		log.Fatalf("seed check: %v", err)
	}
	if existing != nil {
		log.Printf("Seed already applied (%s exists). Skipping.", devUserEmail)
		return
	}

	u, err := app.Identities.CreateIdentity(ctx, identity.Registration{
		Email:    devUserEmail,
		Username: devUsername,
		Password: devPassword,
	})
	if err != nil {
		log.Fatalf("create dev user: %v", err)
	}

	log.Println("Seed completed successfully.")
	fmt.Printf("Dev login: %s (or %s) / %s  id=%s\n", devUserEmail, devUsername, devPassword, u.ID)
}
