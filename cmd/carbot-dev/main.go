// carbot-dev runs the bot against a throwaway Postgres container for local
// development. Requires Docker and BOT_TOKEN; RAG test mode is enabled unless
// real RAG credentials are provided.
package main

import (
	"context"
	"database/sql"
	"log"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"carbot/internal/app"
)

func main() {
	ctx := context.Background()

	log.Println("Starting Postgres testcontainer...")

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("carbot"),
		postgres.WithUsername("carbot"),
		postgres.WithPassword("carbot"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		log.Fatalf("Failed to start Postgres container: %v", err)
	}
	defer func() {
		log.Println("Stopping Postgres container...")
		if err := pgContainer.Terminate(ctx); err != nil {
			log.Printf("Failed to terminate container: %v", err)
		}
	}()

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get connection string: %v", err)
	}

	if err := applyMigrations(dsn); err != nil {
		log.Fatalf("Failed to apply migrations: %v", err)
	}

	os.Setenv("DATABASE_URL", dsn)
	if os.Getenv("RAG_API_URL") == "" {
		log.Println("No RAG_API_URL set, enabling RAG test mode")
		os.Setenv("RAG_TEST", "true")
	}

	application, err := app.New()
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Run(); err != nil {
		log.Fatal(err)
	}
}

func applyMigrations(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.Up(db, "./migrations")
}
