package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// RunMigrations applies every pending migration from the embedded set. The
// target schema is created first if it does not exist; migrations and the
// goose version table both land inside it.
func RunMigrations(dbURL string, schema string) error {
	if schema == "" {
		schema = "public"
	}

	conn, err := sql.Open("pgx", dbURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		return fmt.Errorf("connect for migrations: %w", err)
	}

	ident := pgx.Identifier{schema}.Sanitize()
	if _, err := conn.Exec("CREATE SCHEMA IF NOT EXISTS " + ident); err != nil {
		return fmt.Errorf("ensure schema %s: %w", schema, err)
	}
	if _, err := conn.Exec("SET search_path TO " + ident); err != nil {
		return fmt.Errorf("set search_path to %s: %w", schema, err)
	}

	goose.SetBaseFS(migrationFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(conn, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	slog.Info("Database migrations applied", "schema", schema)
	return nil
}
