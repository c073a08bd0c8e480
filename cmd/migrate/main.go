package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-iam/internal/app"
	"github.com/odyssey-erp/odyssey-iam/internal/platform/db"
	"github.com/odyssey-erp/odyssey-iam/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping migrations")
		return
	}

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: migrate [up|down|status]")
	}
	dsn := fs.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN (defaults to PG_DSN)")
	_ = fs.Parse(os.Args[1:])

	command := "up"
	if fs.NArg() > 0 {
		command = fs.Arg(0)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	if err := run(command, *dsn, logger); err != nil {
		logger.Error("migrate", slog.String("command", command), slog.Any("error", err))
		os.Exit(1)
	}
}

func run(command, dsn string, logger *slog.Logger) error {
	if dsn == "" {
		return fmt.Errorf("dsn required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	handle, err := db.OpenSQL(ctx, dsn)
	if err != nil {
		return err
	}
	migrator, err := db.NewMigrator(handle, migrations.FS)
	if err != nil {
		_ = handle.Close()
		return err
	}
	defer func() {
		if err := migrator.Close(); err != nil {
			logger.Warn("close migrator", slog.Any("error", err))
		}
	}()

	switch command {
	case "up":
		if err := migrator.Up(); err != nil {
			return err
		}
	case "down":
		if err := migrator.Down(); err != nil {
			return err
		}
	case "status":
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	status, err := migrator.Status()
	if err != nil {
		return err
	}
	logger.Info("schema", slog.Uint64("version", uint64(status.Version)), slog.Bool("dirty", status.Dirty))
	return nil
}
