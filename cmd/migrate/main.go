package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/noah-isme/esg-compliance-api/migrations"
	"github.com/noah-isme/esg-compliance-api/pkg/config"
	"github.com/noah-isme/esg-compliance-api/pkg/database"
	"github.com/noah-isme/esg-compliance-api/pkg/logger"
)

func main() {
	command := flag.String("cmd", "up", "migration command: up, down, status")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg, "migrate")
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg.Database, "esg-migrate")
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close()

	switch *command {
	case "up":
		err = database.Migrate(ctx, db, migrations.FS, logr)
	case "down":
		err = database.Rollback(ctx, db, migrations.FS)
	case "status":
		statuses, statusErr := database.MigrationStatus(ctx, db, migrations.FS)
		for _, st := range statuses {
			fmt.Fprintf(os.Stdout, "%-6d %-10s %s\n", st.Source.Version, st.State, st.Source.Path)
		}
		err = statusErr
	default:
		err = fmt.Errorf("unknown command %q", *command)
	}
	if err != nil {
		logr.Sugar().Fatalw("migration failed", "cmd", *command, "error", err)
	}
}
