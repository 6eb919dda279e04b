package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgreenly/ikigai-sub009/internal/config"
)

// buildMigrateCmd creates "migrate": ensures the event-store schema exists
// for the configured backend, grounded on the teacher's buildMigrateCmd/
// runMigrate split (cmd/nexus/commands_migrate.go). The SQLite and
// Postgres EventStore constructors already run their `CREATE TABLE IF NOT
// EXISTS` DDL idempotently on open (internal/store/sqlite.go,
// internal/store/postgres.go), so this command's job is simply to open
// and close the store, surfacing any connectivity or DDL error to the
// operator before a serve run hits it mid-session.
func buildMigrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply event-store schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(*configPath)
		},
	}
	return cmd
}

func runMigrate(configPath string) error {
	cfg, err := config.Load(resolveConfigPath(configPath))
	if err != nil {
		return fatalConfig(err)
	}

	if cfg.Database.Backend == config.StoreMemory {
		fmt.Println("memory backend has no schema to migrate")
		return nil
	}

	es, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _ = es.Close() }()

	fmt.Printf("schema up to date for backend %s\n", cfg.Database.Backend)
	return nil
}
