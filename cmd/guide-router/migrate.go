package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/postgres"
	"github.com/guide-lms/guide-router/pkg/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, log *logger.Logger) error {
		applied, err := m.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			log.Info("schema is up to date")
			return nil
		}
		log.Info("migrations applied", logger.Any("versions", applied))
		return nil
	}),
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the latest migration",
	RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, log *logger.Logger) error {
		if err := m.Rollback(cmd.Context()); err != nil {
			return err
		}
		log.Info("latest migration rolled back")
		return nil
	}),
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List migrations and whether they are applied",
	RunE: withMigrator(func(cmd *cobra.Command, m *postgres.Migrator, _ *logger.Logger) error {
		status, err := m.Status(cmd.Context())
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
		for _, mg := range status {
			applied := "pending"
			if mg.IsApplied {
				applied = mg.AppliedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
		}
		return w.Flush()
	}),
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func withMigrator(fn func(*cobra.Command, *postgres.Migrator, *logger.Logger) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		conn, err := openPostgres(cmd.Context(), cfg.Database)
		if err != nil {
			return err
		}
		defer conn.Close()

		return fn(cmd, postgres.NewMigrator(conn), log)
	}
}
