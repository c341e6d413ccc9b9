package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/guide-lms/guide-router/internal/infrastructure/persistence/postgres"
	"github.com/guide-lms/guide-router/pkg/logger"
)

var seedGroupsCmd = &cobra.Command{
	Use:   "seed-groups <file.yaml>",
	Short: "Upsert group configurations from a YAML file into the database",
	Args:  cobra.ExactArgs(1),
	RunE:  runSeedGroups,
}

func runSeedGroups(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer log.Sync()

	groups, err := readGroups(args[0])
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	conn, err := openPostgres(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	repo := postgres.NewGroupRepository(conn)
	for _, g := range groups {
		if err := repo.Save(ctx, g); err != nil {
			return fmt.Errorf("save group %s: %w", g.Name, err)
		}
		log.Info("group saved", logger.GroupID(g.Name), logger.Int("collections", len(g.Collections)))
	}
	return nil
}
