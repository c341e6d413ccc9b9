package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/guide-lms/guide-router/internal/domain/group"
)

// GroupRepository implements group.Repository for PostgreSQL.
type GroupRepository struct {
	conn *Connection
}

var _ group.Repository = (*GroupRepository)(nil)

// NewGroupRepository creates a new GroupRepository.
func NewGroupRepository(conn *Connection) *GroupRepository {
	return &GroupRepository{conn: conn}
}

// FindByName implements group.Repository.
func (r *GroupRepository) FindByName(ctx context.Context, name string) (*group.Group, error) {
	g := &group.Group{Name: name}
	err := r.conn.Pool().QueryRow(ctx, `SELECT cache_disabled FROM groups WHERE name = $1`, name).Scan(&g.CacheDisabled)
	if IsNoRows(err) {
		return nil, group.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}

	rows, err := r.conn.Pool().Query(ctx, `
		SELECT collection_id, tags FROM group_collections
		WHERE group_name = $1
		ORDER BY position
	`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query group collections: %w", err)
	}
	defer rows.Close()

	g.Collections = make([]group.Collection, 0)
	for rows.Next() {
		var c group.Collection
		if err := rows.Scan(&c.ID, &c.Tags); err != nil {
			return nil, fmt.Errorf("failed to scan group collection: %w", err)
		}
		g.Collections = append(g.Collections, c)
	}
	return g, rows.Err()
}

// Save implements group.Repository. Existing collections are replaced.
func (r *GroupRepository) Save(ctx context.Context, g *group.Group) error {
	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO groups (name, cache_disabled, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (name) DO UPDATE SET
				cache_disabled = EXCLUDED.cache_disabled,
				updated_at = NOW()
		`, g.Name, g.CacheDisabled)
		if err != nil {
			return fmt.Errorf("upsert group: %w", err)
		}

		if _, err := tx.Exec(ctx, `DELETE FROM group_collections WHERE group_name = $1`, g.Name); err != nil {
			return fmt.Errorf("clear group collections: %w", err)
		}

		rows := make([][]any, len(g.Collections))
		for i, c := range g.Collections {
			tags := c.Tags
			if tags == nil {
				tags = []string{}
			}
			rows[i] = []any{g.Name, i, c.ID, tags}
		}
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"group_collections"},
			[]string{"group_name", "position", "collection_id", "tags"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("insert group collections: %w", err)
		}
		return nil
	})
}
