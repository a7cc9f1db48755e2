package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

func (m *SQLAdapter) CreateLocation(ctx context.Context, loc domain.Location) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO locations (id, parent_id, name, active, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		loc.ID, loc.ParentID, loc.Name, loc.Active, toMillis(m.now()),
	)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	return nil
}

func (m *SQLAdapter) GetLocation(ctx context.Context, id string) (*domain.Location, error) {
	var loc domain.Location
	err := m.db.QueryRowContext(ctx,
		`SELECT id, parent_id, name, active FROM locations WHERE id = ?`, id,
	).Scan(&loc.ID, &loc.ParentID, &loc.Name, &loc.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query location: %w", err)
	}
	return &loc, nil
}

func (m *SQLAdapter) ListChildren(ctx context.Context, parentID string) ([]domain.Location, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, parent_id, name, active FROM locations WHERE parent_id = ? ORDER BY id`, parentID)
	if err != nil {
		return nil, fmt.Errorf("query child locations: %w", err)
	}
	defer rows.Close()

	var out []domain.Location
	for rows.Next() {
		var loc domain.Location
		if err := rows.Scan(&loc.ID, &loc.ParentID, &loc.Name, &loc.Active); err != nil {
			return nil, fmt.Errorf("scan location: %w", err)
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}
