package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func activeAssignment(ctx context.Context, q queryer, where string, arg string) (*domain.AwbAssignment, error) {
	var (
		a          domain.AwbAssignment
		assignedAt int64
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, order_id, awb_number, tracking_url, label_url, assigned_at
		FROM awb_assignments
		WHERE `+where+` = ? AND superseded_at IS NULL`, arg,
	).Scan(&a.ID, &a.OrderID, &a.AwbNumber, &a.TrackingURL, &a.LabelURL, &assignedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query awb assignment: %w", err)
	}
	a.AssignedAt = fromMillis(assignedAt)
	return &a, nil
}

func (m *SQLAdapter) GetActiveAssignment(ctx context.Context, orderID string) (*domain.AwbAssignment, error) {
	return activeAssignment(ctx, m.db, "order_id", orderID)
}

func (m *SQLAdapter) AssignAwb(ctx context.Context, a domain.AwbAssignment) (domain.AwbAssignment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.AssignedAt.IsZero() {
		a.AssignedAt = m.now()
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return a, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	holder, err := activeAssignment(ctx, tx, "active_awb", a.AwbNumber)
	if err != nil {
		return a, err
	}
	if holder != nil {
		if holder.OrderID == a.OrderID {
			return *holder, tx.Commit()
		}
		return a, domain.Newf(domain.CodeDuplicateAwb, "awb %s is assigned to order %s", a.AwbNumber, holder.OrderID)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE awb_assignments SET active_awb = NULL, superseded_at = ?
		WHERE order_id = ? AND superseded_at IS NULL`,
		toMillis(a.AssignedAt), a.OrderID,
	)
	if err != nil {
		return a, fmt.Errorf("supersede awb assignment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO awb_assignments (id, order_id, awb_number, active_awb, tracking_url, label_url, assigned_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.OrderID, a.AwbNumber, a.AwbNumber, a.TrackingURL, a.LabelURL, toMillis(a.AssignedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return a, domain.Wrap(domain.CodeDuplicateAwb, err, "awb "+a.AwbNumber+" already assigned")
		}
		return a, fmt.Errorf("insert awb assignment: %w", err)
	}

	_, err = tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`,
		string(domain.OrderStatusDispatched), toMillis(a.AssignedAt), a.OrderID)
	if err != nil {
		return a, fmt.Errorf("update order status: %w", err)
	}

	return a, tx.Commit()
}
