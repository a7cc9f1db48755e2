package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

func (m *SQLAdapter) CreateOrder(ctx context.Context, order domain.Order) error {
	if order.Status == "" {
		order.Status = domain.OrderStatusPending
	}
	now := m.now()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = now
	}

	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, location_id, strategy, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.ID, order.LocationID, order.Strategy, string(order.Status),
		toMillis(order.CreatedAt), toMillis(order.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Newf(domain.CodeInvalidArgument, "order %s already exists", order.ID)
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, line := range order.Lines {
		if line.ID == "" {
			line.ID = uuid.NewString()
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_lines (id, order_id, line_no, sku, quantity_requested, quantity_allocated)
			VALUES (?, ?, ?, ?, ?, ?)`,
			line.ID, order.ID, i, line.SKU, line.QuantityRequested, line.QuantityAllocated,
		)
		if err != nil {
			return fmt.Errorf("insert order line: %w", err)
		}
	}

	return tx.Commit()
}

func (m *SQLAdapter) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	var (
		order                domain.Order
		status               string
		createdAt, updatedAt int64
	)
	err := m.db.QueryRowContext(ctx, `
		SELECT id, location_id, strategy, status, created_at, updated_at
		FROM orders WHERE id = ?`, id,
	).Scan(&order.ID, &order.LocationID, &order.Strategy, &status, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	order.Status = domain.OrderStatus(status)
	order.CreatedAt = fromMillis(createdAt)
	order.UpdatedAt = fromMillis(updatedAt)

	rows, err := m.db.QueryContext(ctx, `
		SELECT id, sku, quantity_requested, quantity_allocated
		FROM order_lines WHERE order_id = ?
		ORDER BY line_no, id`, id)
	if err != nil {
		return nil, fmt.Errorf("query order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		line := domain.OrderLine{OrderID: id}
		if err := rows.Scan(&line.ID, &line.SKU, &line.QuantityRequested, &line.QuantityAllocated); err != nil {
			return nil, fmt.Errorf("scan order line: %w", err)
		}
		order.Lines = append(order.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	order.Awb, err = m.GetActiveAssignment(ctx, id)
	if err != nil {
		return nil, err
	}

	return &order, nil
}

func (m *SQLAdapter) ListAllocationRecords(ctx context.Context, orderID string) ([]domain.AllocationRecord, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, order_id, location_id, strategy, status, reservations, shortfall, created_at
		FROM allocation_records WHERE order_id = ?
		ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query allocation records: %w", err)
	}
	defer rows.Close()

	var records []domain.AllocationRecord
	for rows.Next() {
		var (
			r                       domain.AllocationRecord
			status                  string
			reservations, shortfall string
			createdAt               int64
		)
		if err := rows.Scan(&r.ID, &r.OrderID, &r.LocationID, &r.Strategy, &status,
			&reservations, &shortfall, &createdAt); err != nil {
			return nil, fmt.Errorf("scan allocation record: %w", err)
		}
		if err := json.Unmarshal([]byte(reservations), &r.Reservations); err != nil {
			return nil, fmt.Errorf("decode reservations of %s: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(shortfall), &r.Shortfall); err != nil {
			return nil, fmt.Errorf("decode shortfall of %s: %w", r.ID, err)
		}
		r.Status = domain.AllocationStatus(status)
		r.CreatedAt = fromMillis(createdAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

func (m *SQLAdapter) ListBackorders(ctx context.Context, limit int) ([]domain.Backorder, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, location_id, strategy
		FROM orders WHERE status = ?
		ORDER BY updated_at, id
		LIMIT ?`, string(domain.OrderStatusPartiallyAllocated), limit)
	if err != nil {
		return nil, fmt.Errorf("query backorders: %w", err)
	}
	defer rows.Close()

	var out []domain.Backorder
	for rows.Next() {
		var b domain.Backorder
		if err := rows.Scan(&b.OrderID, &b.LocationID, &b.Strategy); err != nil {
			return nil, fmt.Errorf("scan backorder: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
