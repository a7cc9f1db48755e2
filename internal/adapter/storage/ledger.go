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

const stockColumns = `id, location_id, sku, batch_id, received_at, expires_at,
	quantity_on_hand, quantity_reserved, version, updated_at`

func scanStockEntry(row interface{ Scan(...any) error }) (domain.StockEntry, error) {
	var (
		e                     domain.StockEntry
		receivedAt, updatedAt int64
		expiresAt             sql.NullInt64
	)
	err := row.Scan(&e.ID, &e.LocationID, &e.SKU, &e.BatchID, &receivedAt, &expiresAt,
		&e.QuantityOnHand, &e.QuantityReserved, &e.Version, &updatedAt)
	if err != nil {
		return e, err
	}
	e.ReceivedAt = fromMillis(receivedAt)
	e.ExpiresAt = fromNullMillis(expiresAt)
	e.UpdatedAt = fromMillis(updatedAt)
	return e, nil
}

func (m *SQLAdapter) ListAvailableStock(ctx context.Context, locationID, sku string) ([]domain.StockEntry, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT `+stockColumns+`
		FROM stock_entries
		WHERE location_id = ? AND sku = ? AND quantity_on_hand > quantity_reserved
		ORDER BY received_at, batch_id, id`, locationID, sku)
	if err != nil {
		return nil, fmt.Errorf("query stock: %w", err)
	}
	defer rows.Close()

	var entries []domain.StockEntry
	for rows.Next() {
		e, err := scanStockEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stock: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (m *SQLAdapter) GetStockEntry(ctx context.Context, id string) (*domain.StockEntry, error) {
	e, err := scanStockEntry(m.db.QueryRowContext(ctx,
		`SELECT `+stockColumns+` FROM stock_entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query stock entry: %w", err)
	}
	return &e, nil
}

func (m *SQLAdapter) ReceiveStock(ctx context.Context, e domain.StockEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.QuantityOnHand < 0 || e.QuantityReserved < 0 || e.QuantityReserved > e.QuantityOnHand {
		return domain.Newf(domain.CodeInvalidArgument, "stock entry %s: invalid quantities", e.ID)
	}
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO stock_entries (`+stockColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		e.ID, e.LocationID, e.SKU, e.BatchID, toMillis(e.ReceivedAt), nullMillis(e.ExpiresAt),
		e.QuantityOnHand, e.QuantityReserved, toMillis(m.now()),
	)
	if err != nil {
		return fmt.Errorf("insert stock entry: %w", err)
	}
	return nil
}

func (m *SQLAdapter) CommitAllocation(ctx context.Context, plan domain.AllocationPlan, record domain.AllocationRecord) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := toMillis(m.now())

	for _, r := range plan.Reservations {
		result, err := tx.ExecContext(ctx, `
			UPDATE stock_entries
			SET quantity_reserved = quantity_reserved + ?, version = version + 1, updated_at = ?
			WHERE id = ? AND location_id = ? AND quantity_on_hand - quantity_reserved >= ?`,
			r.Quantity, now, r.StockEntryID, plan.LocationID, r.Quantity,
		)
		if err != nil {
			return fmt.Errorf("reserve stock: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return domain.Newf(domain.CodeContention, "stock entry %s no longer covers %d", r.StockEntryID, r.Quantity)
		}

		result, err = tx.ExecContext(ctx, `
			UPDATE order_lines
			SET quantity_allocated = quantity_allocated + ?
			WHERE id = ? AND order_id = ? AND quantity_allocated + ? <= quantity_requested`,
			r.Quantity, r.LineID, plan.OrderID, r.Quantity,
		)
		if err != nil {
			return fmt.Errorf("allocate line: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows == 0 {
			return domain.Newf(domain.CodeContention, "order line %s changed", r.LineID)
		}
	}

	var current, location string
	err = tx.QueryRowContext(ctx, `SELECT status, location_id FROM orders WHERE id = ?`, plan.OrderID).Scan(&current, &location)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Newf(domain.CodeNotFound, "order %s not found", plan.OrderID)
	}
	if err != nil {
		return fmt.Errorf("query order status: %w", err)
	}
	if !(domain.Order{Status: domain.OrderStatus(current)}).Allocatable() {
		return domain.Newf(domain.CodeInvalidState, "order %s is %s", plan.OrderID, current)
	}

	status := domain.OrderStatusAllocated
	if record.Status != domain.AllocationFull {
		status = domain.OrderStatusPartiallyAllocated
	}
	// An order moves to another location only once stock is reserved there.
	if plan.Quantity() > 0 || location == "" {
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, location_id = ?, strategy = ?, updated_at = ?
			WHERE id = ?`,
			string(status), plan.LocationID, record.Strategy, now, plan.OrderID,
		)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, updated_at = ?
			WHERE id = ?`,
			string(status), now, plan.OrderID,
		)
	}
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}

	if err := insertRecord(ctx, tx, record); err != nil {
		return err
	}

	return tx.Commit()
}

func (m *SQLAdapter) SaveAllocationRecord(ctx context.Context, record domain.AllocationRecord) error {
	return insertRecord(ctx, m.db, record)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRecord(ctx context.Context, db execer, record domain.AllocationRecord) error {
	reservations, err := json.Marshal(nonNil(record.Reservations))
	if err != nil {
		return fmt.Errorf("encode reservations: %w", err)
	}
	shortfall, err := json.Marshal(nonNil(record.Shortfall))
	if err != nil {
		return fmt.Errorf("encode shortfall: %w", err)
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO allocation_records (id, order_id, location_id, strategy, status, reservations, shortfall, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID, record.OrderID, record.LocationID, record.Strategy, string(record.Status),
		string(reservations), string(shortfall), toMillis(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert allocation record: %w", err)
	}
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
