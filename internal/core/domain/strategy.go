package domain

import (
	"sort"
	"strings"
)

// Strategy orders the stock entries of a SKU for consumption. The set is
// closed: implementations live in this package only.
type Strategy interface {
	Name() string
	before(a, b StockEntry) bool
}

var (
	// FIFO consumes the oldest receipt batches first.
	FIFO Strategy = fifo{}
	// LIFO consumes the newest receipt batches first.
	LIFO Strategy = lifo{}
	// FEFO consumes the batches closest to expiry first. Entries without an
	// expiry date go last.
	FEFO Strategy = fefo{}
)

var strategies = map[string]Strategy{
	FIFO.Name(): FIFO,
	LIFO.Name(): LIFO,
	FEFO.Name(): FEFO,
}

// ParseStrategy resolves a strategy name. An empty name selects FIFO.
func ParseStrategy(name string) (Strategy, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	if name == "" {
		return FIFO, nil
	}
	s, ok := strategies[name]
	if !ok {
		return nil, Newf(CodeInvalidStrategy, "unknown allocation strategy %q", name)
	}
	return s, nil
}

// SortEntries returns a copy of entries in consumption order.
func SortEntries(entries []StockEntry, s Strategy) []StockEntry {
	sorted := make([]StockEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return s.before(sorted[i], sorted[j])
	})
	return sorted
}

type fifo struct{}

func (fifo) Name() string { return "FIFO" }

func (fifo) before(a, b StockEntry) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return tieBreak(a, b)
}

type lifo struct{}

func (lifo) Name() string { return "LIFO" }

func (lifo) before(a, b StockEntry) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.After(b.ReceivedAt)
	}
	return tieBreak(a, b)
}

type fefo struct{}

func (fefo) Name() string { return "FEFO" }

func (fefo) before(a, b StockEntry) bool {
	switch {
	case a.ExpiresAt == nil && b.ExpiresAt == nil:
	case a.ExpiresAt == nil:
		return false
	case b.ExpiresAt == nil:
		return true
	case !a.ExpiresAt.Equal(*b.ExpiresAt):
		return a.ExpiresAt.Before(*b.ExpiresAt)
	}
	return fifo{}.before(a, b)
}

func tieBreak(a, b StockEntry) bool {
	if a.BatchID != b.BatchID {
		return a.BatchID < b.BatchID
	}
	return a.ID < b.ID
}
