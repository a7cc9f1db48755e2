package service

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rl1809/fulfillment-engine/internal/core/domain"
)

const (
	DefaultBatchCap         = 50
	DefaultBatchConcurrency = 4
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
)

type BatchOptions struct {
	Cap         int
	Concurrency int
	Deadline    time.Duration
}

func (o BatchOptions) withDefaults() BatchOptions {
	if o.Cap <= 0 {
		o.Cap = DefaultBatchCap
	}
	if o.Concurrency <= 0 {
		o.Concurrency = DefaultBatchConcurrency
	}
	return o
}

type ItemResult[R any] struct {
	Index   int     `json:"index"`
	Key     string  `json:"key"`
	Outcome Outcome `json:"outcome"`
	Value   R       `json:"result"`
}

type ItemError struct {
	Index   int    `json:"index"`
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// BatchSummary reports a batch in item order. Requested greater than
// Processed means items were truncated or the deadline passed and the caller
// should resubmit the rest.
type BatchSummary[R any] struct {
	Requested  int             `json:"requested"`
	Processed  int             `json:"processed"`
	Successful int             `json:"successful"`
	Partial    int             `json:"partial"`
	Failed     int             `json:"failed"`
	Success    bool            `json:"success"`
	Results    []ItemResult[R] `json:"results"`
	Errors     []ItemError     `json:"errors"`
}

// ItemOp processes one batch item.
type ItemOp[T, R any] func(ctx context.Context, item T) (R, Outcome, error)

type itemSlot[R any] struct {
	done    bool
	value   R
	outcome Outcome
	err     error
}

// RunBatch applies op to at most opts.Cap items with bounded parallelism.
// A failing or panicking item is recorded and never stops its siblings.
// Items not started before the deadline are left unprocessed; committed
// items are kept.
func RunBatch[T, R any](ctx context.Context, items []T, key func(T) string, op ItemOp[T, R], opts BatchOptions) BatchSummary[R] {
	opts = opts.withDefaults()

	summary := BatchSummary[R]{
		Requested: len(items),
		Results:   []ItemResult[R]{},
		Errors:    []ItemError{},
	}

	if len(items) > opts.Cap {
		items = items[:opts.Cap]
	}

	if opts.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Deadline)
		defer cancel()
	}

	slots := make([]itemSlot[R], len(items))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			slots[i] = runItem(ctx, item, op)
			return nil
		})
	}
	_ = g.Wait()

	for i, slot := range slots {
		if !slot.done {
			continue
		}
		summary.Processed++
		k := key(items[i])

		if slot.err != nil || slot.outcome == OutcomeFailed {
			summary.Failed++
			err := slot.err
			if err == nil {
				err = domain.Newf(domain.CodeInternal, "item failed")
			}
			summary.Errors = append(summary.Errors, ItemError{
				Index:   i,
				Key:     k,
				Kind:    string(domain.CodeOf(err)),
				Message: err.Error(),
			})
			continue
		}

		switch slot.outcome {
		case OutcomeSuccess:
			summary.Successful++
		case OutcomePartial:
			summary.Partial++
		}
		summary.Results = append(summary.Results, ItemResult[R]{
			Index:   i,
			Key:     k,
			Outcome: slot.outcome,
			Value:   slot.value,
		})
	}

	summary.Success = len(summary.Errors) == 0
	return summary
}

func runItem[T, R any](ctx context.Context, item T, op ItemOp[T, R]) (slot itemSlot[R]) {
	slot.done = true
	defer func() {
		if r := recover(); r != nil {
			slot.outcome = OutcomeFailed
			slot.err = domain.Newf(domain.CodeInternal, "panic: %v", r)
		}
	}()

	slot.value, slot.outcome, slot.err = op(ctx, item)
	if slot.err != nil {
		slot.outcome = OutcomeFailed
	}
	return slot
}
