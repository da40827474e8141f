// Tilevault - Offline Map Region and Resource Download Manager
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tilevault

package region

import (
	"context"

	"github.com/tomtom215/tilevault/internal/async"
)

// Operation is a running load, invalidation or style pack load.
type Operation[T any] struct {
	future *async.Future[T]
	job    *job
}

func newOperation[T any]() *Operation[T] {
	return &Operation[T]{future: async.NewFuture[T]()}
}

// Cancel stops the operation. It finishes with CANCELED unless it already
// finished. Resources already stored stay in the store.
func (op *Operation[T]) Cancel() {
	if op.job != nil {
		op.job.cancel(ErrCanceled)
	}
}

// Done is closed once the operation finished and its callback returned.
func (op *Operation[T]) Done() <-chan struct{} {
	return op.future.Done()
}

// Wait blocks until the operation finished or ctx ends.
func (op *Operation[T]) Wait(ctx context.Context) (T, error) {
	return op.future.Wait(ctx)
}

// Result returns the outcome without blocking; ok is false while running.
func (op *Operation[T]) Result() (val T, err error, ok bool) {
	return op.future.Result()
}
