package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is a unit of work executed inside a Firestore transaction.
// The context passed to fn carries the transaction, so repository
// calls made through it join the same transaction.
type TxFunc func(ctx context.Context) error

type txOptions struct {
	attempts int
	timeout  time.Duration
}

// TxOption tunes transaction execution.
type TxOption func(*txOptions)

// WithTxAttempts caps the number of commit attempts.
func WithTxAttempts(n int) TxOption {
	return func(o *txOptions) {
		if n > 0 {
			o.attempts = n
		}
	}
}

// WithTxTimeout bounds the total time spent on the transaction.
func WithTxTimeout(d time.Duration) TxOption {
	return func(o *txOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// RunTransaction executes fn inside a Firestore transaction. If ctx
// already carries a transaction, fn joins it instead of opening a
// nested one; Firestore transactions do not nest.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if fn == nil {
		return errors.New("firestore: transaction func is nil")
	}
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}
	if client == nil {
		return errors.New("firestore: client is nil")
	}

	options := txOptions{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		opt(&options)
	}

	runCtx, cancel := context.WithTimeout(ctx, options.timeout)
	defer cancel()

	err := client.RunTransaction(runCtx, func(txCtx context.Context, tx *firestore.Transaction) error {
		return fn(WithTx(txCtx, tx))
	}, firestore.MaxAttempts(options.attempts))
	return WrapError("run transaction", err)
}
