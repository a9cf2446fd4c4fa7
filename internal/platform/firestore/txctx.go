package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
)

type txKey struct{}

// WithTx returns a context carrying the given transaction. Repository
// operations derived from that context join the transaction instead of
// issuing standalone reads and writes.
func WithTx(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom extracts the transaction carried by ctx, if any.
func TxFrom(ctx context.Context) (*firestore.Transaction, bool) {
	tx, ok := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, ok
}
