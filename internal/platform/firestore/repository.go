package firestore

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// The helpers below are transaction aware: when the context carries a
// transaction (see WithTx) the operation joins it, otherwise it runs
// standalone. Repositories use these exclusively so every operation
// composes under a UnitOfWork without separate code paths.

// GetDoc reads a single document.
func GetDoc(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := TxFrom(ctx); ok {
		snap, err := tx.Get(ref)
		return snap, WrapError("get "+ref.Path, err)
	}
	snap, err := ref.Get(ctx)
	return snap, WrapError("get "+ref.Path, err)
}

// CreateDoc writes a document, failing with a conflict when it
// already exists.
func CreateDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := TxFrom(ctx); ok {
		return WrapError("create "+ref.Path, tx.Create(ref, data))
	}
	_, err := ref.Create(ctx, data)
	return WrapError("create "+ref.Path, err)
}

// SetDoc writes a document, replacing any existing content.
func SetDoc(ctx context.Context, ref *firestore.DocumentRef, data any) error {
	if tx, ok := TxFrom(ctx); ok {
		return WrapError("set "+ref.Path, tx.Set(ref, data))
	}
	_, err := ref.Set(ctx, data)
	return WrapError("set "+ref.Path, err)
}

// UpdateDoc applies field updates to an existing document.
func UpdateDoc(ctx context.Context, ref *firestore.DocumentRef, updates []firestore.Update) error {
	if tx, ok := TxFrom(ctx); ok {
		return WrapError("update "+ref.Path, tx.Update(ref, updates))
	}
	_, err := ref.Update(ctx, updates)
	return WrapError("update "+ref.Path, err)
}

// DeleteDoc removes a document. Deleting a missing document is not an
// error, matching Firestore semantics.
func DeleteDoc(ctx context.Context, ref *firestore.DocumentRef) error {
	if tx, ok := TxFrom(ctx); ok {
		return WrapError("delete "+ref.Path, tx.Delete(ref))
	}
	_, err := ref.Delete(ctx)
	return WrapError("delete "+ref.Path, err)
}

// Docs returns an iterator for q, joining the transaction carried by
// ctx when present.
func Docs(ctx context.Context, q firestore.Query) *firestore.DocumentIterator {
	if tx, ok := TxFrom(ctx); ok {
		return tx.Documents(q)
	}
	return q.Documents(ctx)
}

// DecodeAll drains it and decodes every snapshot with decode.
func DecodeAll[T any](op string, it *firestore.DocumentIterator, decode func(*firestore.DocumentSnapshot) (T, error)) ([]T, error) {
	defer it.Stop()
	var out []T
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			return out, nil
		}
		if err != nil {
			return nil, WrapError(op, err)
		}
		item, err := decode(snap)
		if err != nil {
			return nil, WrapError(op, err)
		}
		out = append(out, item)
	}
}
