package firestore

import (
	"context"
	"errors"
)

// UnitOfWork runs repository operations inside a single Firestore
// transaction. It satisfies repositories.UnitOfWork.
type UnitOfWork struct {
	provider *Provider
	opts     []TxOption
}

// NewUnitOfWork wires a unit of work over the shared provider.
func NewUnitOfWork(provider *Provider, opts ...TxOption) (*UnitOfWork, error) {
	if provider == nil {
		return nil, errors.New("firestore: provider is required")
	}
	return &UnitOfWork{provider: provider, opts: opts}, nil
}

// RunInTx executes fn transactionally. Nested calls join the
// transaction already carried by ctx.
func (u *UnitOfWork) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if u == nil || u.provider == nil {
		return errors.New("firestore: unit of work is not initialised")
	}
	if _, ok := TxFrom(ctx); ok {
		return fn(ctx)
	}
	client, err := u.provider.Client(ctx)
	if err != nil {
		return err
	}
	return RunTransaction(ctx, client, TxFunc(fn), u.opts...)
}
