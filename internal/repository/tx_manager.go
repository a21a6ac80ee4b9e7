package repository

import (
	"context"

	"gorm.io/gorm"
)

// txKeyType is private so no other package can smuggle a transaction
// into the context.
type txKeyType struct{}

var txKey txKeyType

// TransactionManager runs a function inside a single database transaction.
// Every workflow transition does its read-modify-write through RunInTx so
// the precondition check, the stage write, the stock deduction, and the
// audit row commit or roll back together.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error
}

type gormTxManager struct {
	db *gorm.DB
}

func NewTransactionManager(db *gorm.DB) TransactionManager {
	return &gormTxManager{db: db}
}

func (m *gormTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey, tx))
	})
}

// GetDB returns the open transaction from ctx when there is one, else the
// root handle. Repositories call this on every query so the same code path
// works inside and outside RunInTx.
func GetDB(ctx context.Context, rootDB *gorm.DB) *gorm.DB {
	if tx, ok := ctx.Value(txKey).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return rootDB.WithContext(ctx)
}
