package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

const DBTxKey contextKey = "db_tx"

// TxFromContext retrieves the active transaction from context, if any.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ContextWithTx returns a copy of ctx carrying tx.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// WithTx begins a transaction on the tenant connection in ctx and returns a
// context carrying it. The caller commits or rolls back.
func WithTx(ctx context.Context) (context.Context, pgx.Tx, error) {
	return WithTxOptions(ctx, pgx.TxOptions{})
}

// WithTxOptions is WithTx with explicit isolation and access mode. A
// transaction already in ctx is nested as a savepoint.
func WithTxOptions(ctx context.Context, opts pgx.TxOptions) (context.Context, pgx.Tx, error) {
	if outer := TxFromContext(ctx); outer != nil {
		tx, err := outer.Begin(ctx)
		if err != nil {
			return ctx, nil, err
		}
		return ContextWithTx(ctx, tx), tx, nil
	}
	conn := ConnFromContext(ctx)
	if conn == nil {
		return ctx, nil, errors.New("no database connection in context")
	}
	tx, err := conn.BeginTx(ctx, opts)
	if err != nil {
		return ctx, nil, err
	}
	return ContextWithTx(ctx, tx), tx, nil
}
