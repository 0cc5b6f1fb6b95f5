package repository

import (
	"context"

	"github.com/jackc/pgx/v4"
)

type Tx interface{}

// TransactionManager executes a function within a database transaction,
// passing the underlying transaction handle via `tx`.
//
// Every multi-step coordination operation (recover-then-claim,
// select-then-patch) MUST run through this so concurrent lease attempts
// are serialized by the store, not by the process.
//
// The concrete type of `tx` is infra-defined (pgx.Tx for Postgres).
// Repositories accept a nil tx for the non-transactional path.
type TransactionManager interface {
	WithTx(ctx context.Context, txOpt pgx.TxOptions, fn func(ctx context.Context, tx Tx) error) error
}
