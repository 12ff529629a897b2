package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Propagation controls how a unit of work joins or starts a transaction.
type Propagation int

const (
	// Required joins the ambient transaction or starts a new one.
	Required Propagation = iota
	// RequiresNew starts a new transaction and fails when one is already active.
	RequiresNew
	// Supports joins the ambient transaction, otherwise runs without one.
	Supports
	// NotSupported runs without a transaction and fails when one is active.
	NotSupported
	// Never runs without a transaction and fails when one is active.
	Never
)

func (p Propagation) String() string {
	switch p {
	case Required:
		return "REQUIRED"
	case RequiresNew:
		return "REQUIRES_NEW"
	case Supports:
		return "SUPPORTS"
	case NotSupported:
		return "NOT_SUPPORTED"
	case Never:
		return "NEVER"
	default:
		return fmt.Sprintf("Propagation(%d)", int(p))
	}
}

var (
	ErrNestedTransaction       = errors.New("nested transaction not supported")
	ErrTransactionNotSupported = errors.New("transaction not supported in this context")
	ErrTransactionNotAllowed   = errors.New("transaction not allowed in this context")
)

// Tx is a storage transaction handle.
type Tx interface {
	Commit() error
	Rollback() error
}

// TxBeginner starts storage transactions.
type TxBeginner interface {
	BeginTx(ctx context.Context) (Tx, error)
}

type txKey struct{}

type txState struct {
	tx          Tx
	afterCommit []func()
}

func txStateFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txKey{}).(*txState)
	return state
}

// InTransaction reports whether ctx carries an ambient transaction.
func InTransaction(ctx context.Context) bool {
	return txStateFrom(ctx) != nil
}

// CurrentTx returns the ambient transaction handle, if any.
func CurrentTx(ctx context.Context) (Tx, bool) {
	state := txStateFrom(ctx)
	if state == nil {
		return nil, false
	}
	return state.tx, true
}

// AfterCommit schedules fn to run once the outermost transaction in ctx
// commits. Without an ambient transaction fn runs immediately. Callbacks of
// rolled back transactions are dropped.
func AfterCommit(ctx context.Context, fn func()) {
	if fn == nil {
		return
	}
	state := txStateFrom(ctx)
	if state == nil {
		fn()
		return
	}
	state.afterCommit = append(state.afterCommit, fn)
}

// TxRunner executes units of work under a propagation policy.
type TxRunner struct {
	beginner TxBeginner
	logger   *slog.Logger
}

// NewTxRunner builds a runner over the given transaction source.
func NewTxRunner(beginner TxBeginner, logger *slog.Logger) *TxRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &TxRunner{beginner: beginner, logger: logger}
}

// Execute runs fn under policy p. Errors returned by fn are returned
// unchanged after rollback; panics roll back and propagate.
func (r *TxRunner) Execute(ctx context.Context, p Propagation, fn func(ctx context.Context) error) error {
	active := InTransaction(ctx)
	switch p {
	case Required:
		if active {
			return fn(ctx)
		}
		return r.runInNew(ctx, fn)
	case RequiresNew:
		if active {
			return ErrNestedTransaction
		}
		return r.runInNew(ctx, fn)
	case Supports:
		return fn(ctx)
	case NotSupported:
		if active {
			return ErrTransactionNotSupported
		}
		return fn(ctx)
	case Never:
		if active {
			return ErrTransactionNotAllowed
		}
		return fn(ctx)
	default:
		return fmt.Errorf("unknown propagation %s", p)
	}
}

func (r *TxRunner) runInNew(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx, err := r.beginner.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	state := &txState{tx: tx}
	finished := false
	defer func() {
		if finished {
			return
		}
		if rec := recover(); rec != nil {
			r.rollback(tx, fmt.Errorf("panic: %v", rec))
			panic(rec)
		}
	}()

	if err := fn(context.WithValue(ctx, txKey{}, state)); err != nil {
		finished = true
		r.rollback(tx, err)
		return err
	}
	if err := ctx.Err(); err != nil {
		finished = true
		r.rollback(tx, err)
		return err
	}
	finished = true
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	for _, hook := range state.afterCommit {
		hook()
	}
	return nil
}

func (r *TxRunner) rollback(tx Tx, cause error) {
	if err := tx.Rollback(); err != nil {
		r.logger.Error("transaction_rollback_failed", "err", err, "cause", cause)
		return
	}
	r.logger.Warn("transaction_rolled_back", "cause", cause)
}

// Execute is the value-returning form of TxRunner.Execute.
func Execute[T any](ctx context.Context, r *TxRunner, p Propagation, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := r.Execute(ctx, p, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
