// Package db provides error types for database operations.
package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/surrealdb/surrealdb.go"
)

// Sentinel errors for database operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrActiveRunExists indicates the document already has a run in a
	// non-terminal state. Starting a second one is rejected.
	ErrActiveRunExists = errors.New("active run already exists")

	// ErrStatusConflict indicates a run state transition was rejected
	// because the run is no longer in the expected state, for example
	// persisting results after a cancellation.
	ErrStatusConflict = errors.New("run status conflict")

	// ErrAlreadyExists indicates a unique constraint rejected the write,
	// such as a duplicate (run, sort_order) question slot.
	ErrAlreadyExists = errors.New("record already exists")

	// ErrTransactionConflict indicates a SurrealDB transaction conflict.
	// This occurs when multiple concurrent operations attempt to modify
	// the same records. Callers should typically retry or skip.
	ErrTransactionConflict = errors.New("transaction conflict")
)

// wrapQueryError inspects a SurrealDB error and wraps it with the
// appropriate sentinel error if it's a known query error type. Returns
// the original error if it doesn't match known patterns.
func wrapQueryError(err error) error {
	if err == nil {
		return nil
	}

	var queryErr *surrealdb.QueryError
	if errors.As(err, &queryErr) {
		msg := queryErr.Message
		switch {
		case strings.Contains(msg, "active run exists"):
			return fmt.Errorf("%w: %s", ErrActiveRunExists, msg)
		case strings.Contains(msg, "status conflict"):
			return fmt.Errorf("%w: %s", ErrStatusConflict, msg)
		case strings.Contains(msg, "not found"):
			return fmt.Errorf("%w: %s", ErrNotFound, msg)
		case strings.Contains(msg, "already exists"), strings.Contains(msg, "already contains"):
			return fmt.Errorf("%w: %s", ErrAlreadyExists, msg)
		case strings.Contains(msg, "Transaction conflict"):
			return fmt.Errorf("%w: %s", ErrTransactionConflict, msg)
		}
	}

	return err
}
