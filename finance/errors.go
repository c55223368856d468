/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Higher layers wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors - Invalid amounts, missing accounts/categories.
     Reported synchronously to the caller, never retried automatically.
  2. Protected-mutation errors - Attempts to touch system-generated postings.
     Reported, never retried.
  3. Persistence errors - Surfaced as-is from the persistence collaborator.
     The in-memory ledger is already correct when they occur, so retrying
     just the save step is safe and idempotent.

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, finance.ErrProtectedTransaction) {
        // refuse the mutation, do not retry
    }
*/
package finance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a mutation carries a zero or
	// negative amount. Amounts are always positive; the kind decides sign.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrAccountNotFound is returned when a referenced account is not registered.
	ErrAccountNotFound = errors.New("account not found")

	// ErrDuplicateAccount is returned when registering an account id twice.
	ErrDuplicateAccount = errors.New("account already registered")

	// ErrCategoryNotFound is returned when an expense/income names an
	// unknown category. Transfers and deposit postings carry no category.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrTransactionNotFound is returned by update/delete for an unknown id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrDuplicateTransaction is returned when adding an id that already
	// exists in the ledger. Re-imports hit this and treat it as a no-op.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrProtectedTransaction is returned when trying to update or delete a
	// system-generated posting such as deposit interest.
	ErrProtectedTransaction = errors.New("protected system transaction")

	// ErrIDMismatch is returned when an update would change the identity of
	// the record it targets.
	ErrIDMismatch = errors.New("transaction id mismatch")

	// ErrSameAccountTransfer is returned when a transfer names the same
	// account on both sides.
	ErrSameAccountTransfer = errors.New("transfer source and target are the same account")

	// ErrSeriesNotFound is returned when a referenced recurring series
	// does not exist.
	ErrSeriesNotFound = errors.New("recurring series not found")

	// ErrInvalidDate is returned when a date string does not parse as a
	// calendar day.
	ErrInvalidDate = errors.New("invalid date")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// UnknownAccountError names the missing account.
type UnknownAccountError struct {
	AccountID AccountID
}

func (e *UnknownAccountError) Error() string {
	return fmt.Sprintf("account not found: %s", e.AccountID)
}

func (e *UnknownAccountError) Unwrap() error { return ErrAccountNotFound }

// ProtectedTransactionError names the posting that refused mutation.
type ProtectedTransactionError struct {
	ID   TransactionID
	Kind TransactionKind
}

func (e *ProtectedTransactionError) Error() string {
	return fmt.Sprintf("cannot mutate system-generated %s transaction %s", e.Kind, e.ID)
}

func (e *ProtectedTransactionError) Unwrap() error { return ErrProtectedTransaction }

// DuplicateTransactionError names the colliding id.
type DuplicateTransactionError struct {
	ID TransactionID
}

func (e *DuplicateTransactionError) Error() string {
	return fmt.Sprintf("transaction already exists: %s", e.ID)
}

func (e *DuplicateTransactionError) Unwrap() error { return ErrDuplicateTransaction }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrDuplicateTransaction) ||
		errors.Is(err, ErrIDMismatch) ||
		errors.Is(err, ErrSameAccountTransfer) ||
		errors.Is(err, ErrInvalidDate)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrSeriesNotFound)
}

// IsProtected returns true if the error refused a protected mutation.
func IsProtected(err error) bool {
	return errors.Is(err, ErrProtectedTransaction)
}
