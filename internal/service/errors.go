package service

import "errors"

var (
	// ErrWalletNotFound means the referenced wallet does not exist.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrInsufficientFunds means a debit would drive the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount means non-positive amount passed.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrSameWalletTransfer rejects transfers where source and destination
	// are the same wallet.
	ErrSameWalletTransfer = errors.New("cannot transfer to self")

	// ErrConcurrencyExhausted means the bounded optimistic-retry budget ran
	// out; the caller may retry the whole operation.
	ErrConcurrencyExhausted = errors.New("concurrent update retries exhausted")

	// ErrInvalidDateFormat means a history date string could not be parsed
	// or the resolved range is inverted.
	ErrInvalidDateFormat = errors.New("invalid date format")

	// ErrCompensationFailed means a transfer's compensating credit failed
	// after the credit leg failed, leaving the source debited with no
	// matching entry. This breaks reconciliation and needs operator
	// attention; it is never retried internally.
	ErrCompensationFailed = errors.New("transfer compensation failed")
)

// errKind maps an error to a stable label for metrics and boundary mapping.
func errKind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrWalletNotFound):
		return "wallet_not_found"
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, ErrSameWalletTransfer):
		return "same_wallet_transfer"
	case errors.Is(err, ErrConcurrencyExhausted):
		return "concurrency_exhausted"
	case errors.Is(err, ErrInvalidDateFormat):
		return "invalid_date_format"
	case errors.Is(err, ErrCompensationFailed):
		return "compensation_failed"
	default:
		return "internal"
	}
}
