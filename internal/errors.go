package internal

import "errors"

// ErrorCategory tells the ingestion worker what to do with a delivery that failed.
type ErrorCategory int

const (
	// CategoryTransient marks an infrastructure failure (broker or store unavailable).
	// The delivery is handed back to the broker and may succeed on redelivery.
	CategoryTransient ErrorCategory = iota

	// CategoryPermanent marks a failure that cannot be fixed by processing the same input again.
	CategoryPermanent
)

func (c ErrorCategory) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError is a wrapper that includes the underlying error plus a Category.
type CategorizedError struct {
	Err      error
	Category ErrorCategory
}

func (ce *CategorizedError) Error() string {
	return ce.Err.Error()
}

func (ce *CategorizedError) Unwrap() error {
	return ce.Err
}

// NewTransientError wraps err as CategoryTransient.
func NewTransientError(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryTransient}
}

// NewPermanentError wraps err as CategoryPermanent.
func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &CategorizedError{Err: err, Category: CategoryPermanent}
}

// IsPermanent reports whether err was explicitly categorized as permanent.
func IsPermanent(err error) bool {
	var ce *CategorizedError
	if errors.As(err, &ce) {
		return ce.Category == CategoryPermanent
	}
	return false
}

// IsTransient reports whether err should be retried through broker redelivery.
// Uncategorized errors count as transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return !IsPermanent(err)
}
