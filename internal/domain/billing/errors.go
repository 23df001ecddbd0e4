package billing

import "errors"

// Error classes shared by the store, the reconciliation generator and the
// report engine. Callers wrap them with fmt.Errorf("...: %w") and test with
// errors.Is.
var (
	ErrValidation       = errors.New("validation error")
	ErrNotFound         = errors.New("not found")
	ErrConflict         = errors.New("conflict")
	ErrStoreUnavailable = errors.New("store unavailable")
)
