package doctable

import "errors"

var (
	// ErrInvalidQuery indicates a scan predicate with anything other than
	// exactly one field.
	ErrInvalidQuery = errors.New("invalid query: exactly one predicate field required")

	// ErrAmbiguousResult indicates a scan the caller believed unique matched
	// more than one document.
	ErrAmbiguousResult = errors.New("ambiguous result: more than one document matched")

	// ErrAlreadyExists indicates a create collision.
	ErrAlreadyExists = errors.New("document already exists")

	// ErrStoreUnavailable indicates a transport or transaction-infrastructure
	// failure, as opposed to a precondition rejection.
	ErrStoreUnavailable = errors.New("store unavailable")

	// errRejected aborts an update transaction when a precondition fails.
	// Never escapes this package; rejection is reported as a result, not an
	// error.
	errRejected = errors.New("precondition rejected")
)
