package rowbind

import "errors"

// define all package level errors here
var (
	ErrColumnIndex  = errors.New("rowbind: column index out of range")
	ErrCursorClosed = errors.New("rowbind: cursor closed")
)

// BindError reports a failed bind-table registration with the engine. A
// failure during the initial registration leaves the cursor terminal but
// closeable; a failure while re-registering after a buffer resize is fatal
// to the iteration.
type BindError struct {
	Err error
}

func (e *BindError) Error() string {
	return "rowbind: bind result: " + e.Err.Error()
}

func (e *BindError) Unwrap() error { return e.Err }

// FetchError reports a failed row fetch or single-column re-fetch. It wraps
// the engine's diagnostic and is always fatal to the iteration; retry or
// reconnect policy belongs to the engine, not the cursor.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return "rowbind: " + e.Op + ": " + e.Err.Error()
}

func (e *FetchError) Unwrap() error { return e.Err }
