// Package rowbind implements a buffered, truncation-aware cursor over a
// prepared-statement execution engine.
//
// The engine delivers each row by writing column values into caller-owned
// buffers registered up front (a bind table). Values larger than a column's
// buffer are reported as truncated; the cursor grows the buffer and re-fetches
// just that column the first time it is read, so callers always observe
// complete values without pre-sizing buffers for the largest possible row.
package rowbind

// FetchStatus is the outcome of advancing the engine by one row.
type FetchStatus int32

const (
	// FetchOK means a row was produced and every column fit its buffer.
	FetchOK FetchStatus = iota
	// FetchTruncated means a row was produced but at least one column's
	// value exceeded its buffer capacity. The true length is still
	// reported through the bind entry.
	FetchTruncated
	// FetchNoData means the result set is exhausted.
	FetchNoData
)

// Bind is one entry of the bind table registered with the engine. The engine
// writes up to len(Buffer) value bytes into Buffer and reports the value's
// true length and nullness through the registered pointers, which stay valid
// for the lifetime of the result set.
type Bind struct {
	Buffer []byte
	Length *int64
	IsNull *bool
}

// Engine is the capability set a row source must provide. Implementations
// wrap a prepared, executed statement; all calls are synchronous and made
// from a single goroutine.
type Engine interface {
	// ResultMetadata reports the number of result columns. A count of
	// zero (or an error) means the statement produces no result set.
	ResultMetadata() (int, error)

	// ColumnName returns the declared name of column index (0-based),
	// or "" if the engine has no name for it. Called only for indexes
	// below the count reported by ResultMetadata.
	ColumnName(index int) string

	// BindResult registers the bind table. The engine writes through the
	// registered entries on every subsequent Fetch. Called again after
	// any entry's Buffer is replaced.
	BindResult(binds []Bind) error

	// Fetch advances to the next row, filling the registered binds.
	Fetch() (FetchStatus, error)

	// FetchColumn re-fetches a single column of the current row into
	// bind, which carries a buffer large enough for the value's true
	// length. index is 0-based.
	FetchColumn(index int, bind *Bind) error

	// StoreResult asks the engine to materialize the result client-side.
	// Optional; failure degrades to row-at-a-time fetching.
	StoreResult() error

	// Drain discards rows remaining in the result set so the underlying
	// statement can be executed again.
	Drain() error

	// FreeResult releases the result set and its metadata.
	FreeResult() error

	// Close releases the underlying statement handle.
	Close() error
}
