package rowbind

import (
	"fmt"
	"log/slog"
	"unsafe"
)

// DefaultColumnCapacity is the starting buffer capacity per column when
// WithColumnCapacity is not given.
const DefaultColumnCapacity = 256

// column is the per-column descriptor behind one bind table entry. length
// and isNull are written by the engine through the registered pointers;
// length may exceed len(buf) until the truncation is resolved.
type column struct {
	name   string
	buf    []byte
	length int64
	isNull bool
}

// Cursor iterates the rows of an executed statement. It owns the column
// descriptors and the bind table; the engine's statement handle is borrowed.
// A Cursor lives for exactly one execution and is not safe for concurrent
// use.
type Cursor struct {
	eng    Engine
	logger *slog.Logger

	columns []column
	binds   []Bind

	capacity   int
	maxRows    int
	currentRow int
	retain     bool

	stop       bool
	needRebind bool
	closed     bool
	err        error
}

// Open builds a cursor over an executed statement. It never fails: a
// statement without a result set (or with unavailable metadata) yields a
// cursor that is already exhausted, and a failed bind registration yields a
// terminal cursor whose error is reported by Err. The cursor is closeable in
// every case.
func Open(eng Engine, opts ...Option) *Cursor {
	c := &Cursor{
		eng:      eng,
		capacity: DefaultColumnCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}

	n, err := eng.ResultMetadata()
	if err != nil || n <= 0 {
		// Non-query statements iterate zero rows.
		c.stop = true
		if err != nil {
			c.logDebug("result metadata unavailable", "err", err)
		}
		return c
	}

	c.columns = make([]column, n)
	c.binds = make([]Bind, n)
	for i := range c.columns {
		col := &c.columns[i]
		col.name = eng.ColumnName(i)
		col.buf = make([]byte, c.capacity)
		c.binds[i] = Bind{
			Buffer: col.buf,
			Length: &col.length,
			IsNull: &col.isNull,
		}
	}
	if err := eng.BindResult(c.binds); err != nil {
		c.fail(&BindError{Err: err})
		return c
	}
	if err := eng.StoreResult(); err != nil {
		c.logDebug("store result failed, fetching row at a time", "err", err)
	}
	return c
}

// --- row advance ---

// Next advances the cursor to the next row. It returns false when the result
// set is exhausted, the row cap is reached, or an error occurs; consult Err
// to tell the cases apart. Once false, every later call is false.
func (c *Cursor) Next() bool {
	if c.closed || c.stop {
		return false
	}
	if c.maxRows > 0 && c.currentRow >= c.maxRows {
		// The last permitted row was already delivered. Drain so the
		// statement handle can be executed again.
		c.stop = true
		if err := c.eng.Drain(); err != nil {
			c.logDebug("drain after row cap failed", "err", err)
		}
		return false
	}
	c.currentRow++

	// A mid-row buffer resize leaves the registered bind table stale.
	if c.needRebind {
		if err := c.eng.BindResult(c.binds); err != nil {
			c.fail(&BindError{Err: err})
			return false
		}
		c.needRebind = false
	}

	status, err := c.eng.Fetch()
	if err != nil {
		c.fail(&FetchError{Op: "fetch row", Err: err})
		return false
	}
	switch status {
	case FetchOK, FetchTruncated:
		// Truncated columns are resolved lazily, on first read.
		return true
	case FetchNoData:
		c.stop = true
		return false
	default:
		c.fail(&FetchError{Op: "fetch row", Err: fmt.Errorf("rowbind: unexpected fetch status %d", status)})
		return false
	}
}

// Err returns the first fatal error encountered while opening or iterating,
// or nil if the cursor stopped cleanly.
func (c *Cursor) Err() error {
	return c.err
}

// --- column accessors ---

// Column indexes are 1-based, in [1..ColumnCount].

// ColumnCount reports the number of result columns. Zero for statements
// without a result set. Valid at any point in the cursor's life.
func (c *Cursor) ColumnCount() int {
	return len(c.columns)
}

// ColumnName returns the declared name of a column, or "" if the engine
// reported none.
func (c *Cursor) ColumnName(index int) (string, error) {
	col, err := c.check(index)
	if err != nil {
		return "", err
	}
	return col.name, nil
}

// ColumnSize returns the true length in bytes of the column's value in the
// current row, 0 if the value is null. The reported length is exact even
// while the value is still truncated in its buffer.
func (c *Cursor) ColumnSize(index int) (int64, error) {
	col, err := c.check(index)
	if err != nil {
		return 0, err
	}
	if col.isNull {
		return 0, nil
	}
	return col.length, nil
}

// IsNull reports whether the column's value in the current row is null.
func (c *Cursor) IsNull(index int) (bool, error) {
	col, err := c.check(index)
	if err != nil {
		return false, err
	}
	return col.isNull, nil
}

// String returns the column's value in the current row as a string, "" if
// null. The string borrows the cursor's buffer: it is valid until the next
// Next or Close, and callers must copy it to keep it longer.
func (c *Cursor) String(index int) (string, error) {
	col, err := c.value(index)
	if err != nil {
		return "", err
	}
	if col == nil || col.length == 0 {
		return "", nil
	}
	return unsafe.String(&col.buf[0], col.length), nil
}

// Bytes returns the column's value in the current row as a byte slice, nil
// if null. The slice borrows the cursor's buffer under the same lifetime
// rule as String.
func (c *Cursor) Bytes(index int) ([]byte, error) {
	col, err := c.value(index)
	if err != nil {
		return nil, err
	}
	if col == nil {
		return nil, nil
	}
	return col.buf[:col.length:col.length], nil
}

// check validates a 1-based index and resolves the descriptor.
func (c *Cursor) check(index int) (*column, error) {
	if index < 1 || index > len(c.columns) {
		return nil, fmt.Errorf("rowbind: column index %d out of range [1..%d]: %w",
			index, len(c.columns), ErrColumnIndex)
	}
	return &c.columns[index-1], nil
}

// value resolves a descriptor for a value read: bounds, lifecycle, null
// short-circuit, then truncation. A nil descriptor with nil error means the
// value is null.
func (c *Cursor) value(index int) (*column, error) {
	col, err := c.check(index)
	if err != nil {
		return nil, err
	}
	if c.closed {
		return nil, ErrCursorClosed
	}
	if c.err != nil {
		return nil, c.err
	}
	if col.isNull {
		return nil, nil
	}
	if err := c.ensure(col, index-1); err != nil {
		return nil, err
	}
	return col, nil
}

// ensure makes the column's buffer hold the complete value. A value longer
// than the buffer is re-fetched into a grown buffer; buffers only ever grow.
// The bulk bind table is stale afterwards, so the next row advance re-binds.
func (c *Cursor) ensure(col *column, i int) error {
	if col.length <= int64(len(col.buf)) {
		return nil
	}
	col.buf = make([]byte, col.length)
	c.binds[i].Buffer = col.buf
	if err := c.eng.FetchColumn(i, &c.binds[i]); err != nil {
		// The registered table now points at a buffer the engine may
		// not have accepted; poison the cursor rather than guess.
		return c.fail(&FetchError{Op: "fetch column", Err: err})
	}
	c.needRebind = true
	return nil
}

// --- teardown ---

// Close releases the cursor's buffers and the engine's result set, and
// closes the statement handle unless WithRetainStatement was given. It is
// idempotent and never fails; teardown problems are logged. ColumnCount and
// ColumnName stay valid after Close, value reads return ErrCursorClosed.
func (c *Cursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.stop = true
	for i := range c.columns {
		c.columns[i].buf = nil
	}
	if err := c.eng.FreeResult(); err != nil {
		c.logDebug("free result failed", "err", err)
	}
	c.binds = nil
	if !c.retain {
		if err := c.eng.Close(); err != nil {
			c.logDebug("close statement failed", "err", err)
		}
	}
	return nil
}

// fail stops the iteration. The first error wins for Err; the caller gets
// the error it just hit either way.
func (c *Cursor) fail(err error) error {
	c.stop = true
	if c.err == nil {
		c.err = err
	}
	return err
}

func (c *Cursor) logDebug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}
