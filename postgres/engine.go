// Package postgres provides a PostgreSQL backend for rowbind cursors on top
// of pgx. The engine copies each row's raw wire values through the cursor's
// bind table, reporting honest truncation so the cursor's resize-and-refetch
// path works unchanged against a source that never truncates server-side.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rowbind/rowbind"
)

// Engine adapts pgx rows to the cursor's capability set. One engine serves
// one query's rows.
type Engine struct {
	rows  pgx.Rows
	names []string

	// raw holds the current row's unparsed values, borrowed from pgx
	// until the next fetch. FetchColumn re-copies from it, so it must be
	// captured on every row.
	raw   [][]byte
	binds []rowbind.Bind
}

// Ensure Engine provides the full capability set.
var _ rowbind.Engine = (*Engine)(nil)

// NewEngine wraps pgx rows. The rows are owned by the engine from here on.
func NewEngine(rows pgx.Rows) *Engine {
	return &Engine{rows: rows}
}

// Query runs sql over the simple protocol, so every value arrives in its
// text form, and returns an engine over the result.
func Query(ctx context.Context, conn *pgx.Conn, sql string, args ...any) (*Engine, error) {
	qargs := append([]any{pgx.QueryExecModeSimpleProtocol}, args...)
	rows, err := conn.Query(ctx, sql, qargs...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	return NewEngine(rows), nil
}

func (e *Engine) ResultMetadata() (int, error) {
	fields := e.rows.FieldDescriptions()
	if len(fields) == 0 {
		return 0, nil
	}
	e.names = make([]string, len(fields))
	for i, f := range fields {
		e.names[i] = f.Name
	}
	return len(e.names), nil
}

func (e *Engine) ColumnName(index int) string {
	return e.names[index]
}

// BindResult retains the bind table; there is no client-library registration
// to refresh, so re-registration after a buffer swap is a cheap pointer
// update.
func (e *Engine) BindResult(binds []rowbind.Bind) error {
	e.binds = binds
	return nil
}

func (e *Engine) Fetch() (rowbind.FetchStatus, error) {
	if !e.rows.Next() {
		if err := e.rows.Err(); err != nil {
			return 0, err
		}
		return rowbind.FetchNoData, nil
	}
	e.raw = e.rows.RawValues()
	status := rowbind.FetchOK
	for i := range e.binds {
		if e.fill(i, &e.binds[i]) {
			status = rowbind.FetchTruncated
		}
	}
	return status, nil
}

func (e *Engine) FetchColumn(index int, bind *rowbind.Bind) error {
	if e.raw == nil || index >= len(e.raw) {
		return fmt.Errorf("postgres: no current row value for column %d", index)
	}
	if e.fill(index, bind) {
		return fmt.Errorf("postgres: buffer still short of column %d value", index)
	}
	return nil
}

// fill copies one raw value through a bind entry. Reports truncation.
func (e *Engine) fill(i int, b *rowbind.Bind) bool {
	val := e.raw[i]
	if val == nil {
		if b.IsNull != nil {
			*b.IsNull = true
		}
		if b.Length != nil {
			*b.Length = 0
		}
		return false
	}
	if b.IsNull != nil {
		*b.IsNull = false
	}
	if b.Length != nil {
		*b.Length = int64(len(val))
	}
	return copy(b.Buffer, val) < len(val)
}

// StoreResult is a no-op; pgx manages its own buffering.
func (e *Engine) StoreResult() error {
	return nil
}

// Drain closes the rows, which reads them to completion.
func (e *Engine) Drain() error {
	e.rows.Close()
	return e.rows.Err()
}

func (e *Engine) FreeResult() error {
	e.rows.Close()
	e.raw = nil
	e.binds = nil
	return nil
}

// Close has nothing beyond FreeResult to release: the connection is owned
// by the caller.
func (e *Engine) Close() error {
	e.rows.Close()
	return nil
}
