package rowbind

import (
	"database/sql/driver"
	"fmt"
	"io"
)

// Rows adapts a Cursor to database/sql/driver.Rows, for drivers that build
// their result sets on this package. Null columns are delivered as nil,
// everything else as a borrowed []byte that is only valid until the next
// call to Next, per the driver.Rows contract.
type Rows struct {
	cur     *Cursor
	columns []string
}

// NewRows wraps an open cursor. The cursor is owned by the returned Rows
// from here on; closing the Rows closes the cursor.
func NewRows(cur *Cursor) *Rows {
	return &Rows{cur: cur}
}

// Ensure Rows implements the required interface.
var _ driver.Rows = (*Rows)(nil)

func (r *Rows) Columns() []string {
	if r.columns != nil {
		return r.columns
	}
	names := make([]string, r.cur.ColumnCount())
	for i := range names {
		names[i], _ = r.cur.ColumnName(i + 1)
	}
	r.columns = names
	return r.columns
}

func (r *Rows) Close() error {
	return r.cur.Close()
}

func (r *Rows) Next(dest []driver.Value) error {
	if !r.cur.Next() {
		if err := r.cur.Err(); err != nil {
			return err
		}
		return io.EOF
	}
	n := r.cur.ColumnCount()
	if len(dest) != n {
		return fmt.Errorf("rowbind: expected %d dests, got %d", n, len(dest))
	}
	for i := 0; i < n; i++ {
		null, err := r.cur.IsNull(i + 1)
		if err != nil {
			return err
		}
		if null {
			dest[i] = nil
			continue
		}
		b, err := r.cur.Bytes(i + 1)
		if err != nil {
			return err
		}
		dest[i] = b
	}
	return nil
}
