package rowbind

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeEngine scripts a result set and records every engine call. Cells are
// nil for null, string or []byte otherwise. Like a real client library it
// keeps its own copy of the bind table from the last BindResult, so writes
// after a buffer swap go to the stale buffer until the cursor re-binds.
type fakeEngine struct {
	names []string
	rows  [][]any

	binds []Bind
	row   int

	metaErr  error
	bindErr  error // returned once bindCalls exceeds bindOK
	bindOK   int
	fetchErr error
	failAt   int // 1-based Fetch call that returns fetchErr
	badAt    int // 1-based Fetch call that returns a bogus status
	colErr   error
	storeErr error
	drainErr error
	freeErr  error
	closeErr error

	bindCalls  int
	fetchCalls int
	colCalls   []int
	storeCalls int
	drainCalls int
	freeCalls  int
	closeCalls int
}

var _ Engine = (*fakeEngine)(nil)

func newFakeEngine(names []string, rows ...[]any) *fakeEngine {
	return &fakeEngine{names: names, rows: rows, row: -1}
}

func (e *fakeEngine) ResultMetadata() (int, error) {
	if e.metaErr != nil {
		return 0, e.metaErr
	}
	return len(e.names), nil
}

func (e *fakeEngine) ColumnName(index int) string {
	return e.names[index]
}

func (e *fakeEngine) BindResult(binds []Bind) error {
	e.bindCalls++
	if e.bindErr != nil && e.bindCalls > e.bindOK {
		return e.bindErr
	}
	e.binds = slices.Clone(binds)
	return nil
}

func (e *fakeEngine) Fetch() (FetchStatus, error) {
	e.fetchCalls++
	if e.fetchErr != nil && e.fetchCalls == e.failAt {
		return 0, e.fetchErr
	}
	if e.badAt != 0 && e.fetchCalls == e.badAt {
		return FetchStatus(99), nil
	}
	if e.row+1 >= len(e.rows) {
		return FetchNoData, nil
	}
	e.row++
	status := FetchOK
	for i := range e.binds {
		if e.write(i, &e.binds[i]) {
			status = FetchTruncated
		}
	}
	return status, nil
}

func (e *fakeEngine) FetchColumn(index int, bind *Bind) error {
	e.colCalls = append(e.colCalls, index)
	if e.colErr != nil {
		return e.colErr
	}
	if e.write(index, bind) {
		return fmt.Errorf("fake: buffer still too small for column %d", index)
	}
	return nil
}

func (e *fakeEngine) StoreResult() error { e.storeCalls++; return e.storeErr }
func (e *fakeEngine) Drain() error       { e.drainCalls++; return e.drainErr }
func (e *fakeEngine) FreeResult() error  { e.freeCalls++; return e.freeErr }
func (e *fakeEngine) Close() error       { e.closeCalls++; return e.closeErr }

// write fills one registered bind from the current row. Reports truncation.
func (e *fakeEngine) write(i int, b *Bind) bool {
	cell := e.rows[e.row][i]
	if cell == nil {
		*b.IsNull = true
		*b.Length = 0
		return false
	}
	var val []byte
	switch x := cell.(type) {
	case string:
		val = []byte(x)
	case []byte:
		val = x
	default:
		panic(fmt.Sprintf("fake: unsupported cell type %T", cell))
	}
	*b.IsNull = false
	*b.Length = int64(len(val))
	return copy(b.Buffer, val) < len(val)
}

func openCursor(t *testing.T, e *fakeEngine, opts ...Option) *Cursor {
	t.Helper()
	c := Open(e, opts...)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustString(t *testing.T, c *Cursor, index int) string {
	t.Helper()
	s, err := c.String(index)
	if err != nil {
		t.Fatalf("String(%d): %v", index, err)
	}
	return s
}

func TestNextExhaustsRows(t *testing.T) {
	e := newFakeEngine([]string{"id", "name"},
		[]any{"1", "alpha"},
		[]any{"2", "beta"},
		[]any{"3", "gamma"},
	)
	c := openCursor(t, e)

	want := []string{"alpha", "beta", "gamma"}
	var got []string
	for c.Next() {
		// String returns a borrowed view; the next fetch overwrites
		// it, so keeping it across rows means copying.
		got = append(got, strings.Clone(mustString(t, c, 2)))
	}
	if err := c.Err(); err != nil {
		t.Fatalf("Err after iteration: %v", err)
	}
	require.Equal(t, want, got)

	// Terminal is one-way.
	if c.Next() || c.Next() {
		t.Fatal("Next returned true after exhaustion")
	}
}

func TestNextRowCap(t *testing.T) {
	e := newFakeEngine([]string{"v"},
		[]any{"a"}, []any{"b"}, []any{"c"}, []any{"d"}, []any{"e"},
	)
	c := openCursor(t, e, WithMaxRows(2))

	n := 0
	for c.Next() {
		n++
	}
	require.Equal(t, 2, n)
	require.NoError(t, c.Err())

	// The cap check runs before the next fetch: two rows means exactly
	// two fetches, and the engine was drained once for reuse.
	require.Equal(t, 2, e.fetchCalls)
	require.Equal(t, 1, e.drainCalls)

	if c.Next() {
		t.Fatal("Next returned true after row cap")
	}
	require.Equal(t, 1, e.drainCalls)
}

func TestDrainFailureIsNotFatal(t *testing.T) {
	e := newFakeEngine([]string{"v"}, []any{"a"}, []any{"b"})
	e.drainErr = errors.New("reset refused")
	c := openCursor(t, e, WithMaxRows(1))

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.False(t, c.Next())
	require.NoError(t, c.Err())
	require.Equal(t, 1, e.drainCalls)
}

func TestWideValueGrowsBuffer(t *testing.T) {
	wide := strings.Repeat("x", 500)
	e := newFakeEngine([]string{"v"}, []any{wide}, []any{"short"})
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	size, err := c.ColumnSize(1)
	require.NoError(t, err)
	require.Equal(t, int64(500), size)

	// Size is known before resolution; nothing re-fetched yet.
	require.Empty(t, e.colCalls)

	require.Equal(t, wide, mustString(t, c, 1))
	require.Equal(t, []int{0}, e.colCalls)

	// Re-reading serves the resolved buffer without another round trip.
	require.Equal(t, wide, mustString(t, c, 1))
	require.Equal(t, []int{0}, e.colCalls)

	// The resize left the registered table stale; the next advance
	// re-binds exactly once.
	require.Equal(t, 1, e.bindCalls)
	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.Equal(t, 2, e.bindCalls)
	require.Equal(t, "short", mustString(t, c, 1))
}

func TestLazyResolutionPerColumn(t *testing.T) {
	e := newFakeEngine([]string{"a", "b"},
		[]any{strings.Repeat("a", 300), strings.Repeat("b", 400)},
	)
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.Equal(t, strings.Repeat("b", 400), mustString(t, c, 2))

	// Only the column actually read was re-fetched.
	require.Equal(t, []int{1}, e.colCalls)
}

func TestNullAndEmptyColumns(t *testing.T) {
	e := newFakeEngine([]string{"n", "e"}, []any{nil, ""})
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}

	null, err := c.IsNull(1)
	require.NoError(t, err)
	require.True(t, null)
	size, err := c.ColumnSize(1)
	require.NoError(t, err)
	require.Equal(t, int64(0), size)
	require.Equal(t, "", mustString(t, c, 1))
	b, err := c.Bytes(1)
	require.NoError(t, err)
	require.Nil(t, b)

	// Empty string is not null: same size, different nullness.
	null, err = c.IsNull(2)
	require.NoError(t, err)
	require.False(t, null)
	require.Equal(t, "", mustString(t, c, 2))
	b, err = c.Bytes(2)
	require.NoError(t, err)
	require.NotNil(t, b)
	require.Len(t, b, 0)
}

func TestWideValueThenNullRow(t *testing.T) {
	wide := strings.Repeat("w", 500)
	e := newFakeEngine([]string{"a", "b", "c"},
		[]any{"r1a", wide, "r1c"},
		[]any{"r2a", nil, "r2c"},
	)
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next row 1: %v", c.Err())
	}
	require.Equal(t, wide, mustString(t, c, 2))
	size, err := c.ColumnSize(2)
	require.NoError(t, err)
	require.Equal(t, int64(500), size)

	if !c.Next() {
		t.Fatalf("Next row 2: %v", c.Err())
	}
	// Row 2 was fetched through the re-registered table.
	require.Equal(t, 2, e.bindCalls)
	require.Equal(t, "r2a", mustString(t, c, 1))
	require.Equal(t, "r2c", mustString(t, c, 3))

	// The null does not leak the previous row's wide value.
	null, err := c.IsNull(2)
	require.NoError(t, err)
	require.True(t, null)
	require.Equal(t, "", mustString(t, c, 2))
	size, err = c.ColumnSize(2)
	require.NoError(t, err)
	require.Equal(t, int64(0), size)

	if c.Next() {
		t.Fatal("Next returned true past the last row")
	}
	require.NoError(t, c.Err())
}

func TestBufferGrowthMonotonic(t *testing.T) {
	e := newFakeEngine([]string{"v"},
		[]any{strings.Repeat("x", 500)},
		[]any{"tiny"},
		[]any{strings.Repeat("y", 300)},
	)
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.Len(t, mustString(t, c, 1), 500)
	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.Equal(t, "tiny", mustString(t, c, 1))
	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	// 300 bytes fit the grown buffer: no second single-column fetch.
	require.Equal(t, strings.Repeat("y", 300), mustString(t, c, 1))
	require.Equal(t, []int{0}, e.colCalls)
}

func TestColumnIndexBounds(t *testing.T) {
	e := newFakeEngine([]string{"a", "b"}, []any{"1", "2"})
	c := openCursor(t, e)
	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}

	for _, index := range []int{0, 3, -1} {
		if _, err := c.ColumnName(index); !errors.Is(err, ErrColumnIndex) {
			t.Errorf("ColumnName(%d): want ErrColumnIndex, got %v", index, err)
		}
		if _, err := c.ColumnSize(index); !errors.Is(err, ErrColumnIndex) {
			t.Errorf("ColumnSize(%d): want ErrColumnIndex, got %v", index, err)
		}
		if _, err := c.IsNull(index); !errors.Is(err, ErrColumnIndex) {
			t.Errorf("IsNull(%d): want ErrColumnIndex, got %v", index, err)
		}
		if _, err := c.String(index); !errors.Is(err, ErrColumnIndex) {
			t.Errorf("String(%d): want ErrColumnIndex, got %v", index, err)
		}
		if _, err := c.Bytes(index); !errors.Is(err, ErrColumnIndex) {
			t.Errorf("Bytes(%d): want ErrColumnIndex, got %v", index, err)
		}
	}

	for _, index := range []int{1, 2} {
		if _, err := c.String(index); err != nil {
			t.Errorf("String(%d): %v", index, err)
		}
	}
}

func TestNoResultSet(t *testing.T) {
	t.Run("zero columns", func(t *testing.T) {
		e := newFakeEngine(nil)
		c := openCursor(t, e)
		require.False(t, c.Next())
		require.NoError(t, c.Err())
		require.Equal(t, 0, c.ColumnCount())
		require.Equal(t, 0, e.fetchCalls)
	})
	t.Run("metadata error", func(t *testing.T) {
		e := newFakeEngine([]string{"a"})
		e.metaErr = errors.New("metadata gone")
		c := openCursor(t, e)
		require.False(t, c.Next())
		require.NoError(t, c.Err())
		require.Equal(t, 0, c.ColumnCount())
	})
}

func TestBindFailureAtOpen(t *testing.T) {
	cause := errors.New("bind rejected")
	e := newFakeEngine([]string{"a"}, []any{"1"})
	e.bindErr = cause

	c := Open(e)
	require.False(t, c.Next())

	var bindErr *BindError
	require.ErrorAs(t, c.Err(), &bindErr)
	require.ErrorIs(t, c.Err(), cause)
	require.Equal(t, 0, e.fetchCalls)

	// Still closeable.
	require.NoError(t, c.Close())
	require.Equal(t, 1, e.freeCalls)
	require.Equal(t, 1, e.closeCalls)
}

func TestRebindFailureIsFatal(t *testing.T) {
	cause := errors.New("rebind rejected")
	e := newFakeEngine([]string{"v"},
		[]any{strings.Repeat("x", 400)},
		[]any{"next"},
	)
	e.bindErr = cause
	e.bindOK = 1
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	mustString(t, c, 1) // forces the resize

	require.False(t, c.Next())
	var bindErr *BindError
	require.ErrorAs(t, c.Err(), &bindErr)
	require.ErrorIs(t, c.Err(), cause)
}

func TestFetchErrorSurfacesDiagnostic(t *testing.T) {
	cause := errors.New("server went away")
	e := newFakeEngine([]string{"v"}, []any{"1"}, []any{"2"})
	e.fetchErr = cause
	e.failAt = 2
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.False(t, c.Next())

	var fetchErr *FetchError
	require.ErrorAs(t, c.Err(), &fetchErr)
	require.ErrorIs(t, c.Err(), cause)

	// Poisoned: reads fail too.
	_, err := c.String(1)
	require.ErrorIs(t, err, cause)
}

func TestFetchColumnFailurePoisons(t *testing.T) {
	cause := errors.New("refetch refused")
	e := newFakeEngine([]string{"v"}, []any{strings.Repeat("x", 300)}, []any{"2"})
	e.colErr = cause
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	_, err := c.String(1)
	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	require.ErrorIs(t, err, cause)

	require.ErrorIs(t, c.Err(), cause)
	require.False(t, c.Next())
}

func TestUnexpectedFetchStatus(t *testing.T) {
	e := newFakeEngine([]string{"v"}, []any{"1"})
	e.badAt = 1
	c := openCursor(t, e)

	require.False(t, c.Next())
	var fetchErr *FetchError
	require.ErrorAs(t, c.Err(), &fetchErr)
}

func TestStoreResultFailureDegrades(t *testing.T) {
	e := newFakeEngine([]string{"v"}, []any{"1"})
	e.storeErr = errors.New("store refused")
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.Equal(t, "1", mustString(t, c, 1))
	require.NoError(t, c.Err())
	require.Equal(t, 1, e.storeCalls)
}

func TestMetadataStableAfterExhaustion(t *testing.T) {
	e := newFakeEngine([]string{"id", "name"}, []any{"1", "x"})
	c := openCursor(t, e)
	for c.Next() {
	}

	require.Equal(t, 2, c.ColumnCount())
	name, err := c.ColumnName(2)
	require.NoError(t, err)
	require.Equal(t, "name", name)
}

func TestCloseIdempotent(t *testing.T) {
	e := newFakeEngine([]string{"id"}, []any{"1"})
	c := Open(e)
	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	require.Equal(t, 1, e.freeCalls)
	require.Equal(t, 1, e.closeCalls)

	// Names survive close, values do not.
	require.Equal(t, 1, c.ColumnCount())
	name, err := c.ColumnName(1)
	require.NoError(t, err)
	require.Equal(t, "id", name)
	_, err = c.String(1)
	require.ErrorIs(t, err, ErrCursorClosed)
	_, err = c.Bytes(1)
	require.ErrorIs(t, err, ErrCursorClosed)
	require.False(t, c.Next())
}

func TestCloseRetainsStatement(t *testing.T) {
	e := newFakeEngine([]string{"id"}, []any{"1"})
	c := Open(e, WithRetainStatement())
	require.NoError(t, c.Close())
	require.Equal(t, 1, e.freeCalls)
	require.Equal(t, 0, e.closeCalls)
}

func TestCloseSwallowsEngineErrors(t *testing.T) {
	e := newFakeEngine([]string{"id"}, []any{"1"})
	e.freeErr = errors.New("free failed")
	e.closeErr = errors.New("close failed")
	c := Open(e)
	require.NoError(t, c.Close())
	require.NoError(t, c.Err())
}

func TestWithColumnCapacity(t *testing.T) {
	val := strings.Repeat("v", 100)
	t.Run("small start grows", func(t *testing.T) {
		e := newFakeEngine([]string{"v"}, []any{val})
		c := openCursor(t, e, WithColumnCapacity(8))
		if !c.Next() {
			t.Fatalf("Next: %v", c.Err())
		}
		require.Equal(t, val, mustString(t, c, 1))
		require.Equal(t, []int{0}, e.colCalls)
	})
	t.Run("large start avoids refetch", func(t *testing.T) {
		e := newFakeEngine([]string{"v"}, []any{val})
		c := openCursor(t, e, WithColumnCapacity(1024))
		if !c.Next() {
			t.Fatalf("Next: %v", c.Err())
		}
		require.Equal(t, val, mustString(t, c, 1))
		require.Empty(t, e.colCalls)
	})
}

func TestBorrowedViewsShareBuffer(t *testing.T) {
	e := newFakeEngine([]string{"v"}, []any{"first"}, []any{"second"})
	c := openCursor(t, e)

	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	b, err := c.Bytes(1)
	require.NoError(t, err)
	require.Equal(t, "first", string(b))
	s := mustString(t, c, 1)
	kept := strings.Clone(s)

	// The views are windows over the cursor's buffer: the next row
	// overwrites them. Callers copy what they keep.
	if !c.Next() {
		t.Fatalf("Next: %v", c.Err())
	}
	require.Equal(t, "secon", string(b[:5]))
	require.Equal(t, "secon", s)
	require.Equal(t, "first", kept)
}
