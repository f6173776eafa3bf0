package rowbind

import "log/slog"

// Option configures a Cursor at Open time.
type Option func(*Cursor)

// WithMaxRows caps the number of rows the cursor will deliver. Once the cap
// is reached the cursor turns terminal and drains the engine's remaining
// rows so the statement stays reusable. Zero or negative means unlimited.
func WithMaxRows(n int) Option {
	return func(c *Cursor) {
		if n > 0 {
			c.maxRows = n
		}
	}
}

// WithRetainStatement keeps the underlying statement handle open when the
// cursor is closed, for callers that pool and re-execute statements.
func WithRetainStatement() Option {
	return func(c *Cursor) {
		c.retain = true
	}
}

// WithColumnCapacity sets the starting buffer capacity per column. Buffers
// grow on demand when a value does not fit, so this is a tuning knob, not a
// limit. Defaults to DefaultColumnCapacity.
func WithColumnCapacity(n int) Option {
	return func(c *Cursor) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// WithLogger sets the logger used for degraded, non-fatal paths (metadata
// absence, store-result failure, teardown failures). Nil disables logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cursor) {
		c.logger = logger
	}
}
