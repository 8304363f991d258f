package vec0

import "log/slog"

// Option configures a table handle.
type Option func(*Table)

// WithLogger routes debug logging for writes and knn queries to l. The
// default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(t *Table) {
		if l != nil {
			t.log = l
		}
	}
}
