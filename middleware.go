package docdb

import "context"

// Operation classifies a repository call for middleware and metrics.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
	OpSelect Operation = "select"
)

// Handler is one middleware interceptor. Before-handlers receive the
// operation input (fields for create, changes for update, the query for
// select) and may transform it; after-handlers receive the result.
// Returning an error short-circuits the operation. Handlers run inside
// the repository path and cannot bypass cache invalidation: there is no
// direct driver access.
type Handler func(ctx context.Context, op Operation, table string, data any) (any, error)

// Before registers a handler invoked before every operation, in
// registration order.
func (db *DB) Before(h Handler) {
	db.before = append(db.before, h)
}

// After registers a handler invoked after every successful operation,
// in registration order.
func (db *DB) After(h Handler) {
	db.after = append(db.after, h)
}

func runHandlers(ctx context.Context, hs []Handler, op Operation, table string, data any) (any, error) {
	for _, h := range hs {
		var err error
		data, err = h(ctx, op, table, data)
		if err != nil {
			return nil, err
		}
	}
	return data, nil
}
