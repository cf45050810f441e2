package diag

import "context"

type connIDKey struct{}

// WithConnID returns a copy of ctx carrying the connection correlation id.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey{}, id)
}

// ConnID returns the correlation id stored by WithConnID, or "" if none.
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey{}).(string)
	return id
}
