// Package correlation carries the query id of a run through contexts so
// components below the graph can tag their log lines with it.
package correlation

import "context"

type contextKey struct{}

// WithQueryID returns a context carrying id. An empty id leaves ctx as is.
func WithQueryID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, id)
}

// QueryID returns the query id from ctx, or "" if none was set.
func QueryID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}
