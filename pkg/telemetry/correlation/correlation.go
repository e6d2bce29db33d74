// Package correlation carries the id that ties together the log lines and
// spans of one engine operation, such as a rollover run or a manual entry.
package correlation

import (
	"context"
	"strings"

	"github.com/oklog/ulid/v2"
)

type ctxKey struct{}

// Separator joins a parent id and a child segment.
const Separator = "/"

// ExtractCorrelationID returns the id on ctx, or "" when none was set.
func ExtractCorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// ContextWithCorrelationID stores id on ctx. Blank ids leave ctx untouched.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, id)
}

// EnsureCorrelationID keeps an existing id or mints a ulid.
func EnsureCorrelationID(ctx context.Context) (context.Context, string) {
	if id := ExtractCorrelationID(ctx); id != "" {
		return ctx, id
	}
	id := ulid.Make().String()
	return ContextWithCorrelationID(ctx, id), id
}

// Child scopes segment under the id already on ctx, so a rollover run logged
// as "<loop>/<run>" can be traced back to the loop that started it. Without a
// parent the segment becomes the id.
func Child(ctx context.Context, segment string) (context.Context, string) {
	segment = strings.Trim(strings.TrimSpace(segment), Separator)
	if segment == "" {
		return EnsureCorrelationID(ctx)
	}
	id := segment
	if parent := ExtractCorrelationID(ctx); parent != "" {
		id = parent + Separator + segment
	}
	return ContextWithCorrelationID(ctx, id), id
}

// Root returns the first segment of the id on ctx.
func Root(ctx context.Context) string {
	id := ExtractCorrelationID(ctx)
	if i := strings.Index(id, Separator); i >= 0 {
		return id[:i]
	}
	return id
}
