// Package orgcontext carries the casino property (organization) every engine
// operation is scoped to. Rows of one property are invisible to another.
package orgcontext

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
)

// OrgContextKey is the context key for the organization in scope.
type OrgContextKey struct{}

var ErrMissingOrg = errors.New("missing_organization")

// WithOrgID scopes ctx to orgID.
func WithOrgID(ctx context.Context, orgID int64) context.Context {
	return context.WithValue(ctx, OrgContextKey{}, snowflake.ID(orgID))
}

// OrgIDFromContext returns the org in scope. Ids placed on the context as
// int64 or decimal strings by outer layers are accepted; zero never is.
func OrgIDFromContext(ctx context.Context) (snowflake.ID, bool) {
	if ctx == nil {
		return 0, false
	}

	var id snowflake.ID
	switch v := ctx.Value(OrgContextKey{}).(type) {
	case snowflake.ID:
		id = v
	case int64:
		id = snowflake.ID(v)
	case string:
		parsed, err := snowflake.ParseString(strings.TrimSpace(v))
		if err != nil {
			return 0, false
		}
		id = parsed
	}
	return id, id != 0
}

// Require returns the org in scope or missing. A nil missing falls back to
// ErrMissingOrg so each service can report its own sentinel.
func Require(ctx context.Context, missing error) (snowflake.ID, error) {
	if id, ok := OrgIDFromContext(ctx); ok {
		return id, nil
	}
	if missing == nil {
		missing = ErrMissingOrg
	}
	return 0, missing
}
