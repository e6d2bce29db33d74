// Package repository is a small generic gorm store for tenant-scoped rows.
// It never adds the org filter itself; callers put org_id in the query struct.
package repository

import (
	"context"

	"github.com/smallbiznis/pitboss/pkg/db"
	"gorm.io/gorm"
)

// QueryOption adjusts a query before it runs.
type QueryOption func(*gorm.DB) *gorm.DB

type Repository[T any] interface {
	// WithTrx binds the store to tx so reads and writes join the caller's transaction.
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	// FindOne returns nil, nil when nothing matches.
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	Exists(ctx context.Context, query *T, opts ...QueryOption) (bool, error)
	Create(ctx context.Context, resource *T) error
	Count(ctx context.Context, query *T, opts ...QueryOption) (int64, error)
}

func OrderBy(expr string) QueryOption {
	return func(q *gorm.DB) *gorm.DB { return q.Order(expr) }
}

// Limit ignores non-positive n.
func Limit(n int) QueryOption {
	return func(q *gorm.DB) *gorm.DB {
		if n <= 0 {
			return q
		}
		return q.Limit(n)
	}
}

func Where(query any, args ...any) QueryOption {
	return func(q *gorm.DB) *gorm.DB { return q.Where(query, args...) }
}

// Locked takes a row lock on the matched rows where the dialect has them.
// Only meaningful on a store bound to a transaction.
func Locked() QueryOption {
	return db.ForUpdate
}
