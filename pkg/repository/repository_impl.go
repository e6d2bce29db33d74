package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type store[T any] struct {
	conn *gorm.DB
}

func ProvideStore[T any](conn *gorm.DB) Repository[T] {
	return &store[T]{conn: conn}
}

func (r *store[T]) WithTrx(tx *gorm.DB) Repository[T] {
	if tx == nil {
		return r
	}
	return &store[T]{conn: tx}
}

func (r *store[T]) Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error) {
	var rows []*T
	if err := r.scoped(ctx, query, opts).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *store[T]) FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error) {
	row := new(T)
	err := r.scoped(ctx, query, opts).Take(row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	return row, nil
}

func (r *store[T]) Exists(ctx context.Context, query *T, opts ...QueryOption) (bool, error) {
	var n int64
	err := r.scoped(ctx, query, append(opts, Limit(1))).Count(&n).Error
	return n > 0, err
}

func (r *store[T]) Create(ctx context.Context, resource *T) error {
	return r.conn.WithContext(ctx).Create(resource).Error
}

func (r *store[T]) Count(ctx context.Context, query *T, opts ...QueryOption) (int64, error) {
	var n int64
	err := r.scoped(ctx, query, opts).Count(&n).Error
	return n, err
}

// scoped applies the zero-value-skipping struct filter, then opts in order.
func (r *store[T]) scoped(ctx context.Context, query *T, opts []QueryOption) *gorm.DB {
	q := r.conn.WithContext(ctx).Model(new(T))
	if query != nil {
		q = q.Where(query)
	}
	for _, opt := range opts {
		q = opt(q)
	}
	return q
}
