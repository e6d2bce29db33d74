package repository

import (
	"context"
	"strings"

	"github.com/smallbiznis/pitboss/internal/audit/domain"
	"github.com/smallbiznis/pitboss/pkg/repository"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

// Insert writes on db, which is normally the caller's transaction.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, entry *domain.AuditLog) error {
	if entry == nil {
		return nil
	}
	return repository.ProvideStore[domain.AuditLog](db).Create(ctx, entry)
}

// List returns at most filter.Limit+1 rows, newest first, so the caller can
// tell whether another page exists.
func (r *repo) List(ctx context.Context, db *gorm.DB, filter domain.ListFilter) ([]*domain.AuditLog, error) {
	store := repository.ProvideStore[domain.AuditLog](db)
	return store.Find(ctx, &domain.AuditLog{OrgID: filter.OrgID}, listOptions(filter)...)
}

func listOptions(filter domain.ListFilter) []repository.QueryOption {
	var opts []repository.QueryOption

	columns := map[string]string{
		"action":      filter.Action,
		"target_type": filter.TargetType,
		"target_id":   filter.TargetID,
	}
	for _, column := range []string{"action", "target_type", "target_id"} {
		if value := strings.TrimSpace(columns[column]); value != "" {
			opts = append(opts, repository.Where(column+" = ?", value))
		}
	}

	if filter.StartAt != nil {
		opts = append(opts, repository.Where("created_at >= ?", filter.StartAt.UTC()))
	}
	if filter.EndAt != nil {
		opts = append(opts, repository.Where("created_at <= ?", filter.EndAt.UTC()))
	}
	if c := filter.Cursor; c != nil {
		opts = append(opts, repository.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			c.CreatedAt, c.CreatedAt, c.ID,
		))
	}

	opts = append(opts, repository.OrderBy("created_at desc, id desc"))
	if filter.Limit > 0 {
		opts = append(opts, repository.Limit(filter.Limit+1))
	}
	return opts
}
