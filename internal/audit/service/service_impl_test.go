package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	"github.com/smallbiznis/pitboss/internal/audit/repository"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	"github.com/smallbiznis/pitboss/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newAuditService(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&auditdomain.AuditLog{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	clk := clock.NewFakeClock(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	svc := NewService(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  repository.Provide(),
		Clock: clk,
	})
	return svc, db, clk
}

func TestAuditLogTx_RollsBackWithTransaction(t *testing.T) {
	svc, db, _ := newAuditService(t)
	ctx := orgcontext.WithOrgID(context.Background(), 7)

	err := db.Transaction(func(tx *gorm.DB) error {
		if err := svc.AuditLogTx(ctx, tx, auditdomain.Record{Action: auditdomain.ActionVisitClosed, TargetType: "visit", TargetID: "1"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestAuditLogTx_Validation(t *testing.T) {
	svc, db, _ := newAuditService(t)

	err := svc.AuditLogTx(context.Background(), db, auditdomain.Record{Action: " "})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidAction)

	err = svc.AuditLogTx(context.Background(), db, auditdomain.Record{Action: auditdomain.ActionVisitClosed})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidOrganization)

	ctx := orgcontext.WithOrgID(context.Background(), 7)
	err = svc.AuditLogTx(ctx, db, auditdomain.Record{Action: auditdomain.ActionManualEntryLogged, ActorType: auditdomain.ActorTypeStaff})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidActor)

	err = svc.AuditLogTx(ctx, db, auditdomain.Record{Action: auditdomain.ActionManualEntryLogged, ActorType: "robot", ActorID: "r2"})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidActor)

	require.NoError(t, svc.AuditLogTx(ctx, db, auditdomain.Record{Action: auditdomain.ActionManualEntryLogged, ActorType: auditdomain.ActorTypeStaff, ActorID: "staff-9"}))
}

func TestList_PaginatesNewestFirst(t *testing.T) {
	svc, db, clk := newAuditService(t)
	ctx := orgcontext.WithOrgID(context.Background(), 7)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.AuditLogTx(ctx, db, auditdomain.Record{
			Action:     auditdomain.ActionVisitClosed,
			TargetType: "visit",
			TargetID:   fmt.Sprintf("%d", i),
			Metadata:   map[string]any{"reason": "manual"},
		}))
		clk.Advance(time.Minute)
	}
	require.NoError(t, svc.AuditLogTx(orgcontext.WithOrgID(context.Background(), 8), db, auditdomain.Record{Action: auditdomain.ActionVisitClosed}))

	first, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: paginationOf("", 2)})
	require.NoError(t, err)
	require.Len(t, first.AuditLogs, 2)
	assert.True(t, first.HasMore)
	assert.Equal(t, "2", *first.AuditLogs[0].TargetID)
	assert.Equal(t, string(auditdomain.ActorTypeSystem), first.AuditLogs[0].ActorType)

	second, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: paginationOf(first.NextPageToken, 2)})
	require.NoError(t, err)
	require.Len(t, second.AuditLogs, 1)
	assert.False(t, second.HasMore)
	assert.Equal(t, "0", *second.AuditLogs[0].TargetID)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{Pagination: paginationOf("not-a-token!", 2)})
	assert.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}

func paginationOf(token string, size int) pagination.Pagination {
	return pagination.Pagination{PageToken: token, PageSize: size}
}
