package rollover

import (
	"context"
	"testing"
	"time"

	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	auditrepo "github.com/smallbiznis/pitboss/internal/audit/repository"
	auditservice "github.com/smallbiznis/pitboss/internal/audit/service"
	"github.com/smallbiznis/pitboss/internal/lock"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	slipservice "github.com/smallbiznis/pitboss/internal/ratingslip/service"
	"github.com/smallbiznis/pitboss/internal/testkit"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	visitservice "github.com/smallbiznis/pitboss/internal/visit/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestSweeper_ClosesVisitsFromPastGamingDays(t *testing.T) {
	db := testkit.NewDB(t)
	clk := testkit.Clock()
	node := testkit.Node(t)
	locker := lock.NewLocal()
	settings := testkit.Settings(t)
	log := zap.NewNop()
	ctx := testkit.OrgContext()

	audit := auditservice.NewService(auditservice.Params{DB: db, Log: log, GenID: node, Repo: auditrepo.Provide(), Clock: clk})
	slips := slipservice.NewService(slipservice.Params{DB: db, Log: log, GenID: node, Clock: clk, Locker: locker})
	visits := visitservice.NewService(visitservice.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Locker: locker,
		Settings: settings, SlipCloser: slips, AuditSvc: audit,
	})
	core, logs := observer.New(zapcore.InfoLevel)
	sweeper, err := New(Params{
		DB: db, Log: zap.New(core), GenID: node, Clock: clk,
		Settings: settings, VisitSvc: visits,
		Config: Config{BatchSize: 1},
	})
	require.NoError(t, err)

	rated, err := visits.StartOrResume(ctx, visitdomain.StartRequest{PlayerID: "5001"})
	require.NoError(t, err)
	_, err = visits.StartOrResume(ctx, visitdomain.StartRequest{PlayerID: "5002", Kind: visitdomain.KindUnrated})
	require.NoError(t, err)
	_, err = visits.StartOrResume(ctx, visitdomain.StartRequest{Kind: visitdomain.KindGhost})
	require.NoError(t, err)
	slip, err := slips.Open(ctx, slipdomain.OpenRequest{VisitID: rated.Visit.ID.String(), TableID: "BJ-01"})
	require.NoError(t, err)

	// Still gaming day 2024-03-01 at 05:00 the next morning.
	clk.Set(time.Date(2024, 3, 2, 5, 0, 0, 0, time.UTC))
	require.NoError(t, sweeper.RunOnce(context.Background()))
	assertOpenVisits(t, ctx, visits, rated.Visit.ID.String(), true)

	clk.Set(time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC))
	today, err := visits.StartOrResume(ctx, visitdomain.StartRequest{PlayerID: "5003"})
	require.NoError(t, err)

	require.NoError(t, sweeper.RunOnce(context.Background()))

	var open []visitdomain.Visit
	require.NoError(t, db.Where("ended_at IS NULL").Find(&open).Error)
	require.Len(t, open, 1)
	assert.Equal(t, today.Visit.ID, open[0].ID)

	var rolled int64
	require.NoError(t, db.Model(&visitdomain.Visit{}).Where("close_reason = ?", visitdomain.CloseReasonRollover).Count(&rolled).Error)
	assert.Equal(t, int64(3), rolled)

	closedSlip, err := slips.Get(ctx, slip.ID.String())
	require.NoError(t, err)
	assert.Equal(t, slipdomain.CloseReasonVisitClosed, *closedSlip.CloseReason)
	assert.Equal(t, int64(21*60*60), *closedSlip.FinalDurationSeconds)

	finished := logs.FilterMessage("rollover sweep finished").All()
	require.Len(t, finished, 2)
	first, second := finished[0].ContextMap(), finished[1].ContextMap()
	assert.Equal(t, int64(3), first["scanned"])
	assert.Equal(t, int64(3), first["current"])
	assert.Equal(t, int64(0), first["closed"])
	assert.Equal(t, int64(4), second["scanned"])
	assert.Equal(t, int64(1), second["current"])
	assert.Equal(t, int64(3), second["closed"])
	assert.Equal(t, int64(1), second["orgs"])
	assert.NotEqual(t, first["run_id"], second["run_id"])
	assert.Equal(t, second["run_id"], second["correlation_id"])

	var audits int64
	require.NoError(t, db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionVisitRolledOver).Count(&audits).Error)
	assert.Equal(t, int64(3), audits)

	// A second sweep finds nothing left to close.
	require.NoError(t, sweeper.RunOnce(context.Background()))
	require.NoError(t, db.Model(&visitdomain.Visit{}).Where("close_reason = ?", visitdomain.CloseReasonRollover).Count(&rolled).Error)
	assert.Equal(t, int64(3), rolled)

	// The player's next visit keeps the group of the swept visit.
	next, err := visits.StartOrResume(ctx, visitdomain.StartRequest{PlayerID: "5001"})
	require.NoError(t, err)
	assert.True(t, next.IsNew)
	assert.Equal(t, rated.Visit.GroupID, next.Visit.GroupID)
}

func TestNew_RequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	cfg = Config{RunInterval: 5 * time.Second, BatchSize: 7}.withDefaults()
	assert.Equal(t, 5*time.Second, cfg.RunInterval)
	assert.Equal(t, 7, cfg.BatchSize)
}

func assertOpenVisits(t *testing.T, ctx context.Context, visits visitdomain.Service, visitID string, open bool) {
	t.Helper()
	visit, err := visits.Get(ctx, visitID)
	require.NoError(t, err)
	assert.Equal(t, open, visit.Active())
}
