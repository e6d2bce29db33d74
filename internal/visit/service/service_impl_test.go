package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	auditrepo "github.com/smallbiznis/pitboss/internal/audit/repository"
	auditservice "github.com/smallbiznis/pitboss/internal/audit/service"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	"github.com/smallbiznis/pitboss/internal/lock"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	slipservice "github.com/smallbiznis/pitboss/internal/ratingslip/service"
	"github.com/smallbiznis/pitboss/internal/testkit"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"github.com/smallbiznis/pitboss/pkg/domainerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db     *gorm.DB
	clk    *clock.FakeClock
	node   *snowflake.Node
	visits visitdomain.Service
	slips  slipdomain.Service
	ctx    context.Context
}

func newFixture(t *testing.T, closer ...visitdomain.SlipCloser) *fixture {
	t.Helper()

	db := testkit.NewDB(t)
	clk := testkit.Clock()
	node := testkit.Node(t)
	locker := lock.NewLocal()

	slips := slipservice.NewService(slipservice.Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Locker: locker,
	})
	var slipCloser visitdomain.SlipCloser = slips
	if len(closer) > 0 {
		slipCloser = closer[0]
	}

	audit := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Repo:  auditrepo.Provide(),
		Clock: clk,
	})

	visits := NewService(Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      clk,
		Locker:     locker,
		Settings:   testkit.Settings(t),
		SlipCloser: slipCloser,
		AuditSvc:   audit,
	})

	return &fixture{db: db, clk: clk, node: node, visits: visits, slips: slips, ctx: testkit.OrgContext()}
}

const player = "5001"

func TestStartOrResume_CreatesThenResumes(t *testing.T) {
	f := newFixture(t)

	first, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player, Kind: visitdomain.KindRated})
	require.NoError(t, err)
	assert.True(t, first.IsNew)
	assert.False(t, first.RolledOver)
	assert.Equal(t, gamingday.Day("2024-03-01"), first.Visit.GamingDay)
	assert.Equal(t, first.Visit.ID, first.Visit.GroupID)

	f.clk.Advance(2 * time.Hour)
	again, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	assert.False(t, again.IsNew)
	assert.Equal(t, first.Visit.ID, again.Visit.ID)

	active, err := f.visits.GetActiveForPlayer(f.ctx, player)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, first.Visit.ID, active.ID)
}

func TestStartOrResume_Validation(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name string
		ctx  context.Context
		req  visitdomain.StartRequest
		want error
	}{
		{name: "missing org", ctx: context.Background(), req: visitdomain.StartRequest{PlayerID: player}, want: visitdomain.ErrInvalidOrganization},
		{name: "rated without player", ctx: f.ctx, req: visitdomain.StartRequest{Kind: visitdomain.KindRated}, want: visitdomain.ErrSubjectRequiredForAccrual},
		{name: "unrated without player", ctx: f.ctx, req: visitdomain.StartRequest{Kind: visitdomain.KindUnrated}, want: visitdomain.ErrPlayerRequired},
		{name: "ghost with player", ctx: f.ctx, req: visitdomain.StartRequest{Kind: visitdomain.KindGhost, PlayerID: player}, want: visitdomain.ErrAnonymousVisitHasPlayer},
		{name: "unknown kind", ctx: f.ctx, req: visitdomain.StartRequest{Kind: "vip", PlayerID: player}, want: visitdomain.ErrInvalidVisitKind},
		{name: "bad player id", ctx: f.ctx, req: visitdomain.StartRequest{PlayerID: "abc"}, want: visitdomain.ErrInvalidPlayer},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.visits.StartOrResume(tc.ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, domainerr.KindValidation, domainerr.KindOf(err))
		})
	}
}

func TestStartOrResume_GhostVisitsAreNeverShared(t *testing.T) {
	f := newFixture(t)

	a, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{Kind: visitdomain.KindGhost})
	require.NoError(t, err)
	b, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{Kind: visitdomain.KindGhost})
	require.NoError(t, err)

	assert.True(t, a.IsNew)
	assert.True(t, b.IsNew)
	assert.NotEqual(t, a.Visit.ID, b.Visit.ID)
	assert.Nil(t, a.Visit.PlayerID)
}

func TestStartOrResume_ConcurrentCallsShareOneVisit(t *testing.T) {
	f := newFixture(t)

	const callers = 8
	ids := make([]snowflake.ID, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
			if !assert.NoError(t, err) {
				return
			}
			ids[i] = res.Visit.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	var active int64
	require.NoError(t, f.db.Model(&visitdomain.Visit{}).Where("ended_at IS NULL").Count(&active).Error)
	assert.Equal(t, int64(1), active)
}

func TestStartOrResume_RolloverAcrossGamingDay(t *testing.T) {
	f := newFixture(t)

	first, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	slip, err := f.slips.Open(f.ctx, slipdomain.OpenRequest{VisitID: first.Visit.ID.String(), TableID: "BJ-01", Seat: "3"})
	require.NoError(t, err)

	// 05:59 the next morning still belongs to 2024-03-01.
	f.clk.Set(time.Date(2024, 3, 2, 5, 59, 0, 0, time.UTC))
	same, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	assert.Equal(t, first.Visit.ID, same.Visit.ID)

	f.clk.Set(time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC))
	next, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	assert.True(t, next.IsNew)
	assert.True(t, next.RolledOver)
	require.NotNil(t, next.PreviousVisitID)
	assert.Equal(t, first.Visit.ID, *next.PreviousVisitID)
	assert.Equal(t, first.Visit.GroupID, next.Visit.GroupID)
	assert.Equal(t, gamingday.Day("2024-03-02"), next.Visit.GamingDay)

	old, err := f.visits.Get(f.ctx, first.Visit.ID.String())
	require.NoError(t, err)
	require.NotNil(t, old.EndedAt)
	require.NotNil(t, old.CloseReason)
	assert.Equal(t, visitdomain.CloseReasonRollover, *old.CloseReason)

	closedSlip, err := f.slips.Get(f.ctx, slip.ID.String())
	require.NoError(t, err)
	assert.Equal(t, slipdomain.StatusClosed, closedSlip.Status)
	require.NotNil(t, closedSlip.FinalDurationSeconds)
	assert.Equal(t, int64(21*60*60), *closedSlip.FinalDurationSeconds)

	var audits int64
	require.NoError(t, f.db.Model(&auditdomain.AuditLog{}).Where("action = ?", auditdomain.ActionVisitRolledOver).Count(&audits).Error)
	assert.Equal(t, int64(1), audits)
}

func TestStartOrResume_InheritsGroupAfterSweeperClose(t *testing.T) {
	f := newFixture(t)

	first, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)

	f.clk.Set(time.Date(2024, 3, 2, 6, 30, 0, 0, time.UTC))
	_, err = f.visits.Close(f.ctx, first.Visit.ID.String(), visitdomain.CloseReasonRollover)
	require.NoError(t, err)

	next, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	assert.True(t, next.IsNew)
	assert.False(t, next.RolledOver)
	assert.Equal(t, first.Visit.GroupID, next.Visit.GroupID)

	// A checkout starts a fresh group.
	_, err = f.visits.Close(f.ctx, next.Visit.ID.String(), visitdomain.CloseReasonCheckout)
	require.NoError(t, err)
	fresh, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	assert.Equal(t, fresh.Visit.ID, fresh.Visit.GroupID)
}

func TestClose_ClosesSlipAndRejectsSecondClose(t *testing.T) {
	f := newFixture(t)

	started, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)
	visitID := started.Visit.ID.String()

	slip, err := f.slips.Open(f.ctx, slipdomain.OpenRequest{VisitID: visitID, TableID: "BJ-01"})
	require.NoError(t, err)

	f.clk.Advance(40 * time.Minute)
	closed, err := f.visits.Close(f.ctx, visitID, "")
	require.NoError(t, err)
	require.NotNil(t, closed.CloseReason)
	assert.Equal(t, visitdomain.CloseReasonCheckout, *closed.CloseReason)

	got, err := f.slips.Get(f.ctx, slip.ID.String())
	require.NoError(t, err)
	assert.Equal(t, slipdomain.StatusClosed, got.Status)
	assert.Equal(t, int64(2400), *got.FinalDurationSeconds)

	_, err = f.visits.Close(f.ctx, visitID, visitdomain.CloseReasonCheckout)
	assert.ErrorIs(t, err, visitdomain.ErrVisitAlreadyClosed)
	assert.Equal(t, domainerr.KindState, domainerr.KindOf(err))

	_, err = f.visits.Close(f.ctx, visitID, "lost")
	assert.ErrorIs(t, err, visitdomain.ErrInvalidCloseReason)

	_, err = f.visits.Close(f.ctx, "99", visitdomain.CloseReasonCheckout)
	assert.ErrorIs(t, err, visitdomain.ErrVisitNotFound)
}

func TestClassify(t *testing.T) {
	f := newFixture(t)

	started, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player, Kind: visitdomain.KindRewardOnly})
	require.NoError(t, err)

	archetype, err := f.visits.Classify(f.ctx, started.Visit.ID.String())
	require.NoError(t, err)
	assert.Equal(t, visitdomain.IdentityIdentified, archetype.IdentityScope)
	assert.Equal(t, visitdomain.EngagementRewardOnly, archetype.EngagementMode)
	assert.False(t, archetype.AccrualEligible)
}

func TestGet_IsTenantScoped(t *testing.T) {
	f := newFixture(t)

	started, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)

	other := testkit.OtherOrgContext()
	_, err = f.visits.Get(other, started.Visit.ID.String())
	assert.ErrorIs(t, err, visitdomain.ErrVisitNotFound)
}

// racingSlipCloser inserts a competing active visit inside the rollover
// transaction, the way a second process with its own locker would.
type racingSlipCloser struct {
	node   *snowflake.Node
	player snowflake.ID
	day    gamingday.Day
	at     time.Time
}

func (r racingSlipCloser) CloseOpenSlipsTx(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID, at time.Time) (int, error) {
	id := r.node.Generate()
	player := r.player
	return 0, tx.Create(&visitdomain.Visit{
		ID:        id,
		OrgID:     orgID,
		PlayerID:  &player,
		GamingDay: r.day,
		Kind:      visitdomain.KindRated,
		GroupID:   id,
		StartedAt: r.at,
		CreatedAt: r.at,
		UpdatedAt: r.at,
	}).Error
}

func TestStartOrResume_UnresolvableConflictIsIntegrityError(t *testing.T) {
	node := testkit.Node(t)
	playerID := snowflake.ID(5001)
	closer := racingSlipCloser{
		node:   node,
		player: playerID,
		day:    "2024-03-02",
		at:     time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC),
	}
	f := newFixture(t, closer)

	_, err := f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	require.NoError(t, err)

	f.clk.Set(time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC))
	_, err = f.visits.StartOrResume(f.ctx, visitdomain.StartRequest{PlayerID: player})
	assert.ErrorIs(t, err, visitdomain.ErrDuplicateActiveVisit)
	assert.True(t, domainerr.IsIntegrity(err))
}
