package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	"github.com/smallbiznis/pitboss/internal/lock"
	obsmetrics "github.com/smallbiznis/pitboss/internal/observability/metrics"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"github.com/smallbiznis/pitboss/pkg/db"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     lock.Locker
	Settings   config.TenantSettingsProvider
	SlipCloser visitdomain.SlipCloser
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	locker     lock.Locker
	settings   config.TenantSettingsProvider
	slipCloser visitdomain.SlipCloser
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) visitdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("visit.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		locker:     p.Locker,
		settings:   p.Settings,
		slipCloser: p.SlipCloser,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) StartOrResume(ctx context.Context, req visitdomain.StartRequest) (*visitdomain.StartResult, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	kind := visitdomain.Kind(strings.TrimSpace(string(req.Kind)))
	if kind == "" {
		kind = visitdomain.KindRated
	}
	if !kind.Valid() {
		return nil, visitdomain.ErrInvalidVisitKind
	}

	rawPlayer := strings.TrimSpace(req.PlayerID)
	var playerID snowflake.ID
	switch {
	case !kind.Identified():
		if rawPlayer != "" {
			return nil, visitdomain.ErrAnonymousVisitHasPlayer
		}
	case rawPlayer == "":
		if archetype, _ := kind.Archetype(); archetype.AccrualEligible {
			return nil, visitdomain.ErrSubjectRequiredForAccrual
		}
		return nil, visitdomain.ErrPlayerRequired
	default:
		playerID, err = parseID(rawPlayer, visitdomain.ErrInvalidPlayer)
		if err != nil {
			return nil, err
		}
	}

	settings, err := s.settings.TenantSettings(orgID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	day := gamingday.Resolve(now, settings.Cutoff)
	note := normalizeNote(req.Note)

	if !kind.Identified() {
		visit := s.newVisit(orgID, nil, day, kind, 0, now, note)
		if err := s.db.WithContext(ctx).Create(&visit).Error; err != nil {
			return nil, err
		}
		s.obsMetrics.RecordVisitStarted(ctx, string(kind), false)
		return &visitdomain.StartResult{Visit: visit, IsNew: true}, nil
	}

	release, err := s.locker.Lock(ctx, lock.PlayerKey(orgID, playerID))
	if err != nil {
		return nil, fmt.Errorf("lock player: %w", err)
	}
	defer release()

	actives, err := s.activeVisitsForPlayer(ctx, s.db, orgID, playerID)
	if err != nil {
		return nil, err
	}

	var stale []visitdomain.Visit
	for _, active := range actives {
		if active.GamingDay == day {
			s.obsMetrics.RecordVisitResumed(ctx, string(active.Kind))
			return &visitdomain.StartResult{Visit: active}, nil
		}
		stale = append(stale, active)
	}

	// Lock order is player then visit.
	for _, prev := range stale {
		releaseVisit, err := s.locker.Lock(ctx, lock.VisitKey(orgID, prev.ID))
		if err != nil {
			return nil, fmt.Errorf("lock visit: %w", err)
		}
		defer releaseVisit()
	}

	groupID, err := s.inheritedGroupID(ctx, orgID, playerID, stale)
	if err != nil {
		return nil, err
	}

	visit := s.newVisit(orgID, &playerID, day, kind, groupID, now, note)
	var previous *snowflake.ID
	closedCount := 0
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		closedCount = 0
		for i := range stale {
			closed, err := s.closeTx(ctx, tx, orgID, stale[i].ID, visitdomain.CloseReasonRollover, now)
			if err != nil {
				if errors.Is(err, visitdomain.ErrVisitAlreadyClosed) {
					continue
				}
				return err
			}
			id := closed.ID
			previous = &id
			closedCount++
		}
		return tx.Create(&visit).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return s.resumeAfterConflict(ctx, orgID, playerID, day, err)
		}
		return nil, err
	}

	rolledOver := previous != nil
	for i := 0; i < closedCount; i++ {
		s.obsMetrics.RecordVisitClosed(ctx, string(visitdomain.CloseReasonRollover))
	}
	s.obsMetrics.RecordVisitStarted(ctx, string(kind), rolledOver)
	if rolledOver {
		s.log.Info("visit rolled over",
			zap.String("org_id", orgID.String()),
			zap.String("player_id", playerID.String()),
			zap.String("previous_visit_id", previous.String()),
			zap.String("visit_id", visit.ID.String()),
			zap.String("gaming_day", day.String()),
		)
	}

	return &visitdomain.StartResult{
		Visit:           visit,
		IsNew:           true,
		RolledOver:      rolledOver,
		PreviousVisitID: previous,
	}, nil
}

func (s *Service) Close(ctx context.Context, visitID string, reason visitdomain.CloseReason) (*visitdomain.Visit, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(visitID, visitdomain.ErrInvalidVisit)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = visitdomain.CloseReasonCheckout
	}
	if !reason.Valid() {
		return nil, visitdomain.ErrInvalidCloseReason
	}

	release, err := s.locker.Lock(ctx, lock.VisitKey(orgID, id))
	if err != nil {
		return nil, fmt.Errorf("lock visit: %w", err)
	}
	defer release()

	var closed *visitdomain.Visit
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		closed, err = s.closeTx(ctx, tx, orgID, id, reason, s.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordVisitClosed(ctx, string(reason))
	return closed, nil
}

func (s *Service) Classify(ctx context.Context, visitID string) (visitdomain.Archetype, error) {
	visit, err := s.Get(ctx, visitID)
	if err != nil {
		return visitdomain.Archetype{}, err
	}
	archetype, ok := visit.Kind.Archetype()
	if !ok {
		return visitdomain.Archetype{}, visitdomain.ErrInvalidVisitKind
	}
	return archetype, nil
}

func (s *Service) Get(ctx context.Context, visitID string) (*visitdomain.Visit, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(visitID, visitdomain.ErrInvalidVisit)
	if err != nil {
		return nil, err
	}

	var visit visitdomain.Visit
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND id = ?", orgID, id).
		Take(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, visitdomain.ErrVisitNotFound
		}
		return nil, err
	}
	return &visit, nil
}

func (s *Service) GetActiveForPlayer(ctx context.Context, playerID string) (*visitdomain.Visit, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	pid, err := parseID(playerID, visitdomain.ErrInvalidPlayer)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.TenantSettings(orgID)
	if err != nil {
		return nil, err
	}
	day := gamingday.Resolve(s.now(), settings.Cutoff)

	var visit visitdomain.Visit
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND player_id = ? AND gaming_day = ? AND ended_at IS NULL", orgID, pid, day).
		Take(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &visit, nil
}

// closeTx ends a visit and its open slip. The caller holds the visit lock.
func (s *Service) closeTx(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID, reason visitdomain.CloseReason, at time.Time) (*visitdomain.Visit, error) {
	var visit visitdomain.Visit
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, visitID).
		Take(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, visitdomain.ErrVisitNotFound
		}
		return nil, err
	}
	if !visit.Active() {
		return nil, visitdomain.ErrVisitAlreadyClosed
	}

	result := tx.WithContext(ctx).Model(&visitdomain.Visit{}).
		Where("org_id = ? AND id = ? AND ended_at IS NULL", orgID, visitID).
		Updates(map[string]any{
			"ended_at":     at,
			"close_reason": reason,
			"updated_at":   at,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, visitdomain.ErrVisitAlreadyClosed
	}
	visit.EndedAt = &at
	visit.CloseReason = &reason
	visit.UpdatedAt = at

	closedSlips, err := s.slipCloser.CloseOpenSlipsTx(ctx, tx, orgID, visitID, at)
	if err != nil {
		return nil, err
	}

	action := auditdomain.ActionVisitClosed
	if reason == visitdomain.CloseReasonRollover {
		action = auditdomain.ActionVisitRolledOver
	}
	if s.auditSvc != nil {
		metadata := map[string]any{
			"reason":       string(reason),
			"gaming_day":   visit.GamingDay.String(),
			"closed_slips": closedSlips,
		}
		if err := s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Record{
			OrgID:      orgID,
			Action:     action,
			TargetType: "visit",
			TargetID:   visitID.String(),
			Metadata:   metadata,
			At:         at,
		}); err != nil {
			return nil, err
		}
	}

	return &visit, nil
}

func (s *Service) activeVisitsForPlayer(ctx context.Context, conn *gorm.DB, orgID, playerID snowflake.ID) ([]visitdomain.Visit, error) {
	var visits []visitdomain.Visit
	err := conn.WithContext(ctx).
		Where("org_id = ? AND player_id = ? AND ended_at IS NULL", orgID, playerID).
		Order("started_at desc").
		Find(&visits).Error
	if err != nil {
		return nil, err
	}
	return visits, nil
}

// inheritedGroupID carries the group link of the most recent visit across a
// rollover, including one already closed by the eager sweeper. Zero means a new group.
func (s *Service) inheritedGroupID(ctx context.Context, orgID, playerID snowflake.ID, stale []visitdomain.Visit) (snowflake.ID, error) {
	if len(stale) > 0 {
		return groupOf(stale[0]), nil
	}

	var last visitdomain.Visit
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND player_id = ?", orgID, playerID).
		Order("started_at desc").
		Take(&last).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if last.CloseReason != nil && *last.CloseReason == visitdomain.CloseReasonRollover {
		return groupOf(last), nil
	}
	return 0, nil
}

// resumeAfterConflict handles an insert that lost the race on the active
// visit index. Losing that race while holding the player lock means two
// lockers disagree, so it is logged as an integrity problem even when a
// winner can be resumed.
func (s *Service) resumeAfterConflict(ctx context.Context, orgID, playerID snowflake.ID, day gamingday.Day, cause error) (*visitdomain.StartResult, error) {
	logger := ctxlogger.WithContext(ctx, s.log).With(zap.String("constraint", db.ViolatedConstraint(cause)))
	s.obsMetrics.RecordIntegrityViolation(ctx, visitdomain.ErrDuplicateActiveVisit.Error())

	var winner visitdomain.Visit
	err := s.db.WithContext(ctx).
		Where("org_id = ? AND player_id = ? AND gaming_day = ? AND ended_at IS NULL", orgID, playerID, day).
		Take(&winner).Error
	if err != nil {
		logger.Error("active visit conflict could not be resolved",
			zap.Bool("integrity_violation", true),
			zap.String("player_id", playerID.String()),
			zap.String("gaming_day", day.String()),
			zap.Error(err),
		)
		return nil, visitdomain.ErrDuplicateActiveVisit
	}

	logger.Error("active visit created concurrently despite player lock",
		zap.Bool("integrity_violation", true),
		zap.String("player_id", playerID.String()),
		zap.String("visit_id", winner.ID.String()),
	)
	s.obsMetrics.RecordVisitResumed(ctx, string(winner.Kind))
	return &visitdomain.StartResult{Visit: winner}, nil
}

func (s *Service) newVisit(orgID snowflake.ID, playerID *snowflake.ID, day gamingday.Day, kind visitdomain.Kind, groupID snowflake.ID, now time.Time, note *string) visitdomain.Visit {
	id := s.genID.Generate()
	if groupID == 0 {
		groupID = id
	}
	return visitdomain.Visit{
		ID:        id,
		OrgID:     orgID,
		PlayerID:  playerID,
		GamingDay: day,
		Kind:      kind,
		GroupID:   groupID,
		StartedAt: now,
		Note:      note,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	return orgcontext.Require(ctx, visitdomain.ErrInvalidOrganization)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func groupOf(v visitdomain.Visit) snowflake.ID {
	if v.GroupID != 0 {
		return v.GroupID
	}
	return v.ID
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}

func normalizeNote(note string) *string {
	trimmed := strings.TrimSpace(note)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
