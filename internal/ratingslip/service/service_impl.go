package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/lock"
	obsmetrics "github.com/smallbiznis/pitboss/internal/observability/metrics"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"github.com/smallbiznis/pitboss/pkg/db"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"github.com/smallbiznis/pitboss/pkg/repository"
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
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	locker     lock.Locker
	obsMetrics *obsmetrics.Metrics
	slips      repository.Repository[slipdomain.RatingSlip]
}

func NewService(p Params) slipdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("ratingslip.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		locker:     p.Locker,
		obsMetrics: p.ObsMetrics,
		slips:      repository.ProvideStore[slipdomain.RatingSlip](p.DB),
	}
}

func (s *Service) Open(ctx context.Context, req slipdomain.OpenRequest) (*slipdomain.RatingSlip, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	visitID, err := parseID(req.VisitID, slipdomain.ErrInvalidVisit)
	if err != nil {
		return nil, err
	}
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		return nil, slipdomain.ErrInvalidTable
	}
	seat := strings.TrimSpace(req.Seat)

	release, err := s.lockVisit(ctx, orgID, visitID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var slip slipdomain.RatingSlip
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		visit, err := s.loadVisitForUpdate(ctx, tx, orgID, visitID)
		if err != nil {
			return err
		}
		if !visit.Active() {
			return slipdomain.ErrVisitClosed
		}
		if !visit.Kind.Playable() {
			return slipdomain.ErrVisitNotPlayable
		}

		open, err := s.slips.WithTrx(tx).Exists(ctx, &slipdomain.RatingSlip{OrgID: orgID, VisitID: visitID}, notClosed())
		if err != nil {
			return err
		}
		if open {
			return slipdomain.ErrSlipAlreadyOpen
		}

		id := s.genID.Generate()
		slip = slipdomain.RatingSlip{
			ID:          id,
			OrgID:       orgID,
			VisitID:     visitID,
			TableID:     tableID,
			Seat:        seat,
			Status:      slipdomain.StatusOpen,
			StartTime:   now,
			MoveGroupID: id,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		return tx.Create(&slip).Error
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, s.integrityViolation(ctx, visitID, err)
		}
		return nil, err
	}

	s.obsMetrics.RecordSlipTransition(ctx, "open")
	return &slip, nil
}

func (s *Service) Pause(ctx context.Context, slipID string) (*slipdomain.RatingSlip, error) {
	return s.mutate(ctx, slipID, "pause", func(tx *gorm.DB, slip *slipdomain.RatingSlip, now time.Time) error {
		if slip.Status != slipdomain.StatusOpen {
			return slipdomain.ErrSlipNotOpen
		}
		pause := slipdomain.PauseInterval{
			ID:        s.genID.Generate(),
			OrgID:     slip.OrgID,
			SlipID:    slip.ID,
			StartedAt: now,
		}
		if err := tx.Create(&pause).Error; err != nil {
			return err
		}
		return s.updateStatus(ctx, tx, slip, slipdomain.StatusPaused, now)
	})
}

func (s *Service) Resume(ctx context.Context, slipID string) (*slipdomain.RatingSlip, error) {
	return s.mutate(ctx, slipID, "resume", func(tx *gorm.DB, slip *slipdomain.RatingSlip, now time.Time) error {
		if slip.Status != slipdomain.StatusPaused {
			return slipdomain.ErrSlipNotPaused
		}
		if err := s.endOpenPauses(ctx, tx, slip.ID, now); err != nil {
			return err
		}
		return s.updateStatus(ctx, tx, slip, slipdomain.StatusOpen, now)
	})
}

func (s *Service) Close(ctx context.Context, slipID string) (*slipdomain.RatingSlip, error) {
	return s.mutate(ctx, slipID, "close", func(tx *gorm.DB, slip *slipdomain.RatingSlip, now time.Time) error {
		if slip.Closed() {
			return slipdomain.ErrSlipClosed
		}
		return s.closeTx(ctx, tx, slip, slipdomain.CloseReasonClosed, now)
	})
}

func (s *Service) Move(ctx context.Context, req slipdomain.MoveRequest) (*slipdomain.MoveResult, error) {
	tableID := strings.TrimSpace(req.TableID)
	if tableID == "" {
		return nil, slipdomain.ErrInvalidTable
	}
	seat := strings.TrimSpace(req.Seat)

	var next slipdomain.RatingSlip
	closed, err := s.mutate(ctx, req.SlipID, "move", func(tx *gorm.DB, slip *slipdomain.RatingSlip, now time.Time) error {
		if slip.Closed() {
			return slipdomain.ErrSlipClosed
		}
		if slip.TableID == tableID && slip.Seat == seat {
			return slipdomain.ErrInvalidMoveTarget
		}
		if err := s.closeTx(ctx, tx, slip, slipdomain.CloseReasonMoved, now); err != nil {
			return err
		}

		previous := slip.ID
		next = slipdomain.RatingSlip{
			ID:                 s.genID.Generate(),
			OrgID:              slip.OrgID,
			VisitID:            slip.VisitID,
			TableID:            tableID,
			Seat:               seat,
			Status:             slipdomain.StatusOpen,
			StartTime:          now,
			AccumulatedSeconds: slip.AccumulatedSeconds + *slip.FinalDurationSeconds,
			PreviousSlipID:     &previous,
			MoveGroupID:        moveGroupOf(*slip),
			CreatedAt:          now,
			UpdatedAt:          now,
		}
		return tx.Create(&next).Error
	})
	if err != nil {
		return nil, err
	}

	return &slipdomain.MoveResult{Closed: *closed, Opened: next}, nil
}

func (s *Service) Get(ctx context.Context, slipID string) (*slipdomain.RatingSlip, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(slipID, slipdomain.ErrInvalidSlip)
	if err != nil {
		return nil, err
	}

	slip, err := s.slips.FindOne(ctx, &slipdomain.RatingSlip{OrgID: orgID, ID: id})
	if err != nil {
		return nil, err
	}
	if slip == nil {
		return nil, slipdomain.ErrSlipNotFound
	}
	return slip, nil
}

func (s *Service) Current(ctx context.Context, visitID string) (*slipdomain.RatingSlip, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(visitID, slipdomain.ErrInvalidVisit)
	if err != nil {
		return nil, err
	}
	return s.currentTx(ctx, s.db, orgID, id)
}

func (s *Service) ListForVisit(ctx context.Context, visitID string, limit int) ([]slipdomain.RatingSlip, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(visitID, slipdomain.ErrInvalidVisit)
	if err != nil {
		return nil, err
	}

	items, err := s.slips.Find(ctx,
		&slipdomain.RatingSlip{OrgID: orgID, VisitID: id},
		repository.OrderBy("start_time desc, id desc"),
		repository.Limit(limit),
	)
	if err != nil {
		return nil, err
	}

	out := make([]slipdomain.RatingSlip, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return out, nil
}

func (s *Service) VisitElapsed(ctx context.Context, visitID string) (slipdomain.Elapsed, error) {
	slips, err := s.ListForVisit(ctx, visitID, 0)
	if err != nil {
		return slipdomain.Elapsed{}, err
	}
	if len(slips) == 0 {
		return slipdomain.Elapsed{}, nil
	}

	now := s.now()
	var elapsed slipdomain.Elapsed
	for i, slip := range slips {
		var live int64
		if slip.Closed() && slip.FinalDurationSeconds != nil {
			live = *slip.FinalDurationSeconds
		} else {
			pauses, err := s.pausesFor(ctx, s.db, slip.ID)
			if err != nil {
				return slipdomain.Elapsed{}, err
			}
			live = slipdomain.LiveDuration(slip, pauses, now)
		}
		elapsed.TotalSeconds += live
		// Slips are most recent first; the head is the current or last slip.
		if i == 0 {
			elapsed.ChainSeconds = slip.AccumulatedSeconds + live
		}
	}
	return elapsed, nil
}

func (s *Service) CloseOpenSlipsTx(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID, at time.Time) (int, error) {
	var open []slipdomain.RatingSlip
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND visit_id = ? AND status <> ?", orgID, visitID, slipdomain.StatusClosed).
		Find(&open).Error
	if err != nil {
		return 0, err
	}

	at = at.UTC().Truncate(time.Second)
	for i := range open {
		if err := s.closeTx(ctx, tx, &open[i], slipdomain.CloseReasonVisitClosed, at); err != nil {
			return 0, err
		}
		s.obsMetrics.RecordSlipTransition(ctx, "close_with_visit")
	}
	return len(open), nil
}

// mutate runs fn on a slip under its visit lock, inside one transaction.
func (s *Service) mutate(ctx context.Context, slipID, operation string, fn func(tx *gorm.DB, slip *slipdomain.RatingSlip, now time.Time) error) (*slipdomain.RatingSlip, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	id, err := parseID(slipID, slipdomain.ErrInvalidSlip)
	if err != nil {
		return nil, err
	}

	located, err := s.slips.FindOne(ctx, &slipdomain.RatingSlip{OrgID: orgID, ID: id})
	if err != nil {
		return nil, err
	}
	if located == nil {
		return nil, slipdomain.ErrSlipNotFound
	}

	release, err := s.lockVisit(ctx, orgID, located.VisitID)
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	var slip *slipdomain.RatingSlip
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.slips.WithTrx(tx).FindOne(ctx, &slipdomain.RatingSlip{OrgID: orgID, ID: id}, repository.Locked())
		if err != nil {
			return err
		}
		if locked == nil {
			return slipdomain.ErrSlipNotFound
		}
		slip = locked
		return fn(tx, slip, now)
	})
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, s.integrityViolation(ctx, located.VisitID, err)
		}
		return nil, err
	}

	s.obsMetrics.RecordSlipTransition(ctx, operation)
	return slip, nil
}

// closeTx ends any open pause at the slip end, then writes the final duration once.
func (s *Service) closeTx(ctx context.Context, tx *gorm.DB, slip *slipdomain.RatingSlip, reason slipdomain.CloseReason, now time.Time) error {
	if err := s.endOpenPauses(ctx, tx, slip.ID, now); err != nil {
		return err
	}
	pauses, err := s.pausesFor(ctx, tx, slip.ID)
	if err != nil {
		return err
	}
	final := slipdomain.ComputeDuration(slip.StartTime, now, pauses)

	result := tx.WithContext(ctx).Model(&slipdomain.RatingSlip{}).
		Where("org_id = ? AND id = ? AND status <> ?", slip.OrgID, slip.ID, slipdomain.StatusClosed).
		Updates(map[string]any{
			"status":                 slipdomain.StatusClosed,
			"end_time":               now,
			"final_duration_seconds": final,
			"close_reason":           reason,
			"updated_at":             now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return slipdomain.ErrSlipClosed
	}

	slip.Status = slipdomain.StatusClosed
	slip.EndTime = &now
	slip.FinalDurationSeconds = &final
	slip.CloseReason = &reason
	slip.UpdatedAt = now
	return nil
}

func (s *Service) updateStatus(ctx context.Context, tx *gorm.DB, slip *slipdomain.RatingSlip, status slipdomain.Status, now time.Time) error {
	err := tx.WithContext(ctx).Model(&slipdomain.RatingSlip{}).
		Where("org_id = ? AND id = ?", slip.OrgID, slip.ID).
		Updates(map[string]any{"status": status, "updated_at": now}).Error
	if err != nil {
		return err
	}
	slip.Status = status
	slip.UpdatedAt = now
	return nil
}

func (s *Service) endOpenPauses(ctx context.Context, tx *gorm.DB, slipID snowflake.ID, now time.Time) error {
	return tx.WithContext(ctx).Model(&slipdomain.PauseInterval{}).
		Where("slip_id = ? AND ended_at IS NULL", slipID).
		Update("ended_at", now).Error
}

func (s *Service) pausesFor(ctx context.Context, conn *gorm.DB, slipID snowflake.ID) ([]slipdomain.PauseInterval, error) {
	var pauses []slipdomain.PauseInterval
	err := conn.WithContext(ctx).
		Where("slip_id = ?", slipID).
		Order("started_at asc").
		Find(&pauses).Error
	return pauses, err
}

func (s *Service) currentTx(ctx context.Context, conn *gorm.DB, orgID, visitID snowflake.ID) (*slipdomain.RatingSlip, error) {
	return s.slips.WithTrx(conn).FindOne(ctx, &slipdomain.RatingSlip{OrgID: orgID, VisitID: visitID}, notClosed())
}

func notClosed() repository.QueryOption {
	return repository.Where("status <> ?", slipdomain.StatusClosed)
}

func (s *Service) loadVisitForUpdate(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID) (*visitdomain.Visit, error) {
	var visit visitdomain.Visit
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, visitID).
		Take(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, slipdomain.ErrVisitNotFound
		}
		return nil, err
	}
	return &visit, nil
}

func (s *Service) lockVisit(ctx context.Context, orgID, visitID snowflake.ID) (func(), error) {
	release, err := s.locker.Lock(ctx, lock.VisitKey(orgID, visitID))
	if err != nil {
		return nil, fmt.Errorf("lock visit: %w", err)
	}
	return release, nil
}

func (s *Service) integrityViolation(ctx context.Context, visitID snowflake.ID, cause error) error {
	ctxlogger.WithContext(ctx, s.log).Error("second open rating slip rejected by storage despite visit lock",
		zap.Bool("integrity_violation", true),
		zap.String("visit_id", visitID.String()),
		zap.String("constraint", db.ViolatedConstraint(cause)),
	)
	s.obsMetrics.RecordIntegrityViolation(ctx, slipdomain.ErrDuplicateOpenSlip.Error())
	return slipdomain.ErrDuplicateOpenSlip
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	return orgcontext.Require(ctx, slipdomain.ErrInvalidOrganization)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

func moveGroupOf(slip slipdomain.RatingSlip) snowflake.ID {
	if slip.MoveGroupID != 0 {
		return slip.MoveGroupID
	}
	return slip.ID
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
