// Package rollover closes visits left open past their gaming day. It is the
// eager alternative to rollover on the next StartOrResume.
package rollover

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	obsmetrics "github.com/smallbiznis/pitboss/internal/observability/metrics"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"github.com/smallbiznis/pitboss/pkg/db"
	"github.com/smallbiznis/pitboss/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("rollover_invalid_config")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Settings   config.TenantSettingsProvider
	VisitSvc   visitdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Config     Config              `optional:"true"`
}

type Sweeper struct {
	db         *gorm.DB
	log        *zap.Logger
	cfg        Config
	genID      *snowflake.Node
	clock      clock.Clock
	settings   config.TenantSettingsProvider
	visitSvc   visitdomain.Service
	obsMetrics *obsmetrics.Metrics
}

// WorkVisit is the claimed projection of an open visit.
type WorkVisit struct {
	ID        snowflake.ID
	OrgID     snowflake.ID
	GamingDay gamingday.Day
}

func New(p Params) (*Sweeper, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Settings == nil || p.VisitSvc == nil {
		return nil, ErrInvalidConfig
	}
	return &Sweeper{
		db:         p.DB,
		log:        p.Log.Named("rollover").With(zap.String("component", "rollover")),
		cfg:        p.Config.withDefaults(),
		genID:      p.GenID,
		clock:      p.Clock,
		settings:   p.Settings,
		visitSvc:   p.VisitSvc,
		obsMetrics: p.ObsMetrics,
	}, nil
}

// RunOnce performs one sweep. A timeout ends the sweep early without failing it;
// the next tick continues from the start.
func (s *Sweeper) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, s.cfg.JobTimeout)
	defer cancel()

	ctx, run := s.beginRun(ctx)
	err := s.sweep(ctx, run)
	s.finishRun(ctx, run, err)
	s.obsMetrics.RecordRolloverSweep(ctx, run.closed)

	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		s.logger(ctx).Warn("rollover sweep timed out",
			zap.Duration("timeout", s.cfg.JobTimeout),
			zap.Error(err),
		)
		return nil
	}
	return fmt.Errorf("rollover_sweep: %w", err)
}

func (s *Sweeper) RunForever(ctx context.Context) {
	ctx, loopID := correlation.EnsureCorrelationID(ctx)
	s.log.Info("rollover loop started", zap.String("loop_id", loopID), zap.Duration("interval", s.cfg.RunInterval))

	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("rollover run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context, run *sweepRun) error {
	now := s.clock.Now().UTC()
	currentDays := make(map[snowflake.ID]gamingday.Day)

	var after snowflake.ID
	for {
		batch, err := s.FetchOpenVisits(ctx, after, s.cfg.BatchSize)
		if err != nil {
			return err
		}

		for _, visit := range batch {
			run.observe(visit)
			current, ok := currentDays[visit.OrgID]
			if !ok {
				settings, err := s.settings.TenantSettings(visit.OrgID)
				if err != nil {
					run.failed++
					s.logger(ctx).Error("resolve tenant settings failed",
						zap.String("org_id", visit.OrgID.String()),
						zap.Error(err),
					)
					continue
				}
				current = gamingday.Resolve(now, settings.Cutoff)
				currentDays[visit.OrgID] = current
			}
			if !visit.GamingDay.Before(current) {
				run.current++
				continue
			}

			closed, err := s.closeVisit(ctx, visit)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return err
				}
				run.failed++
				s.logger(ctx).Error("rollover close failed",
					zap.String("org_id", visit.OrgID.String()),
					zap.String("visit_id", visit.ID.String()),
					zap.String("gaming_day", visit.GamingDay.String()),
					zap.Error(err),
				)
				continue
			}
			if closed {
				run.closed++
			} else {
				run.raced++
			}
		}

		if len(batch) < s.cfg.BatchSize {
			return nil
		}
		after = batch[len(batch)-1].ID
	}
}

// closeVisit reports false when another writer closed the visit first.
func (s *Sweeper) closeVisit(ctx context.Context, visit WorkVisit) (bool, error) {
	orgCtx := orgcontext.WithOrgID(ctx, int64(visit.OrgID))
	_, err := s.visitSvc.Close(orgCtx, visit.ID.String(), visitdomain.CloseReasonRollover)
	if errors.Is(err, visitdomain.ErrVisitAlreadyClosed) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.logger(orgCtx).Info("visit rolled over",
		zap.String("visit_id", visit.ID.String()),
		zap.String("gaming_day", visit.GamingDay.String()),
	)
	return true, nil
}

// FetchOpenVisits claims a page of open visits after the given id. Rows locked
// by another sweeper are skipped.
func (s *Sweeper) FetchOpenVisits(ctx context.Context, after snowflake.ID, limit int) ([]WorkVisit, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var visits []WorkVisit
	err := s.db.WithContext(claimCtx).Transaction(func(tx *gorm.DB) error {
		return db.ForUpdateSkipLocked(tx.Model(&visitdomain.Visit{})).
			Select("id, org_id, gaming_day").
			Where("ended_at IS NULL AND id > ?", after).
			Order("id asc").
			Limit(limit).
			Scan(&visits).Error
	})
	if err != nil {
		return nil, err
	}
	return visits, nil
}
