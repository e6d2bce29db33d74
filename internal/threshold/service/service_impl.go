package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	"github.com/smallbiznis/pitboss/internal/clock"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	obsmetrics "github.com/smallbiznis/pitboss/internal/observability/metrics"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	AuditSvc   auditdomain.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) thresholddomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("threshold.service"),
		clock:      p.Clock,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

var directions = []compliancedomain.Direction{
	compliancedomain.DirectionIn,
	compliancedomain.DirectionOut,
}

// ObserveTx records the evaluated state of each direction. A stored state is
// only replaced by a higher one, so a smaller total later in the day never
// lowers it.
func (s *Service) ObserveTx(ctx context.Context, tx *gorm.DB, key thresholddomain.ObserveKey, totals compliancedomain.Totals, cfg thresholddomain.Config) (thresholddomain.DirectionalState, []thresholddomain.Transition, error) {
	if err := cfg.Validate(); err != nil {
		return thresholddomain.DirectionalState{}, nil, err
	}

	prior, err := s.load(ctx, tx, key.OrgID, key.PlayerID, key.GamingDay)
	if err != nil {
		return thresholddomain.DirectionalState{}, nil, err
	}

	now := s.clock.Now().UTC().Truncate(time.Second)
	var (
		state       thresholddomain.DirectionalState
		transitions []thresholddomain.Transition
	)
	for _, direction := range directions {
		total := totals.For(direction)
		evaluated := thresholddomain.Evaluate(total, cfg)
		from := prior.For(direction)

		record := thresholddomain.StateRecord{
			OrgID:     key.OrgID,
			PlayerID:  key.PlayerID,
			GamingDay: key.GamingDay,
			Direction: direction,
			State:     evaluated,
			Level:     evaluated.Level(),
			Total:     total,
			UpdatedAt: now,
		}
		result := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "org_id"}, {Name: "player_id"}, {Name: "gaming_day"}, {Name: "direction"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "level", "total", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				gorm.Expr("threshold_states.level < excluded.level"),
			}},
		}).Create(&record)
		if result.Error != nil {
			return thresholddomain.DirectionalState{}, nil, result.Error
		}

		to := thresholddomain.Max(from, evaluated)
		setState(&state, direction, to)
		if to.Level() > from.Level() {
			transitions = append(transitions, thresholddomain.Transition{
				Direction: direction,
				From:      from,
				To:        to,
				Total:     total,
			})
		}
	}

	for _, transition := range transitions {
		if err := s.report(ctx, tx, key, transition, now); err != nil {
			return thresholddomain.DirectionalState{}, nil, err
		}
	}
	return state, transitions, nil
}

func (s *Service) GetState(ctx context.Context, playerID string, day gamingday.Day) (thresholddomain.DirectionalState, error) {
	orgID, err := orgcontext.Require(ctx, thresholddomain.ErrInvalidOrganization)
	if err != nil {
		return thresholddomain.DirectionalState{}, err
	}
	player, err := snowflake.ParseString(strings.TrimSpace(playerID))
	if err != nil || player == 0 {
		return thresholddomain.DirectionalState{}, thresholddomain.ErrInvalidPlayer
	}
	if _, err := gamingday.ParseDay(day.String()); err != nil {
		return thresholddomain.DirectionalState{}, err
	}
	return s.load(ctx, s.db, orgID, player, day)
}

func (s *Service) load(ctx context.Context, conn *gorm.DB, orgID, playerID snowflake.ID, day gamingday.Day) (thresholddomain.DirectionalState, error) {
	var records []thresholddomain.StateRecord
	err := conn.WithContext(ctx).
		Where("org_id = ? AND player_id = ? AND gaming_day = ?", orgID, playerID, day).
		Find(&records).Error
	if err != nil {
		return thresholddomain.DirectionalState{}, err
	}

	state := thresholddomain.DirectionalState{In: thresholddomain.StateNone, Out: thresholddomain.StateNone}
	for _, record := range records {
		setState(&state, record.Direction, record.State)
	}
	return state, nil
}

func (s *Service) report(ctx context.Context, tx *gorm.DB, key thresholddomain.ObserveKey, transition thresholddomain.Transition, at time.Time) error {
	fields := []zap.Field{
		zap.String("player_id", key.PlayerID.String()),
		zap.String("gaming_day", key.GamingDay.String()),
		zap.String("direction", string(transition.Direction)),
		zap.String("from", string(transition.From)),
		zap.String("to", string(transition.To)),
		zap.Int64("total", transition.Total),
	}
	logger := ctxlogger.WithContext(ctx, s.log)
	s.obsMetrics.RecordThresholdTransition(ctx, string(transition.Direction), string(transition.To))

	if transition.To != thresholddomain.StateCrossed {
		logger.Info("threshold state raised", fields...)
		return nil
	}
	logger.Warn("threshold crossed", fields...)

	if s.auditSvc == nil {
		return nil
	}
	return s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Record{
		OrgID:      key.OrgID,
		ActorType:  auditdomain.ActorTypeSystem,
		Action:     auditdomain.ActionThresholdCrossed,
		TargetType: "player",
		TargetID:   key.PlayerID.String(),
		Metadata: map[string]any{
			"gaming_day": key.GamingDay.String(),
			"direction":  string(transition.Direction),
			"from":       string(transition.From),
			"total":      transition.Total,
		},
		At: at,
	})
}

func setState(state *thresholddomain.DirectionalState, direction compliancedomain.Direction, value thresholddomain.State) {
	if direction == compliancedomain.DirectionOut {
		state.Out = value
		return
	}
	state.In = value
}
