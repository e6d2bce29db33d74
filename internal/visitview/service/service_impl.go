package service

import (
	"context"
	"time"

	"github.com/smallbiznis/pitboss/internal/clock"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	viewdomain "github.com/smallbiznis/pitboss/internal/visitview/domain"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	Visits     visitdomain.Service
	Slips      slipdomain.Service
	Compliance compliancedomain.Service
	Threshold  thresholddomain.Service
}

type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	visits     visitdomain.Service
	slips      slipdomain.Service
	compliance compliancedomain.Service
	threshold  thresholddomain.Service
}

func NewService(p Params) viewdomain.Service {
	return &Service{
		log:        p.Log.Named("visitview.service"),
		clock:      p.Clock,
		visits:     p.Visits,
		slips:      p.Slips,
		compliance: p.Compliance,
		threshold:  p.Threshold,
	}
}

// GetLiveView only reads. Missing tenant scope and unknown visits surface the
// visit service errors.
func (s *Service) GetLiveView(ctx context.Context, visitID string, opts viewdomain.Options) (*viewdomain.LiveView, error) {
	if opts.SlipLimit < 0 {
		return nil, viewdomain.ErrInvalidSlipLimit
	}

	visit, err := s.visits.Get(ctx, visitID)
	if err != nil {
		return nil, err
	}
	archetype, _ := visit.Kind.Archetype()
	id := visit.ID.String()

	view := &viewdomain.LiveView{
		Visit:     *visit,
		Archetype: archetype,
		AsOf:      s.clock.Now().UTC().Truncate(time.Second),
	}

	if view.CurrentSlip, err = s.slips.Current(ctx, id); err != nil {
		return nil, err
	}

	elapsed, err := s.slips.VisitElapsed(ctx, id)
	if err != nil {
		return nil, err
	}
	view.TotalElapsedSeconds = elapsed.TotalSeconds
	view.ChainElapsedSeconds = elapsed.ChainSeconds

	if view.VisitTotals, err = s.compliance.VisitTotals(ctx, id); err != nil {
		return nil, err
	}

	if visit.PlayerID != nil {
		playerID := visit.PlayerID.String()
		dayTotals, err := s.compliance.GetRunningTotals(ctx, playerID, visit.GamingDay)
		if err != nil {
			return nil, err
		}
		state, err := s.threshold.GetState(ctx, playerID, visit.GamingDay)
		if err != nil {
			return nil, err
		}
		view.DayTotals = &dayTotals
		view.Threshold = &state
	}

	if opts.IncludeSlipHistory {
		history, err := s.slips.ListForVisit(ctx, id, opts.Limit())
		if err != nil {
			return nil, err
		}
		view.SlipHistory = make([]slipdomain.RatingSlip, 0, len(history))
		view.SlipHistory = append(view.SlipHistory, history...)
	}

	ctxlogger.WithContext(ctx, s.log).Debug("live view composed",
		zap.String("visit_id", id),
		zap.Bool("has_current_slip", view.CurrentSlip != nil),
		zap.Int64("total_elapsed_seconds", view.TotalElapsedSeconds),
	)
	return view, nil
}
