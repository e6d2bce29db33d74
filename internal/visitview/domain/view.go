// Package domain describes the read-only live view of a visit.
package domain

import (
	"context"
	"time"

	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"github.com/smallbiznis/pitboss/pkg/db/pagination"
	"github.com/smallbiznis/pitboss/pkg/domainerr"
)

const (
	DefaultSlipLimit = 20
	MaxSlipLimit     = 100
)

type Options struct {
	IncludeSlipHistory bool `json:"include_slip_history"`
	// SlipLimit caps the history. Zero means DefaultSlipLimit; values above
	// MaxSlipLimit are capped.
	SlipLimit int `json:"slip_limit"`
}

// Limit returns the effective history size.
func (o Options) Limit() int {
	return pagination.ClampSize(o.SlipLimit, DefaultSlipLimit, MaxSlipLimit)
}

// LiveView composes a visit with its rating slips and compliance totals.
type LiveView struct {
	Visit     visitdomain.Visit     `json:"visit"`
	Archetype visitdomain.Archetype `json:"archetype"`
	// CurrentSlip is nil when no slip is open or paused.
	CurrentSlip         *slipdomain.RatingSlip  `json:"current_slip"`
	TotalElapsedSeconds int64                   `json:"total_elapsed_seconds"`
	ChainElapsedSeconds int64                   `json:"chain_elapsed_seconds"`
	VisitTotals         compliancedomain.Totals `json:"visit_totals"`
	// DayTotals and Threshold are only set for identified players.
	DayTotals *compliancedomain.Totals          `json:"day_totals,omitempty"`
	Threshold *thresholddomain.DirectionalState `json:"threshold,omitempty"`
	// SlipHistory is nil unless requested.
	SlipHistory []slipdomain.RatingSlip `json:"slip_history,omitempty"`
	AsOf        time.Time               `json:"as_of"`
}

type Service interface {
	GetLiveView(ctx context.Context, visitID string, opts Options) (*LiveView, error)
}

var ErrInvalidSlipLimit = domainerr.Validation("invalid_slip_limit")
