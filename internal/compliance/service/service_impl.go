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
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/gamingday"
	"github.com/smallbiznis/pitboss/internal/lock"
	obsmetrics "github.com/smallbiznis/pitboss/internal/observability/metrics"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"github.com/smallbiznis/pitboss/pkg/db"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Locker     lock.Locker
	Settings   config.TenantSettingsProvider
	Threshold  thresholddomain.Observer
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
	threshold  thresholddomain.Observer
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) compliancedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("compliance.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		locker:     p.Locker,
		settings:   p.Settings,
		threshold:  p.Threshold,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

type eventInput struct {
	eventID      snowflake.ID
	playerID     *snowflake.ID
	visitID      snowflake.ID
	ratingSlipID *snowflake.ID
	direction    compliancedomain.Direction
	amount       int64
	currency     string
	channel      compliancedomain.Channel
	occurredAt   time.Time
	recordedBy   *string
}

// RecordFinancialEvent appends the event and derives at most one compliance
// entry from it in the same transaction. Resubmitting an event id returns the
// stored result.
func (s *Service) RecordFinancialEvent(ctx context.Context, req compliancedomain.FinancialEventRequest) (*compliancedomain.RecordResult, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	in, err := s.validateEvent(req)
	if err != nil {
		return nil, err
	}
	settings, err := s.settings.TenantSettings(orgID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lock.VisitKey(orgID, in.visitID))
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.now()
	if in.occurredAt.IsZero() {
		in.occurredAt = now
	}

	var (
		result      compliancedomain.RecordResult
		transitions []thresholddomain.Transition
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.findEvent(ctx, tx, in.eventID)
		if err != nil {
			return err
		}
		if existing != nil {
			return s.loadExisting(ctx, tx, orgID, in, existing, &result)
		}

		visit, err := s.loadVisit(ctx, tx, orgID, in.visitID)
		if err != nil {
			return err
		}
		if !visit.Active() && !req.IsCorrection {
			return compliancedomain.ErrVisitClosed
		}
		if in.playerID != nil && (visit.PlayerID == nil || *visit.PlayerID != *in.playerID) {
			return compliancedomain.ErrPlayerMismatch
		}
		if in.ratingSlipID != nil {
			if err := s.checkSlipInVisit(ctx, tx, orgID, in.visitID, *in.ratingSlipID); err != nil {
				return err
			}
		}

		event := compliancedomain.FinancialEvent{
			ID:           in.eventID,
			OrgID:        orgID,
			PlayerID:     visit.PlayerID,
			VisitID:      visit.ID,
			RatingSlipID: in.ratingSlipID,
			Direction:    in.direction,
			Amount:       in.amount,
			Currency:     in.currency,
			Channel:      in.channel,
			IsCorrection: req.IsCorrection,
			OccurredAt:   in.occurredAt,
			RecordedBy:   in.recordedBy,
			CreatedAt:    now,
		}
		if len(req.Metadata) > 0 {
			event.Metadata = datatypes.JSONMap(req.Metadata)
		}
		inserted := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoNothing: true,
		}).Create(&event)
		if inserted.Error != nil {
			return inserted.Error
		}
		if inserted.RowsAffected == 0 {
			// Another writer stored the id between the lookup and the insert.
			stored, err := s.findEvent(ctx, tx, in.eventID)
			if err != nil {
				return err
			}
			if stored == nil {
				return compliancedomain.ErrEventIdentityTaken
			}
			return s.loadExisting(ctx, tx, orgID, in, stored, &result)
		}
		result.Event = event

		if !eligible(settings, event) {
			return nil
		}

		entry := compliancedomain.Entry{
			ID:             s.genID.Generate(),
			OrgID:          orgID,
			IdempotencyKey: compliancedomain.SourceIdempotencyKey(event.ID),
			PlayerID:       visit.PlayerID,
			VisitID:        &visit.ID,
			GamingDay:      visit.GamingDay,
			Direction:      event.Direction,
			Amount:         event.Amount,
			Currency:       event.Currency,
			Category:       string(event.Channel),
			Provenance:     compliancedomain.ProvenanceDerived,
			SourceEventID:  &event.ID,
			OccurredAt:     event.OccurredAt,
			CreatedAt:      now,
		}
		stored, created, err := s.upsertEntry(ctx, tx, entry)
		if err != nil {
			return err
		}
		result.Entry = stored
		if !created {
			result.Deduplicated = true
			return nil
		}

		if stored.PlayerID != nil {
			transitions, err = s.observe(ctx, tx, settings, orgID, *stored.PlayerID, stored.GamingDay)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := ctxlogger.WithContext(ctx, s.log)
	switch {
	case result.Deduplicated:
		s.obsMetrics.RecordEntryDeduplicated(ctx)
		logger.Debug("financial event already recorded", zap.String("event_id", in.eventID.String()))
	case result.Entry != nil:
		s.obsMetrics.RecordEntryDerived(ctx, string(in.channel))
		logger.Info("compliance entry derived",
			zap.String("event_id", in.eventID.String()),
			zap.String("entry_id", result.Entry.ID.String()),
			zap.String("direction", string(result.Entry.Direction)),
			zap.Int64("amount", result.Entry.Amount),
			zap.Int("threshold_transitions", len(transitions)),
		)
	default:
		logger.Debug("financial event not eligible for derivation",
			zap.String("event_id", in.eventID.String()),
			zap.String("channel", string(in.channel)),
			zap.String("currency", in.currency),
		)
	}
	return &result, nil
}

// RecordManualEntry stores an operator entry for a category that is never
// derived. Derivable categories are rejected so derived totals keep a single
// source.
func (s *Service) RecordManualEntry(ctx context.Context, req compliancedomain.ManualEntryRequest) (*compliancedomain.Entry, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	playerID, err := parseID(req.PlayerID, compliancedomain.ErrInvalidPlayer)
	if err != nil {
		return nil, err
	}
	var visitID snowflake.ID
	if strings.TrimSpace(req.VisitID) != "" {
		if visitID, err = parseID(req.VisitID, compliancedomain.ErrInvalidVisit); err != nil {
			return nil, err
		}
	}
	if req.Amount <= 0 {
		return nil, compliancedomain.ErrInvalidAmount
	}
	if req.Direction != compliancedomain.DirectionIn && req.Direction != compliancedomain.DirectionOut {
		return nil, compliancedomain.ErrInvalidDirection
	}
	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		return nil, compliancedomain.ErrInvalidCategory
	}
	if compliancedomain.IsDerivableCategory(category) {
		return nil, compliancedomain.ErrManualEntryNotPermittedForDerivedCategory
	}
	note := strings.TrimSpace(req.Note)
	if note == "" {
		return nil, compliancedomain.ErrNoteRequired
	}
	staffID := strings.TrimSpace(req.StaffID)
	if staffID == "" {
		return nil, compliancedomain.ErrStaffRequired
	}

	settings, err := s.settings.TenantSettings(orgID)
	if err != nil {
		return nil, err
	}

	release, err := s.lock(ctx, lock.PlayerKey(orgID, playerID))
	if err != nil {
		return nil, err
	}
	defer release()
	if visitID != 0 {
		releaseVisit, err := s.lock(ctx, lock.VisitKey(orgID, visitID))
		if err != nil {
			return nil, err
		}
		defer releaseVisit()
	}

	now := s.now()
	occurredAt := req.OccurredAt.UTC().Truncate(time.Second)
	if req.OccurredAt.IsZero() {
		occurredAt = now
	}

	var entry compliancedomain.Entry
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		day := gamingday.Resolve(occurredAt, settings.Cutoff)
		var visitRef *snowflake.ID
		if visitID != 0 {
			visit, err := s.loadVisit(ctx, tx, orgID, visitID)
			if err != nil {
				return err
			}
			if visit.PlayerID == nil || *visit.PlayerID != playerID {
				return compliancedomain.ErrPlayerMismatch
			}
			day = visit.GamingDay
			visitRef = &visit.ID
		}

		id := s.genID.Generate()
		entry = compliancedomain.Entry{
			ID:             id,
			OrgID:          orgID,
			IdempotencyKey: compliancedomain.ManualIdempotencyKey(id),
			PlayerID:       &playerID,
			VisitID:        visitRef,
			GamingDay:      day,
			Direction:      req.Direction,
			Amount:         req.Amount,
			Currency:       settings.Currency,
			Category:       category,
			Provenance:     compliancedomain.ProvenanceManual,
			Note:           &note,
			StaffID:        &staffID,
			OccurredAt:     occurredAt,
			CreatedAt:      now,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		if _, err := s.observe(ctx, tx, settings, orgID, playerID, day); err != nil {
			return err
		}

		if s.auditSvc == nil {
			return nil
		}
		return s.auditSvc.AuditLogTx(ctx, tx, auditdomain.Record{
			OrgID:      orgID,
			ActorType:  auditdomain.ActorTypeStaff,
			ActorID:    staffID,
			Action:     auditdomain.ActionManualEntryLogged,
			TargetType: "compliance_entry",
			TargetID:   id.String(),
			Metadata: map[string]any{
				"player_id":  playerID.String(),
				"gaming_day": day.String(),
				"direction":  string(req.Direction),
				"amount":     req.Amount,
				"category":   category,
				"note":       note,
			},
			At: now,
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordManualEntry(ctx, string(entry.Direction))
	ctxlogger.WithContext(ctx, s.log).Info("manual compliance entry recorded",
		zap.String("entry_id", entry.ID.String()),
		zap.String("player_id", playerID.String()),
		zap.String("staff_id", staffID),
		zap.String("category", category),
	)
	return &entry, nil
}

func (s *Service) GetRunningTotals(ctx context.Context, playerID string, day gamingday.Day) (compliancedomain.Totals, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return compliancedomain.Totals{}, err
	}
	player, err := parseID(playerID, compliancedomain.ErrInvalidPlayer)
	if err != nil {
		return compliancedomain.Totals{}, err
	}
	if _, err := gamingday.ParseDay(day.String()); err != nil {
		return compliancedomain.Totals{}, compliancedomain.ErrInvalidGamingDay
	}
	return s.dayTotals(ctx, s.db, orgID, player, day)
}

func (s *Service) VisitTotals(ctx context.Context, visitID string) (compliancedomain.Totals, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return compliancedomain.Totals{}, err
	}
	id, err := parseID(visitID, compliancedomain.ErrInvalidVisit)
	if err != nil {
		return compliancedomain.Totals{}, err
	}
	return s.sumByDirection(s.db.WithContext(ctx).
		Where("org_id = ? AND visit_id = ?", orgID, id))
}

func (s *Service) ListEntries(ctx context.Context, playerID string, day gamingday.Day) ([]compliancedomain.Entry, error) {
	orgID, err := s.orgIDFromContext(ctx)
	if err != nil {
		return nil, err
	}
	player, err := parseID(playerID, compliancedomain.ErrInvalidPlayer)
	if err != nil {
		return nil, err
	}
	if _, err := gamingday.ParseDay(day.String()); err != nil {
		return nil, compliancedomain.ErrInvalidGamingDay
	}

	var entries []compliancedomain.Entry
	err = s.db.WithContext(ctx).
		Where("org_id = ? AND player_id = ? AND gaming_day = ?", orgID, player, day).
		Order("occurred_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Service) validateEvent(req compliancedomain.FinancialEventRequest) (eventInput, error) {
	var in eventInput

	if strings.TrimSpace(req.EventID) == "" {
		in.eventID = s.genID.Generate()
	} else {
		id, err := parseID(req.EventID, compliancedomain.ErrInvalidEventID)
		if err != nil {
			return in, err
		}
		in.eventID = id
	}

	visitID, err := parseID(req.VisitID, compliancedomain.ErrInvalidVisit)
	if err != nil {
		return in, err
	}
	in.visitID = visitID

	if strings.TrimSpace(req.PlayerID) != "" {
		playerID, err := parseID(req.PlayerID, compliancedomain.ErrInvalidPlayer)
		if err != nil {
			return in, err
		}
		in.playerID = &playerID
	}
	if strings.TrimSpace(req.RatingSlipID) != "" {
		slipID, err := parseID(req.RatingSlipID, compliancedomain.ErrInvalidRatingSlip)
		if err != nil {
			return in, err
		}
		in.ratingSlipID = &slipID
	}

	if req.Amount <= 0 {
		return in, compliancedomain.ErrInvalidAmount
	}
	in.amount = req.Amount

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if len(currency) != 3 {
		return in, compliancedomain.ErrInvalidCurrency
	}
	in.currency = currency

	in.channel = compliancedomain.Channel(strings.ToLower(strings.TrimSpace(string(req.Channel))))
	direction, ok := compliancedomain.DirectionForChannel(in.channel)
	if !ok {
		return in, compliancedomain.ErrInvalidChannel
	}
	switch req.Direction {
	case "":
	case compliancedomain.DirectionIn, compliancedomain.DirectionOut:
		if req.Direction != direction {
			return in, compliancedomain.ErrDirectionMismatch
		}
	default:
		return in, compliancedomain.ErrInvalidDirection
	}
	in.direction = direction

	if !req.OccurredAt.IsZero() {
		in.occurredAt = req.OccurredAt.UTC().Truncate(time.Second)
	}
	if recordedBy := strings.TrimSpace(req.RecordedBy); recordedBy != "" {
		in.recordedBy = &recordedBy
	}
	return in, nil
}

// loadExisting fills result from a stored event with the same id. The id may
// only be reused for the same visit of the same organization.
func (s *Service) loadExisting(ctx context.Context, tx *gorm.DB, orgID snowflake.ID, in eventInput, event *compliancedomain.FinancialEvent, result *compliancedomain.RecordResult) error {
	if event.OrgID != orgID || event.VisitID != in.visitID {
		return compliancedomain.ErrEventIdentityTaken
	}
	result.Event = *event
	result.Deduplicated = true

	var entry compliancedomain.Entry
	err := tx.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", orgID, compliancedomain.SourceIdempotencyKey(event.ID)).
		Take(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	result.Entry = &entry
	return nil
}

// upsertEntry inserts entry unless its idempotency key already exists, and
// returns the stored row either way.
func (s *Service) upsertEntry(ctx context.Context, tx *gorm.DB, entry compliancedomain.Entry) (*compliancedomain.Entry, bool, error) {
	inserted := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "org_id"}, {Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&entry)
	if inserted.Error != nil {
		return nil, false, inserted.Error
	}
	if inserted.RowsAffected > 0 {
		return &entry, true, nil
	}

	var stored compliancedomain.Entry
	err := tx.WithContext(ctx).
		Where("org_id = ? AND idempotency_key = ?", entry.OrgID, entry.IdempotencyKey).
		Take(&stored).Error
	if err != nil {
		return nil, false, err
	}
	return &stored, false, nil
}

func (s *Service) observe(ctx context.Context, tx *gorm.DB, settings config.TenantSettings, orgID, playerID snowflake.ID, day gamingday.Day) ([]thresholddomain.Transition, error) {
	totals, err := s.dayTotals(ctx, tx, orgID, playerID, day)
	if err != nil {
		return nil, err
	}
	_, transitions, err := s.threshold.ObserveTx(ctx, tx, thresholddomain.ObserveKey{
		OrgID:     orgID,
		PlayerID:  playerID,
		GamingDay: day,
	}, totals, settings.Threshold)
	if err != nil {
		return nil, fmt.Errorf("observe threshold: %w", err)
	}
	return transitions, nil
}

func (s *Service) dayTotals(ctx context.Context, conn *gorm.DB, orgID, playerID snowflake.ID, day gamingday.Day) (compliancedomain.Totals, error) {
	return s.sumByDirection(conn.WithContext(ctx).
		Where("org_id = ? AND player_id = ? AND gaming_day = ?", orgID, playerID, day))
}

func (s *Service) sumByDirection(scoped *gorm.DB) (compliancedomain.Totals, error) {
	var rows []struct {
		Direction compliancedomain.Direction
		Total     int64
	}
	err := scoped.Model(&compliancedomain.Entry{}).
		Select("direction, COALESCE(SUM(amount), 0) AS total").
		Group("direction").
		Scan(&rows).Error
	if err != nil {
		return compliancedomain.Totals{}, err
	}

	var totals compliancedomain.Totals
	for _, row := range rows {
		switch row.Direction {
		case compliancedomain.DirectionIn:
			totals.In = row.Total
		case compliancedomain.DirectionOut:
			totals.Out = row.Total
		}
	}
	return totals, nil
}

func (s *Service) findEvent(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*compliancedomain.FinancialEvent, error) {
	var event compliancedomain.FinancialEvent
	err := tx.WithContext(ctx).Where("id = ?", id).Take(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &event, nil
}

func (s *Service) loadVisit(ctx context.Context, tx *gorm.DB, orgID, visitID snowflake.ID) (*visitdomain.Visit, error) {
	var visit visitdomain.Visit
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("org_id = ? AND id = ?", orgID, visitID).
		Take(&visit).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, compliancedomain.ErrVisitNotFound
		}
		return nil, err
	}
	return &visit, nil
}

func (s *Service) checkSlipInVisit(ctx context.Context, tx *gorm.DB, orgID, visitID, slipID snowflake.ID) error {
	var count int64
	err := tx.WithContext(ctx).Model(&slipdomain.RatingSlip{}).
		Where("org_id = ? AND id = ? AND visit_id = ?", orgID, slipID, visitID).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count == 0 {
		return compliancedomain.ErrSlipNotInVisit
	}
	return nil
}

func (s *Service) lock(ctx context.Context, key string) (func(), error) {
	release, err := s.locker.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	return release, nil
}

func (s *Service) orgIDFromContext(ctx context.Context) (snowflake.ID, error) {
	return orgcontext.Require(ctx, compliancedomain.ErrInvalidOrganization)
}

func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Second)
}

// eligible reports whether an event derives a compliance entry: its channel is
// tracked by the organization and it is denominated in the org currency.
func eligible(settings config.TenantSettings, event compliancedomain.FinancialEvent) bool {
	return settings.Tracks(event.Channel) && strings.EqualFold(event.Currency, settings.Currency)
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id == 0 {
		return 0, invalid
	}
	return id, nil
}
