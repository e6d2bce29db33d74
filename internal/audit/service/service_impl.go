package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/pitboss/internal/audit/domain"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/orgcontext"
	"github.com/smallbiznis/pitboss/pkg/db/pagination"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Repo  auditdomain.Repository
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	repo  auditdomain.Repository
	clock clock.Clock
}

func NewService(p Params) auditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("audit.service"),
		genID: p.GenID,
		repo:  p.Repo,
		clock: p.Clock,
	}
}

// AuditLogTx appends rec on tx. Staff actions must name the staff member;
// system actions may omit the actor.
func (s *Service) AuditLogTx(ctx context.Context, tx *gorm.DB, rec auditdomain.Record) error {
	action := strings.TrimSpace(rec.Action)
	if action == "" {
		return auditdomain.ErrInvalidAction
	}

	orgID := rec.OrgID
	if orgID == 0 {
		resolved, err := orgcontext.Require(ctx, auditdomain.ErrInvalidOrganization)
		if err != nil {
			return err
		}
		orgID = resolved
	}

	actorType := rec.ActorType
	switch actorType {
	case "":
		actorType = auditdomain.ActorTypeSystem
	case auditdomain.ActorTypeSystem:
	case auditdomain.ActorTypeStaff:
		if strings.TrimSpace(rec.ActorID) == "" {
			return auditdomain.ErrInvalidActor
		}
	default:
		return auditdomain.ErrInvalidActor
	}

	targetType := strings.TrimSpace(rec.TargetType)
	if targetType == "" {
		targetType = "unknown"
	}

	at := rec.At
	if at.IsZero() {
		at = s.clock.Now()
	}

	entry := auditdomain.AuditLog{
		ID:         s.genID.Generate(),
		OrgID:      orgID,
		ActorType:  string(actorType),
		ActorID:    optional(rec.ActorID),
		Action:     action,
		TargetType: targetType,
		TargetID:   optional(rec.TargetID),
		Metadata:   metadataOf(rec.Metadata),
		CreatedAt:  at.UTC(),
	}

	if tx == nil {
		tx = s.db
	}
	if err := s.repo.Insert(ctx, tx, &entry); err != nil {
		ctxlogger.WithContext(ctx, s.log).Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("target_type", targetType),
			zap.Error(err),
		)
		return err
	}
	return nil
}

// List returns audit records newest first, one page at a time.
func (s *Service) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	orgID, err := orgcontext.Require(ctx, auditdomain.ErrInvalidOrganization)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}
	if req.StartAt != nil && req.EndAt != nil && req.StartAt.After(*req.EndAt) {
		return auditdomain.ListAuditLogResponse{}, auditdomain.ErrInvalidTimeRange
	}
	cursor, err := decodePageToken(req.PageToken)
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageSize := pagination.ClampSize(req.PageSize, defaultPageSize, maxPageSize)

	items, err := s.repo.List(ctx, s.db, auditdomain.ListFilter{
		OrgID:      orgID,
		Action:     req.Action,
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		StartAt:    req.StartAt,
		EndAt:      req.EndAt,
		Cursor:     cursor,
		Limit:      pageSize,
	})
	if err != nil {
		return auditdomain.ListAuditLogResponse{}, err
	}

	pageInfo := pagination.BuildCursorPageInfo(items, pageSize, encodePageToken)
	if len(items) > pageSize {
		items = items[:pageSize]
	}

	logs := make([]auditdomain.AuditLog, 0, len(items))
	for _, item := range items {
		logs = append(logs, *item)
	}
	return auditdomain.ListAuditLogResponse{PageInfo: pageInfo, AuditLogs: logs}, nil
}

const (
	defaultPageSize = 50
	maxPageSize     = 250
)

func decodePageToken(token string) (*auditdomain.AuditCursor, error) {
	if strings.TrimSpace(token) == "" {
		return nil, nil
	}
	decoded, err := pagination.DecodeCursor(token)
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	id, createdAt, err := decoded.Keys()
	if err != nil {
		return nil, auditdomain.ErrInvalidPageToken
	}
	return &auditdomain.AuditCursor{ID: id, CreatedAt: createdAt}, nil
}

func encodePageToken(item *auditdomain.AuditLog) string {
	token, err := pagination.EncodeCursor(pagination.NewCursor(item.ID, item.CreatedAt))
	if err != nil {
		return ""
	}
	return token
}

func metadataOf(in map[string]any) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(in))
	for key, value := range in {
		if key != "" {
			out[key] = value
		}
	}
	return out
}

func optional(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
