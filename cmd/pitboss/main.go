package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/internal/audit"
	"github.com/smallbiznis/pitboss/internal/clock"
	"github.com/smallbiznis/pitboss/internal/compliance"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/lock"
	"github.com/smallbiznis/pitboss/internal/migration"
	"github.com/smallbiznis/pitboss/internal/observability"
	"github.com/smallbiznis/pitboss/internal/ratingslip"
	"github.com/smallbiznis/pitboss/internal/rollover"
	"github.com/smallbiznis/pitboss/internal/threshold"
	"github.com/smallbiznis/pitboss/internal/visit"
	"github.com/smallbiznis/pitboss/internal/visitview"
	visitviewdomain "github.com/smallbiznis/pitboss/internal/visitview/domain"
	"github.com/smallbiznis/pitboss/pkg/db"
	"github.com/smallbiznis/pitboss/pkg/log"
	"github.com/smallbiznis/pitboss/pkg/telemetry"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		log.Module,
		telemetry.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Engine
		audit.Module,
		ratingslip.Module,
		visit.Module,
		threshold.Module,
		compliance.Module,
		visitview.Module,
		fx.Invoke(func(visitviewdomain.Service, compliancedomain.Service) {}),

		// Eager rollover runs only when ROLLOVER_MODE=eager.
		rollover.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
