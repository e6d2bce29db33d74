package ratingslip

import (
	slipdomain "github.com/smallbiznis/pitboss/internal/ratingslip/domain"
	"github.com/smallbiznis/pitboss/internal/ratingslip/service"
	visitdomain "github.com/smallbiznis/pitboss/internal/visit/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("ratingslip.service",
	fx.Provide(service.NewService),
	fx.Provide(provideSlipCloser),
)

func provideSlipCloser(svc slipdomain.Service) visitdomain.SlipCloser {
	return svc
}
