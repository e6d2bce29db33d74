package compliance

import (
	"github.com/smallbiznis/pitboss/internal/compliance/service"
	thresholddomain "github.com/smallbiznis/pitboss/internal/threshold/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("compliance.service",
	fx.Provide(service.NewService),
	fx.Provide(provideObserver),
)

func provideObserver(svc thresholddomain.Service) thresholddomain.Observer {
	return svc
}
