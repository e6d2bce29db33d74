package visitview

import (
	"github.com/smallbiznis/pitboss/internal/visitview/service"
	"go.uber.org/fx"
)

var Module = fx.Module("visitview.service",
	fx.Provide(service.NewService),
)
