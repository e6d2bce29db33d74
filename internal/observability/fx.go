package observability

import (
	"github.com/smallbiznis/pitboss/internal/config"
	"github.com/smallbiznis/pitboss/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.Metrics.Enabled,
		ExporterEndpoint: cfg.Metrics.Endpoint,
		ExporterProtocol: cfg.Metrics.Protocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}
