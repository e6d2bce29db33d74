package rollover

import (
	"context"

	"github.com/smallbiznis/pitboss/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("rollover",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
	fx.Invoke(StartSweeper),
)

// StartSweeper runs the sweep loop only in eager mode. Lazy mode leaves
// rollover to the next StartOrResume of each player.
func StartSweeper(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, sweeper *Sweeper) {
	if !cfg.EagerRollover() {
		log.Info("rollover sweeper disabled", zap.String("mode", cfg.Rollover.Mode))
		return
	}

	var cancel context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			go sweeper.RunForever(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if cancel != nil {
				cancel()
			}
			return nil
		},
	})
}
