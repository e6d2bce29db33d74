package rollover

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pitboss/pkg/log/ctxlogger"
	"github.com/smallbiznis/pitboss/pkg/telemetry/correlation"
	"go.uber.org/zap"
)

// sweepRun tallies one pass over the open visits. Every scanned visit lands
// in exactly one of current, closed, raced or failed.
type sweepRun struct {
	id        string
	startedAt time.Time
	lastID    snowflake.ID

	scanned int
	current int // still on their gaming day
	closed  int
	raced   int // closed by another writer between claim and close
	failed  int
	orgs    map[snowflake.ID]struct{}
}

func (r *sweepRun) observe(visit WorkVisit) {
	r.scanned++
	r.lastID = visit.ID
	if r.orgs == nil {
		r.orgs = make(map[snowflake.ID]struct{})
	}
	r.orgs[visit.OrgID] = struct{}{}
}

func (s *Sweeper) beginRun(ctx context.Context) (context.Context, *sweepRun) {
	run := &sweepRun{
		id:        s.genID.Generate().String(),
		startedAt: time.Now(),
	}
	ctx, _ = correlation.Child(ctx, run.id)
	s.logger(ctx).Info("rollover sweep started",
		zap.String("run_id", run.id),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Duration("timeout", s.cfg.JobTimeout),
	)
	return ctx, run
}

func (s *Sweeper) finishRun(ctx context.Context, run *sweepRun, err error) {
	fields := []zap.Field{
		zap.String("run_id", run.id),
		zap.Int64("duration_ms", time.Since(run.startedAt).Milliseconds()),
		zap.Int("scanned", run.scanned),
		zap.Int("current", run.current),
		zap.Int("closed", run.closed),
		zap.Int("raced", run.raced),
		zap.Int("failed", run.failed),
		zap.Int("orgs", len(run.orgs)),
	}
	if run.lastID != 0 {
		fields = append(fields, zap.String("last_visit_id", run.lastID.String()))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}

	log := s.logger(ctx)
	if err != nil || run.failed > 0 {
		log.Warn("rollover sweep finished with errors", fields...)
		return
	}
	log.Info("rollover sweep finished", fields...)
}

func (s *Sweeper) logger(ctx context.Context) *zap.Logger {
	return ctxlogger.WithContext(ctx, s.log)
}
