package scheduler

import (
	"context"
	"time"

	obslogger "github.com/smallbiznis/paysync/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"go.uber.org/zap"
)

// jobRun tracks one execution of a job for its start/finish log lines.
type jobRun struct {
	job       string
	runID     string
	batchSize int
	startedAt time.Time
	log       *zap.Logger

	processed int
	errors    int
}

type jobRunKey struct{}

// ensureJobRun returns the run already on ctx, or starts a new one. owner is
// true for the caller that started it and must log its finish.
func (s *Scheduler) ensureJobRun(ctx context.Context, job string, batchSize int) (context.Context, *jobRun, bool) {
	if run, ok := ctx.Value(jobRunKey{}).(*jobRun); ok {
		return ctx, run, false
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		batchSize: batchSize,
		startedAt: time.Now(),
	}
	run.log = obslogger.WithContext(ctx, s.log).With(
		zap.String("job", job),
		zap.String("run_id", run.runID),
	)
	return context.WithValue(ctx, jobRunKey{}, run), run, true
}

func (r *jobRun) AddProcessed(count int) {
	if count > 0 {
		r.processed += count
	}
}

func (r *jobRun) start() {
	r.log.Info("scheduler.job.start", zap.Int("batch_size", r.batchSize))
}

func (r *jobRun) finish() {
	fields := []zap.Field{
		zap.Int64("duration_ms", time.Since(r.startedAt).Milliseconds()),
		zap.Int("processed_count", r.processed),
		zap.Int("error_count", r.errors),
	}
	if r.errors > 0 {
		r.log.Warn("scheduler.job.finish", fields...)
		return
	}
	r.log.Info("scheduler.job.finish", fields...)
}

func (r *jobRun) fail(msg string, err error, fields ...zap.Field) {
	r.errors++
	r.log.Error(msg, append([]zap.Field{
		zap.String("reason", obsmetrics.ClassifySchedulerJobReason(err)),
		zap.Error(err),
	}, fields...)...)
}
