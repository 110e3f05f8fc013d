package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

// queryLogger forwards gorm's query trace to the service logger so slow
// statements and failures carry the request's context fields. Record-not-found
// is an expected outcome for lookups and is not logged.
type queryLogger struct {
	logg          *logger.Logger
	slowThreshold time.Duration
	level         gormlogger.LogLevel
}

var _ gormlogger.Interface = (*queryLogger)(nil)

func newQueryLogger(logg *logger.Logger, slowThreshold time.Duration) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &queryLogger{logg: logg, slowThreshold: slowThreshold, level: gormlogger.Warn}
}

func (q *queryLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	clone := *q
	clone.level = level
	return &clone
}

func (q *queryLogger) Info(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Info {
		q.logg.Info(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Warn(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Warn {
		q.logg.Warn(ctx, fmt.Sprintf(msg, args...))
	}
}

func (q *queryLogger) Error(ctx context.Context, msg string, args ...any) {
	if q.level >= gormlogger.Error {
		q.logg.Error(ctx, "db.error", fmt.Errorf(msg, args...))
	}
}

func (q *queryLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if q.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && q.level >= gormlogger.Error:
		sql, rows := fc()
		ctx = q.logg.WithFields(ctx, map[string]any{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()})
		q.logg.Error(ctx, "db.query_failed", err)
	case q.slowThreshold > 0 && elapsed > q.slowThreshold && q.level >= gormlogger.Warn:
		sql, rows := fc()
		ctx = q.logg.WithFields(ctx, map[string]any{"sql": sql, "rows": rows, "elapsed_ms": elapsed.Milliseconds()})
		q.logg.Warn(ctx, "db.slow_query")
	}
}
