package db

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/tenant-billing/pkg/logger"
)

func TestQueryLoggerReportsSlowAndFailedQueries(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "test", Output: &buf})
	ql := newQueryLogger(logg, time.Nanosecond)

	ctx := context.Background()
	ql.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 1", 1 }, nil)
	if !strings.Contains(buf.String(), "db.slow_query") || !strings.Contains(buf.String(), "SELECT 1") {
		t.Fatalf("expected slow query log, got %s", buf.String())
	}

	buf.Reset()
	ql.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT * FROM missing", 0 }, gorm.ErrRecordNotFound)
	if strings.Contains(buf.String(), "db.query_failed") {
		t.Fatalf("record not found must not be logged as failure: %s", buf.String())
	}

	buf.Reset()
	ql.LogMode(gormlogger.Silent).Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)
	if buf.Len() != 0 {
		t.Fatalf("silent mode must not log: %s", buf.String())
	}
}

func TestQueryLoggerWithoutLoggerDiscards(t *testing.T) {
	if newQueryLogger(nil, time.Second) != gormlogger.Discard {
		t.Fatal("expected discard logger when no service logger is configured")
	}
}
