package logging

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// GormLogger routes gorm's statement log through logrus at debug level and
// reports slow queries as warnings.
type GormLogger struct {
	log           *logrus.Logger
	slowThreshold time.Duration
}

func NewGormLogger(log *logrus.Logger, slowThreshold time.Duration) *GormLogger {
	return &GormLogger{log: log, slowThreshold: slowThreshold}
}

func (l *GormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return l
}

func (l *GormLogger) Info(_ context.Context, msg string, args ...any) {
	l.log.Infof(msg, args...)
}

func (l *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	l.log.Warnf(msg, args...)
}

func (l *GormLogger) Error(_ context.Context, msg string, args ...any) {
	l.log.Errorf(msg, args...)
}

func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows, "sql": sql}).WithError(err).Debug("sql error")
	case l.slowThreshold > 0 && elapsed > l.slowThreshold:
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows, "sql": sql}).Warn("slow sql")
	case l.log.IsLevelEnabled(logrus.TraceLevel):
		sql, rows := fc()
		l.log.WithFields(logrus.Fields{"elapsed": elapsed, "rows": rows, "sql": sql}).Trace("sql")
	}
}
