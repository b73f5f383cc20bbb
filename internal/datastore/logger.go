// Package datastore logging infrastructure for database operations
package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/kestrelwatch/kestrel/internal/logging"
	gormlogger "gorm.io/gorm/logger"
)

var (
	datastoreLogger *slog.Logger
	loggerOnce      sync.Once
)

// getLogger returns the package logger, initializing it on first use.
func getLogger() *slog.Logger {
	loggerOnce.Do(func() {
		datastoreLogger = logging.ForService("datastore")
	})
	return datastoreLogger
}

const (
	// slowQueryThreshold defines the duration after which a query is logged
	// as slow. One second accommodates statistics aggregation queries.
	slowQueryThreshold = 1 * time.Second
)

// gormSlogAdapter routes gorm log output to the package slog logger.
type gormSlogAdapter struct {
	level gormlogger.LogLevel
}

// createGormLogger configures and returns a new GORM logger instance.
func createGormLogger() gormlogger.Interface {
	return &gormSlogAdapter{level: gormlogger.Warn}
}

func (g *gormSlogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormSlogAdapter{level: level}
}

func (g *gormSlogAdapter) Info(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Info {
		getLogger().Info(msg, "args", args)
	}
}

func (g *gormSlogAdapter) Warn(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Warn {
		getLogger().Warn(msg, "args", args)
	}
}

func (g *gormSlogAdapter) Error(ctx context.Context, msg string, args ...any) {
	if g.level >= gormlogger.Error {
		getLogger().Error(msg, "args", args)
	}
}

func (g *gormSlogAdapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && g.level >= gormlogger.Error:
		sql, rows := fc()
		getLogger().Error("query failed", "error", err, "sql", sql, "rows", rows, "elapsed", elapsed)
	case elapsed > slowQueryThreshold && g.level >= gormlogger.Warn:
		sql, rows := fc()
		getLogger().Warn("slow query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
