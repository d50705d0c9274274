// Package log builds the process root logger. There is no package-level
// logger; every component receives one through its constructor.
package log

import (
	"os"

	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	dslog "github.com/grafana/dskit/log"
)

// InitLogger builds the root go-kit logger for the given format (logfmt or
// json) and level. Component loggers derive from it with log.With.
func InitLogger(logFormat string, logLevel dslog.Level) kitlog.Logger {
	logger := dslog.NewGoKitWithWriter(logFormat, kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	// filter outermost so suppressed lines never evaluate the timestamp
	return level.NewFilter(logger, logLevel.Option)
}
