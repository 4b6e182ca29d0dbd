// logger.go - Structured logging for the dark-pool daemon.
//
// Console plus optional file output, with a separate audit stream for
// compliance-relevant events (order intake, matches, settlement terminals).
package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the daemon logger and the audit logger. The returned
// closer flushes both.
func NewLogger(level, logFile, auditFile string) (log *zap.Logger, audit *zap.Logger, closer func(), err error) {
	var lvl zapcore.Level
	switch level {
	case "debug":
		lvl = zapcore.DebugLevel
	case "info", "":
		lvl = zapcore.InfoLevel
	case "warn":
		lvl = zapcore.WarnLevel
	case "error":
		lvl = zapcore.ErrorLevel
	default:
		return nil, nil, nil, fmt.Errorf("unknown log level %q", level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stdout), lvl),
	}
	var files []*os.File

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		files = append(files, f)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), lvl))
	}
	log = zap.New(zapcore.NewTee(cores...))

	audit = zap.NewNop()
	if auditFile != "" {
		f, err := os.OpenFile(auditFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("failed to open audit file: %w", err)
		}
		files = append(files, f)
		auditCore := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.Lock(f), zapcore.InfoLevel)
		audit = zap.New(auditCore).Named("audit")
	}

	closer = func() {
		log.Sync()
		audit.Sync()
		for _, f := range files {
			f.Close()
		}
	}
	return log, audit, closer, nil
}
