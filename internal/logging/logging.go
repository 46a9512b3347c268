// Package logging sets up the engine's zap logger: one timestamped file per
// process start under the configured logs directory, mirrored to stderr, with
// at most 10 log files retained.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	filePrefix  = "chameleon_"
	fileSuffix  = ".log"
	maxLogFiles = 10
)

// ParseLevel maps the config log_level names onto zap levels.
// CRITICAL has no direct zap equivalent and maps to the error level with
// a higher-is-quieter semantic preserved by DPanic.
func ParseLevel(name string) (zapcore.Level, error) {
	switch name {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO":
		return zapcore.InfoLevel, nil
	case "WARNING":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	case "CRITICAL":
		return zapcore.DPanicLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// New creates the process logger. It creates logsDir if needed, opens a new
// timestamped log file, prunes old files down to the retention limit, and
// tees every entry to stderr.
func New(logsDir, level string) (*zap.Logger, func(), error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create logs dir %s: %w", logsDir, err)
	}

	pruneOldLogs(logsDir)

	// Microsecond suffix keeps names unique across rapid restarts.
	stamp := time.Now().Format("20060102_150405.000000")
	name := filepath.Join(logsDir, filePrefix+stamp+fileSuffix)
	file, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file %s: %w", name, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(file), lvl),
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(os.Stderr), lvl),
	)

	logger := zap.New(core)
	cleanup := func() {
		_ = logger.Sync()
		_ = file.Close()
	}
	logger.Info("logging initialized", zap.String("file", name), zap.String("level", level))
	return logger, cleanup, nil
}

// pruneOldLogs deletes the oldest log files so that, with the file about to
// be created, at most maxLogFiles remain.
func pruneOldLogs(logsDir string) {
	entries, err := filepath.Glob(filepath.Join(logsDir, filePrefix+"*"+fileSuffix))
	if err != nil || len(entries) < maxLogFiles {
		return
	}
	// Timestamped names sort chronologically.
	sort.Strings(entries)
	for _, old := range entries[:len(entries)-(maxLogFiles-1)] {
		if err := os.Remove(old); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not delete old log file %s: %v\n", old, err)
		}
	}
}
