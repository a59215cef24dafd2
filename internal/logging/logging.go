// Package logging installs the process-wide slog logger backed by a rotating
// log file.
package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/tunnelmaster/stm/internal/appconfig"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ParseLevel maps a config level name to a slog level. Unknown names are INFO.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Setup points the default slog logger at cfg.LogPath(), rotated by size.
// When mirror is non-nil every record is also written there. The returned
// closer flushes and closes the log file.
func Setup(cfg appconfig.Config, mirror io.Writer) (*slog.Logger, io.Closer) {
	file := &lumberjack.Logger{
		Filename:   cfg.LogPath(),
		MaxSize:    cfg.Log.MaxSizeMB, // megabytes
		MaxBackups: cfg.Log.MaxBackups,
	}
	var out io.Writer = file
	if mirror != nil {
		out = io.MultiWriter(file, mirror)
	}
	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{
		Level: ParseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	return logger, file
}
