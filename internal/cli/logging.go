package cli

import (
	"log/slog"
	"os"

	"github.com/lightcar-iot/lightcar/internal/constants"
)

// SetVerbosity sets the logging level for the default logger based on the verbose flag count.
//
// This function has the same behaviors as slog.SetLogLoggerLevel.
func SetVerbosity(level int) {
	slog.SetLogLoggerLevel(levelFromCount(level))
}

// SetSlog sets the logging level and format for the default logger.
func SetSlog(level int, jsonLogs bool) {
	if !jsonLogs {
		SetVerbosity(level)
		return
	}

	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: levelFromCount(level)})
	slog.SetDefault(slog.New(h))
}

func levelFromCount(level int) slog.Level {
	switch {
	case level <= 0:
		return constants.DefaultLogLevel
	case level == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
