package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

type LogCode string

const (
	// SYSTEM EVENTS (SYSTEM*)
	SYSTEM LogCode = "SYSTEM"

	// DATA OPERATIONS (DATA*)
	DATA_LOAD    LogCode = "DATA_LOAD"
	DATA_SPLIT   LogCode = "DATA_SPLIT"
	DATA_COMBINE LogCode = "DATA_COMBINE"

	// VOCABULARY OPERATIONS (VOCAB*)
	VOCAB_BUILD LogCode = "VOCAB_BUILD"
	VOCAB_LOAD  LogCode = "VOCAB_LOAD"
	VOCAB_MERGE LogCode = "VOCAB_MERGE"

	// RECORD OPERATIONS
	RECORD_WRITE LogCode = "RECORD_WRITE"
	RECORD_READ  LogCode = "RECORD_READ"

	// REGISTRY
	REGISTRY LogCode = "REGISTRY"
)

// VictoriaLogs has fixed field name for time (_time) and message(_msg). This function maps fields msg -> _msg and time -> _time.
func convertKeysToVictoriaLogs(keys []string, a slog.Attr) slog.Attr {
	if a.Key == slog.TimeKey {
		return slog.Attr{Key: "_time", Value: slog.StringValue(a.Value.Time().Format("2006-01-02 15:04:05"))}
	}
	if a.Key == slog.MessageKey {
		return slog.Attr{Key: "_msg", Value: a.Value}
	}
	return a
}

func GetVictoriaLogsOptions(addSource bool, level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: convertKeysToVictoriaLogs,
		AddSource:   addSource,
	}
}

func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// InitLogging installs the default logger. JSON logs (VictoriaLogs keys) go to
// logFile when it is non-nil, text logs always go to stderr. The attrs are
// attached to the json logs and are used for filtering.
func InitLogging(logFile io.Writer, level string, attrs ...slog.Attr) {
	lvl := ParseLevel(level)

	handlers := []slog.Handler{slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})}

	if logFile != nil {
		var jsonHandler slog.Handler = slog.NewJSONHandler(logFile, GetVictoriaLogsOptions(true, lvl))
		jsonHandler = jsonHandler.WithAttrs(attrs)
		handlers = append(handlers, jsonHandler)
	}

	slog.SetDefault(slog.New(slogmulti.Fanout(handlers...)))
}
