package pgcore

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/tracelog"
)

// redactedTraceKeys are dropped from pgx trace data: statement text and
// arguments may carry user data.
var redactedTraceKeys = map[string]bool{"sql": true, "args": true}

func newTraceLog(logger *slog.Logger, level tracelog.LogLevel) *tracelog.TraceLog {
	return &tracelog.TraceLog{
		Logger: tracelog.LoggerFunc(func(ctx context.Context, lvl tracelog.LogLevel, msg string, data map[string]any) {
			attrs := make([]any, 0, 2*len(data)+2)
			attrs = append(attrs, "pgx_level", lvl.String())
			for k, v := range data {
				if redactedTraceKeys[k] {
					continue
				}
				attrs = append(attrs, k, v)
			}
			logger.Log(ctx, slogLevel(lvl), "pgx: "+msg, attrs...)
		}),
		LogLevel: level,
	}
}

func slogLevel(l tracelog.LogLevel) slog.Level {
	switch {
	case l <= tracelog.LogLevelError:
		return slog.LevelError
	case l == tracelog.LogLevelWarn:
		return slog.LevelWarn
	case l == tracelog.LogLevelInfo:
		return slog.LevelInfo
	}
	return slog.LevelDebug
}
