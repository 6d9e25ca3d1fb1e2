// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// InitLogging configures the default slog logger based on SPLUNKDESK_LOG_LEVEL
// and an optional -log-level / --log-level CLI flag (flag wins).
// SPLUNKDESK_LOG_FORMAT=json switches the handler to JSON output.
// It returns args with the flag stripped so downstream flag parsers don't
// choke on it.
func InitLogging(args []string) []string {
	levelStr, remaining := parseLevel(os.Getenv("SPLUNKDESK_LOG_LEVEL"), args)
	slog.SetDefault(newLogger(os.Stderr, levelStr, os.Getenv("SPLUNKDESK_LOG_FORMAT")))
	return remaining
}

func parseLevel(envLevel string, args []string) (string, []string) {
	levelStr := envLevel
	if levelStr == "" {
		levelStr = "info"
	}

	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		// --log-level=value
		if v, ok := strings.CutPrefix(arg, "--log-level="); ok {
			levelStr = v
			continue
		}
		if v, ok := strings.CutPrefix(arg, "-log-level="); ok {
			levelStr = v
			continue
		}

		// -log-level value / --log-level value
		if arg == "-log-level" || arg == "--log-level" {
			if i+1 < len(args) {
				levelStr = args[i+1]
				i++
			}
			continue
		}

		remaining = append(remaining, arg)
	}
	return levelStr, remaining
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

func newLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
