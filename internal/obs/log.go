// Package obs wires up the orchestrator's ambient observability: a single
// structured logger and a small set of OpenTelemetry run metrics.
package obs

import (
	"io"
	"log/slog"
	"os"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// NewLogger builds the process-wide structured logger. When w is a terminal
// (or nil, defaulting to stderr), output is colorized via tint; otherwise
// plain JSON is used so logs remain machine-parseable under supervision.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return slog.New(tint.NewHandler(f, &tint.Options{
			Level:      level,
			TimeFormat: "15:04:05",
		}))
	}

	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// RunAttrs returns the slog attribute set (project_id, sprint_id, run_id)
// that identifies a run in a log line.
func RunAttrs(projectID, sprintID, runID string) []any {
	return []any{
		slog.String("project_id", projectID),
		slog.String("sprint_id", sprintID),
		slog.String("run_id", runID),
	}
}
