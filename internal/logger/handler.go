package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
)

func severityName(l slog.Level) string {
	switch {
	case l < LevelDebug:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

// textHandler renders `time="..." severity=LEVEL message="..."`, matching
// the human-readable format gcsfuse ships for interactive use.
type textHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

func (h *textHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *textHandler) Handle(_ context.Context, r slog.Record) error {
	_, err := fmt.Fprintf(h.w, "time=%q severity=%s message=%q\n",
		r.Time.Format("2006/01/02 15:04:05.000000"),
		severityName(r.Level),
		h.prefix+r.Message)
	return err
}

func (h *textHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *textHandler) WithGroup(_ string) slog.Handler       { return h }

// jsonHandler renders a single-line JSON object per record, matching
// gcsfuse's structured log output for log aggregation.
type jsonHandler struct {
	w      io.Writer
	level  *slog.LevelVar
	prefix string
}

type jsonTimestamp struct {
	Seconds int64 `json:"seconds"`
	Nanos   int32 `json:"nanos"`
}

type jsonRecord struct {
	Timestamp jsonTimestamp `json:"timestamp"`
	Severity  string        `json:"severity"`
	Message   string        `json:"message"`
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, r slog.Record) error {
	rec := jsonRecord{
		Timestamp: jsonTimestamp{Seconds: r.Time.Unix(), Nanos: int32(r.Time.Nanosecond())},
		Severity:  severityName(r.Level),
		Message:   h.prefix + r.Message,
	}
	enc := json.NewEncoder(h.w)
	return enc.Encode(rec)
}

func (h *jsonHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *jsonHandler) WithGroup(_ string) slog.Handler       { return h }
