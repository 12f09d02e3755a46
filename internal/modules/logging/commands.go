package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"devstash/internal/core"
	"devstash/internal/storage"
)

// Имена команд модуля.
const (
	CmdLog    = "plugin:log|log"
	CmdRecent = "plugin:log|recent"
)

type logArgs struct {
	Level   string `json:"level"`
	Message string `json:"message"`
	// Location откуда пришла запись во front-end (файл:строка).
	Location string `json:"location,omitempty"`
}

var frontendLevels = map[string]slog.Level{
	"trace": slog.LevelDebug - 4,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

func (m *Module) log(ctx context.Context, a logArgs) (interface{}, error) {
	level, ok := frontendLevels[strings.ToLower(a.Level)]
	if !ok {
		return nil, core.InvalidArgs("level", fmt.Sprintf("unknown level %q", a.Level))
	}
	attrs := []interface{}{"source", "webview"}
	if a.Location != "" {
		attrs = append(attrs, "location", a.Location)
	}
	m.logger.Log(ctx, level, a.Message, attrs...)
	return nil, nil
}

type recentArgs struct {
	Limit   int    `json:"limit,omitempty"`
	Command string `json:"command,omitempty"`
}

// Entry запись журнала в ответе plugin:log|recent.
type Entry struct {
	TS           string          `json:"ts"`
	Level        string          `json:"level"`
	Message      string          `json:"message"`
	Command      string          `json:"command,omitempty"`
	InvocationID string          `json:"invocationId,omitempty"`
	Attrs        json.RawMessage `json:"attrs,omitempty"`
}

func (m *Module) recent(ctx context.Context, a recentArgs) ([]Entry, error) {
	if m.store == nil {
		return nil, &core.Error{Kind: core.KindHandlerError, Message: "journal target is disabled"}
	}
	if a.Limit < 0 {
		return nil, core.InvalidArgs("limit", "limit must not be negative")
	}
	if err := m.journal.flush(ctx); err != nil {
		return nil, err
	}
	records, err := m.store.QueryRecords(ctx, storage.Query{Command: a.Command, Limit: a.Limit})
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(records))
	for _, rec := range records {
		e := Entry{
			TS:           rec.TS.UTC().Format(time.RFC3339Nano),
			Level:        rec.Level,
			Message:      rec.Message,
			Command:      rec.Command,
			InvocationID: rec.InvocationID,
		}
		if len(rec.Attrs) > 0 {
			e.Attrs = json.RawMessage(rec.Attrs)
		}
		out = append(out, e)
	}
	return out, nil
}
