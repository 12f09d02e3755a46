package logging

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"devstash/internal/core"
	"devstash/internal/storage"
)

// fanout рассылает запись всем целям, которые принимают ее уровень.
type fanout struct {
	handlers []slog.Handler
}

func newFanout(handlers ...slog.Handler) slog.Handler {
	return &fanout{handlers: handlers}
}

func (f *fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f *fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &fanout{handlers: out}
}

func (f *fanout) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		out[i] = h.WithGroup(name)
	}
	return &fanout{handlers: out}
}

// recordHandler общая часть целей, которым нужна запись в виде плоского
// набора атрибутов: журнал SQLite и события для webview.
type recordHandler struct {
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
	output func(ctx context.Context, r slog.Record, attrs map[string]interface{}) error
}

func (h *recordHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *recordHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := make(map[string]interface{}, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		putAttr(attrs, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		putAttr(attrs, h.group, a)
		return true
	})
	return h.output(ctx, r, attrs)
}

func (h *recordHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append([]slog.Attr(nil), h.attrs...)
	for _, a := range attrs {
		if h.group != "" {
			a.Key = h.group + "." + a.Key
		}
		next.attrs = append(next.attrs, a)
	}
	return &next
}

func (h *recordHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	if h.group != "" {
		name = h.group + "." + name
	}
	next.group = name
	return &next
}

func putAttr(dst map[string]interface{}, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := a.Key
	if prefix != "" {
		key = prefix + "." + key
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			putAttr(dst, key, ga)
		}
		return
	}
	switch a.Value.Kind() {
	case slog.KindDuration:
		dst[key] = a.Value.Duration().Milliseconds()
	case slog.KindTime:
		dst[key] = a.Value.Time().UTC().Format(time.RFC3339Nano)
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		dst[key] = v
	}
}

// newJournalHandler пишет записи в SQLite-журнал через очередь j. command и
// invocation_id выносятся в отдельные колонки для выборки.
func newJournalHandler(j *journal, level slog.Leveler) slog.Handler {
	return &recordHandler{level: level, output: func(_ context.Context, r slog.Record, attrs map[string]interface{}) error {
		rec := storage.Record{
			Level:   r.Level.String(),
			Message: r.Message,
			TS:      r.Time,
		}
		if v, ok := attrs[attrCommand].(string); ok {
			rec.Command = v
			delete(attrs, attrCommand)
		}
		if v, ok := attrs[attrInvocationID].(string); ok {
			rec.InvocationID = v
			delete(attrs, attrInvocationID)
		}
		if len(attrs) > 0 {
			raw, err := json.Marshal(attrs)
			if err != nil {
				return err
			}
			rec.Attrs = raw
		}
		j.save(rec)
		return nil
	}}
}

// RecordEvent полезная нагрузка события log://record.
type RecordEvent struct {
	Level   string                 `json:"level"`
	Message string                 `json:"message"`
	Attrs   map[string]interface{} `json:"attrs,omitempty"`
	TS      string                 `json:"ts"`
}

// newWebviewHandler отправляет записи во front-end через event hub.
func newWebviewHandler(events *core.EventHub, level slog.Leveler) slog.Handler {
	return &recordHandler{level: level, output: func(_ context.Context, r slog.Record, attrs map[string]interface{}) error {
		if len(attrs) == 0 {
			attrs = nil
		}
		events.Emit(RecordEventName, RecordEvent{
			Level:   strings.ToLower(r.Level.String()),
			Message: r.Message,
			Attrs:   attrs,
			TS:      r.Time.UTC().Format(time.RFC3339Nano),
		})
		return nil
	}}
}
