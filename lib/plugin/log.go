package plugin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
)

// logRecord is the payload of a log notification.
type logRecord struct {
	Level   slog.Level     `json:"level"`
	Message string         `json:"msg"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// handleLog re-emits an adapter log record through the loader's logger.
func (l *Loader) handleLog(ctx context.Context, header Header) error {
	var rec logRecord
	if err := json.Unmarshal(header.Payload, &rec); err != nil {
		return fmt.Errorf("failed to decode log record: %w", err)
	}

	args := make([]any, 0, 2+2*len(rec.Attrs))
	args = append(args, "plugin", l.Name)
	keys := make([]string, 0, len(rec.Attrs))
	for k := range rec.Attrs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, k, rec.Attrs[k])
	}

	l.logger.Log(ctx, rec.Level, rec.Message, args...)
	return nil
}

// Log sends a log record to the host, which writes it through its own logger.
func (m *Module) Log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) error {
	rec := logRecord{Level: level, Message: msg}
	if len(attrs) > 0 {
		rec.Attrs = make(map[string]any, len(attrs))
		for _, a := range attrs {
			rec.Attrs[a.Key] = a.Value.Resolve().Any()
		}
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode log record: %w", err)
	}
	return m.SendMessage(ctx, logMessage, payload)
}

// Logger returns a logger whose records are forwarded to the host.
func (m *Module) Logger() *slog.Logger {
	return slog.New(&forwardHandler{module: m, level: slog.LevelDebug})
}

type forwardHandler struct {
	module *Module
	level  slog.Leveler
	attrs  []slog.Attr
	group  string
}

func (h *forwardHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	attrs := slices.Clone(h.attrs)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.qualify(a))
		return true
	})
	return h.module.Log(ctx, r.Level, r.Message, attrs...)
}

func (h *forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = slices.Clone(h.attrs)
	for _, a := range attrs {
		next.attrs = append(next.attrs, h.qualify(a))
	}
	return &next
}

func (h *forwardHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.qualifyKey(name)
	return &next
}

func (h *forwardHandler) qualify(a slog.Attr) slog.Attr {
	a.Key = h.qualifyKey(a.Key)
	return a
}

func (h *forwardHandler) qualifyKey(key string) string {
	if h.group == "" {
		return key
	}
	return h.group + "." + key
}
