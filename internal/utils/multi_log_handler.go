package utils

import (
	"context"
	"errors"
	"log/slog"
)

// MultiLogHandler fans slog records out to several handlers, e.g. a colored terminal
// handler and a JSON file handler
type MultiLogHandler struct {
	handlers []slog.Handler
}

// NewMultiLogHandler creates a handler that forwards records to all of handlers
func NewMultiLogHandler(handlers ...slog.Handler) *MultiLogHandler {
	return &MultiLogHandler{handlers: handlers}
}

// Enabled implements slog.Handler
func (h *MultiLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle implements slog.Handler
func (h *MultiLogHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, r.Level) {
			continue
		}
		if err := handler.Handle(ctx, r.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements slog.Handler
func (h *MultiLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler
func (h *MultiLogHandler) WithGroup(name string) slog.Handler {
	return h.each(func(handler slog.Handler) slog.Handler { return handler.WithGroup(name) })
}

func (h *MultiLogHandler) each(fn func(slog.Handler) slog.Handler) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = fn(handler)
	}
	return NewMultiLogHandler(handlers...)
}

var _ slog.Handler = (*MultiLogHandler)(nil)
