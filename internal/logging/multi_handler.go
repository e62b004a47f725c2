package logging

import (
	"context"
	"errors"
	"log/slog"
)

// fanoutHandler はモジュールのレベルを1か所で判定し、複数の出力先に書き出す
// 出力先（標準出力とjournal）はどれも同じLevelVarを参照する
type fanoutHandler struct {
	level    slog.Leveler
	handlers []slog.Handler
}

// newFanoutHandler はlevel以上のレコードを全ハンドラーに書き出すハンドラーを作成する
func newFanoutHandler(level slog.Leveler, handlers ...slog.Handler) *fanoutHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &fanoutHandler{level: level, handlers: handlers}
}

// Enabled implements slog.Handler.
func (f *fanoutHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= f.level.Level()
}

// Handle implements slog.Handler.
// 1つの出力先が失敗しても残りには書き出し、エラーはまとめて返す
func (f *fanoutHandler) Handle(ctx context.Context, r slog.Record) error {
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

// WithAttrs implements slog.Handler.
func (f *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

// WithGroup implements slog.Handler.
func (f *fanoutHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return f
	}
	return f.derive(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (f *fanoutHandler) derive(fn func(slog.Handler) slog.Handler) *fanoutHandler {
	handlers := make([]slog.Handler, len(f.handlers))
	for i, h := range f.handlers {
		handlers[i] = fn(h)
	}
	return &fanoutHandler{level: f.level, handlers: handlers}
}
