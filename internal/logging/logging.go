// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package logging

import (
	"context"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NoLoggingLevel is higher than any standard level and disables a sink.
const NoLoggingLevel = slog.Level(100)

type Config struct {
	FilePath     string
	FileLevel    slog.Level
	ConsoleLevel slog.Level
}

// SetupInitialLogging installs a console-only logger for the window before
// configuration is loaded.
func SetupInitialLogging() {
	slog.SetDefault(slog.New(
		tint.NewHandler(os.Stdout, &tint.Options{
			Level:      slog.LevelDebug,
			TimeFormat: time.RFC3339,
		}),
	))

	redirectStdLog()
}

// Setup installs the configured logger: a rotated file sink, plus a console
// sink unless disabled with NoLoggingLevel.
func Setup(cfg Config) {
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
		slog.Error("Failed to create log folder hierarchy", "error", err)
		return
	}

	lumber := &lumberjack.Logger{
		Filename: cfg.FilePath,
		Compress: true,
	}

	handler := &teeHandler{
		fileHandler: tint.NewHandler(lumber, &tint.Options{
			Level:      cfg.FileLevel,
			TimeFormat: time.RFC3339,
		}),
	}

	if cfg.ConsoleLevel != NoLoggingLevel {
		handler.consoleHandler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      cfg.ConsoleLevel,
			TimeFormat: time.RFC3339,
		})
	}

	slog.SetDefault(slog.New(handler))

	redirectStdLog()
}

// redirectStdLog routes the standard library logger into slog, in case some
// deep dep is using it.
func redirectStdLog() {
	lw := &slogWriter{}
	log.Default().SetOutput(lw)
	log.SetOutput(lw)
}

// teeHandler fans records out to a file sink and an optional console sink,
// each with its own level.
type teeHandler struct {
	fileHandler    slog.Handler
	consoleHandler slog.Handler
}

func (h *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.fileHandler.Enabled(ctx, level) {
		return true
	}
	return h.consoleHandler != nil && h.consoleHandler.Enabled(ctx, level)
}

func (h *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.fileHandler.Enabled(ctx, r.Level) {
		if err := h.fileHandler.Handle(ctx, r); err != nil {
			return err
		}
	}

	if h.consoleHandler != nil && h.consoleHandler.Enabled(ctx, r.Level) {
		if err := h.consoleHandler.Handle(ctx, r); err != nil {
			return err
		}
	}

	return nil
}

func (h *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newHandler := &teeHandler{
		fileHandler: h.fileHandler.WithAttrs(attrs),
	}
	if h.consoleHandler != nil {
		newHandler.consoleHandler = h.consoleHandler.WithAttrs(attrs)
	}
	return newHandler
}

func (h *teeHandler) WithGroup(name string) slog.Handler {
	newHandler := &teeHandler{
		fileHandler: h.fileHandler.WithGroup(name),
	}
	if h.consoleHandler != nil {
		newHandler.consoleHandler = h.consoleHandler.WithGroup(name)
	}
	return newHandler
}

type slogWriter struct{}

func (w *slogWriter) Write(p []byte) (n int, err error) {
	msg := string(p)
	switch {
	case len(msg) > 6 && msg[:5] == "ERROR":
		slog.Error(msg[6:])
	case len(msg) > 5 && msg[:4] == "WARN":
		slog.Warn(msg[5:])
	case len(msg) > 5 && msg[:4] == "INFO":
		slog.Info(msg[5:])
	default:
		slog.Debug(msg)
	}
	return len(p), nil
}
