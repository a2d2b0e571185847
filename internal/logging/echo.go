// © 2025 Platform Engineering Labs Inc.
//
// SPDX-License-Identifier: FSL-1.1-ALv2

package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	glog "github.com/labstack/gommon/log"
)

// EchoLogger adapts slog to Echo's Logger interface so the HTTP server's
// own output lands in the same sinks as everything else.
type EchoLogger struct {
	Logger *slog.Logger
}

func NewEchoLogger() *EchoLogger {
	return &EchoLogger{Logger: slog.Default()}
}

func (l *EchoLogger) Output() io.Writer     { return io.Discard }
func (l *EchoLogger) SetOutput(w io.Writer) {}
func (l *EchoLogger) Prefix() string        { return "" }
func (l *EchoLogger) SetPrefix(p string)    {}
func (l *EchoLogger) Level() glog.Lvl       { return glog.DEBUG }
func (l *EchoLogger) SetLevel(v glog.Lvl)   {}
func (l *EchoLogger) SetHeader(h string)    {}

func (l *EchoLogger) Print(i ...any)                 { l.Logger.Info(fmt.Sprint(i...)) }
func (l *EchoLogger) Printf(format string, a ...any) { l.Logger.Info(fmt.Sprintf(format, a...)) }
func (l *EchoLogger) Printj(j glog.JSON)             { l.Logger.Info("json", "data", j) }

func (l *EchoLogger) Debug(i ...any)                 { l.Logger.Debug(fmt.Sprint(i...)) }
func (l *EchoLogger) Debugf(format string, a ...any) { l.Logger.Debug(fmt.Sprintf(format, a...)) }
func (l *EchoLogger) Debugj(j glog.JSON)             { l.Logger.Debug("json", "data", j) }

func (l *EchoLogger) Info(i ...any)                 { l.Logger.Info(fmt.Sprint(i...)) }
func (l *EchoLogger) Infof(format string, a ...any) { l.Logger.Info(fmt.Sprintf(format, a...)) }
func (l *EchoLogger) Infoj(j glog.JSON)             { l.Logger.Info("json", "data", j) }

func (l *EchoLogger) Warn(i ...any)                 { l.Logger.Warn(fmt.Sprint(i...)) }
func (l *EchoLogger) Warnf(format string, a ...any) { l.Logger.Warn(fmt.Sprintf(format, a...)) }
func (l *EchoLogger) Warnj(j glog.JSON)             { l.Logger.Warn("json", "data", j) }

func (l *EchoLogger) Error(i ...any)                 { l.Logger.Error(fmt.Sprint(i...)) }
func (l *EchoLogger) Errorf(format string, a ...any) { l.Logger.Error(fmt.Sprintf(format, a...)) }
func (l *EchoLogger) Errorj(j glog.JSON)             { l.Logger.Error("json", "data", j) }

func (l *EchoLogger) Fatal(i ...any) {
	l.Logger.Error(fmt.Sprint(i...))
	os.Exit(1)
}

func (l *EchoLogger) Fatalf(format string, a ...any) {
	l.Logger.Error(fmt.Sprintf(format, a...))
	os.Exit(1)
}

func (l *EchoLogger) Fatalj(j glog.JSON) {
	l.Logger.Error("json", "data", j)
	os.Exit(1)
}

func (l *EchoLogger) Panic(i ...any) {
	s := fmt.Sprint(i...)
	l.Logger.Error(s)
	panic(s)
}

func (l *EchoLogger) Panicf(format string, a ...any) {
	s := fmt.Sprintf(format, a...)
	l.Logger.Error(s)
	panic(s)
}

func (l *EchoLogger) Panicj(j glog.JSON) {
	l.Logger.Error("json", "data", j)
	panic(j)
}
