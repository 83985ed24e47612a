package main

import (
	"github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-steward/durable"
)

// glogAdapter bridges the structured application logger onto the workflow
// runtime's logging contract.
type glogAdapter struct {
	logger glog.Logger
}

func newLogger(level string) *glogAdapter {
	if level == "" {
		level = "info"
	}
	return &glogAdapter{logger: glog.NewLogger(
		glog.WithLevel(level),
		glog.WithLoggerTypeJSON(),
	)}
}

func (l *glogAdapter) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *glogAdapter) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *glogAdapter) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *glogAdapter) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

func (l *glogAdapter) WithFields(fields map[string]any) durable.Logger {
	if fl, ok := l.logger.(glog.FieldsLogger); ok {
		return &glogAdapter{logger: fl.WithFields(fields)}
	}
	return l
}

var _ durable.FieldsLogger = (*glogAdapter)(nil)
