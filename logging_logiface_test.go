// Copyright 2026 Joseph Cumines
//
// Permission to use, copy, modify, and distribute this software for any
// purpose with or without fee is hereby granted, provided that this copyright
// notice appears in all copies.

package waitmux

import (
	"sync"
	"testing"
	"time"

	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// logifaceEvent is a minimal logiface.Event implementation for exercising a
// typed logiface.Logger without depending on any particular backend
// (zerolog, logrus, stumpy, ...).
type logifaceEvent struct {
	logiface.UnimplementedEvent
	level  logiface.Level
	fields map[string]any
}

func (e *logifaceEvent) Level() logiface.Level { return e.level }

func (e *logifaceEvent) AddField(key string, val any) {
	if e.fields == nil {
		e.fields = make(map[string]any)
	}
	e.fields[key] = val
}

type logifaceEventFactory struct{}

func (logifaceEventFactory) NewEvent(level logiface.Level) *logifaceEvent {
	return &logifaceEvent{level: level}
}

// logifaceEventWriter records every event it receives.
type logifaceEventWriter struct {
	mu     sync.Mutex
	events []*logifaceEvent
}

func (w *logifaceEventWriter) Write(event *logifaceEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return nil
}

func (w *logifaceEventWriter) snapshot() []*logifaceEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]*logifaceEvent(nil), w.events...)
}

// logifaceLogger adapts a *logiface.Logger[logiface.Event] to this
// package's [Logger] interface, so a Pool's structured log stream can be
// routed through logiface (and from there, through whichever of
// zerolog/logrus/slog/stumpy the embedding application already uses)
// instead of the built-in [DefaultLogger].
type logifaceLogger struct {
	logger *logiface.Logger[logiface.Event]
}

func newLogifaceLogger(logger *logiface.Logger[logiface.Event]) *logifaceLogger {
	return &logifaceLogger{logger: logger}
}

func (l *logifaceLogger) IsEnabled(level LogLevel) bool {
	return l.logger.Level().Enabled() && toLogifaceLevel(level) >= 0
}

func (l *logifaceLogger) Log(entry LogEntry) {
	b := l.logger.Build(toLogifaceLevel(entry.Level))
	if b == nil {
		return
	}
	b = b.Field("category", entry.Category)
	if entry.GroupID != 0 {
		b = b.Field("group", entry.GroupID)
	}
	if entry.Handle != 0 {
		b = b.Field("handle", entry.Handle)
	}
	for k, v := range entry.Context {
		b = b.Field(k, v)
	}
	if entry.Err != nil {
		b = b.Err(entry.Err)
	}
	b.Log(entry.Message)
}

// toLogifaceLevel maps this package's four-level scheme onto logiface's
// syslog-derived Level, per the recommended mapping documented on
// logiface.Level (Warn->Warning, Error->Error, and so on).
func toLogifaceLevel(level LogLevel) logiface.Level {
	switch level {
	case LevelDebug:
		return logiface.LevelDebug
	case LevelInfo:
		return logiface.LevelInformational
	case LevelWarn:
		return logiface.LevelWarning
	case LevelError:
		return logiface.LevelError
	default:
		return logiface.LevelDisabled
	}
}

// TestPool_WithLogiface exercises a Pool whose Logger is backed by
// logiface rather than the built-in DefaultLogger, confirming the worker's
// abandoned-mutex warning (delivered to the caller as an error, but also
// logged as a warning) reaches an arbitrary structured logging
// backend through this package's [Logger] seam.
func TestPool_WithLogiface(t *testing.T) {
	writer := &logifaceEventWriter{}
	typedLogger := logiface.New[*logifaceEvent](
		logiface.WithLevel[*logifaceEvent](logiface.LevelDebug),
		logiface.WithEventFactory[*logifaceEvent](logifaceEventFactory{}),
		logiface.WithWriter[*logifaceEvent](writer),
	)

	p, api := newTestPool(t, WithLogger(newLogifaceLogger(typedLogger.Logger())))

	h := api.NewHandle(false)
	done := make(chan struct{})
	_, err := p.RegisterWait(h, func() { close(done) })
	require.NoError(t, err)

	api.Abandon(h)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired for abandoned mutex")
	}

	var sawWarning bool
	for _, ev := range writer.snapshot() {
		if ev.level == logiface.LevelWarning {
			if msg, _ := ev.fields["handle"]; msg != nil {
				sawWarning = true
			}
		}
	}
	assert.True(t, sawWarning, "expected the abandoned-mutex warning to be routed through logiface")
}
