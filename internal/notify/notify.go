package notify

import (
	"context"
	"log/slog"
	"time"
)

type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert is a user-facing notification.
type Alert struct {
	Timestamp time.Time
	Category  Category
	Severity  Severity
	Title     string
	Body      string
}

// Notifier delivers alerts to the desktop, a dashboard or a log.
type Notifier interface {
	Notify(Alert)
}

type NotifierFunc func(Alert)

func (f NotifierFunc) Notify(a Alert) { f(a) }

// Multi fans an alert out to every non-nil notifier.
func Multi(notifiers ...Notifier) Notifier {
	var out multi
	for _, n := range notifiers {
		if n != nil {
			out = append(out, n)
		}
	}
	return out
}

type multi []Notifier

func (m multi) Notify(a Alert) {
	for _, n := range m {
		n.Notify(a)
	}
}

// LogNotifier writes alerts to a structured logger.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(a Alert) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch a.Severity {
	case SeverityWarning:
		level = slog.LevelWarn
	case SeverityCritical:
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, a.Title, "category", a.Category, "body", a.Body)
}
