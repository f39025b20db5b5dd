// Package notify delivers operator alerts: new oversight requests and
// ledger writes that could not be persisted.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

type Level int

const (
	LevelInfo Level = iota
	LevelWarning
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is one operator-facing alert.
type Notification struct {
	Title   string
	Message string
	Level   Level
	Ref     string // bid, task or oversight id, when there is one
}

type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Multi fans a notification out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, nt := range m {
		if err := nt.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes notifications to a structured logger. It is always part of
// the chain so alerts survive a Slack outage.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Send(ctx context.Context, n Notification) error {
	lvl := slog.LevelInfo
	switch n.Level {
	case LevelWarning:
		lvl = slog.LevelWarn
	case LevelError:
		lvl = slog.LevelError
	}
	l.Logger.Log(ctx, lvl, n.Title, "alert", true, "ref", n.Ref, "detail", n.Message)
	return nil
}

type Noop struct{}

func (Noop) Send(context.Context, Notification) error { return nil }
