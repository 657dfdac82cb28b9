package strata

import (
	"context"
	"log/slog"
)

// nopLogger discards all output. Used wherever no logger is configured so
// callers never nil-check.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// NopLogger returns a logger that drops every record.
func NopLogger() *slog.Logger { return nopLogger }
