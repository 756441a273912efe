// Package xlog is a thin wrapper around log/slog, tagging every record
// with the subsystem that produced it. The teacher logs sparingly and
// only at state-transition points (audio_chip.go's invalid-register
// log.Printf is the one place it reaches for logging at all); this
// package keeps that same sparseness but gives each of the core
// subsystems (decoder, frontend, tcc, objcache) a named logger instead
// of an unqualified log.Printf, since their failures are recovered
// locally and otherwise leave no trace.
package xlog

import (
	"log/slog"
	"os"
)

// Subsystem identifies which component a logger speaks for.
type Subsystem string

const (
	Decoder  Subsystem = "decoder"
	Frontend Subsystem = "frontend"
	TCC      Subsystem = "tcc"
	ObjCache Subsystem = "objcache"
)

var base = slog.New(slog.NewTextHandler(os.Stderr, nil))

// SetOutput replaces the process-wide base logger's handler, letting
// cmd/xlatectl point logs at a different writer or level.
func SetOutput(h slog.Handler) { base = slog.New(h) }

// For returns a logger tagged with the given subsystem's name.
func For(s Subsystem) *slog.Logger { return base.With("subsystem", string(s)) }
