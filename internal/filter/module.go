// Package filter defines the FilterModule contract and its capability
// interfaces. A module's trait composition (Cmd + Spam + WeightTranslate,
// etc. in the original) is expressed here as separate small interfaces
// that the pipeline engine queries with type assertions, the way the
// teacher's hook registry dispatches ConnectionHook/SMTPCommandHook/
// ContentFilterHook independently rather than forcing one monolithic
// interface on every plugin.
package filter

import (
	"context"

	"github.com/busybox42/decency/internal/session"
)

// Module is the minimum contract every filter module satisfies:
// a name and a Handle that inspects/mutates the session. Everything
// else (timeouts, size guards, training, hooks) is opt-in through the
// capability interfaces below.
type Module interface {
	Name() string
	Handle(ctx context.Context, s *session.MessageSession) error
}

// SizeGuarded modules declare a maximum file size above which the
// pipeline skips Handle entirely (spec.md §4.2 step 1a). A MaxSize of
// 0 means no limit.
type SizeGuarded interface {
	MaxSize() int64
}

// Timed modules declare a per-call timeout. The pipeline arms a
// deadline of Timeout()+1s (spec.md §4.2 step 1b). A Timeout of 0
// means no limit.
type Timed interface {
	Timeout() int
}

// Disableable modules can be turned off without removing them from the
// configured chain (useful for config-driven enable/disable without
// reordering).
type Disableable interface {
	Disabled() bool
}

// Trainable modules accept an offline training driver feeding them
// labeled corpora (spec.md §4.7).
type Trainable interface {
	TrainDisabled() bool
	LearnSpam(ctx context.Context, s *session.MessageSession) error
	UnlearnSpam(ctx context.Context, s *session.MessageSession) error
	LearnHam(ctx context.Context, s *session.MessageSession) error
	UnlearnHam(ctx context.Context, s *session.MessageSession) error
}

// SpamContributor modules assign weights used to translate a raw
// external score into the session's signed accumulator.
type SpamContributor interface {
	WeightSpam() float64
	WeightInnocent() float64
}

// PreFinishHook and PostFinishHook let a module observe (and, for
// pre-finish, influence) the terminal status after the chain has run,
// before and after DispositionEngine runs (spec.md §4.2 steps 2 and 4).
type PreFinishHook interface {
	HookPreFinish(ctx context.Context, s *session.MessageSession, status Status) Status
}

type PostFinishHook interface {
	HookPostFinish(ctx context.Context, s *session.MessageSession, status Status, code DispositionCode)
}

// Status is the terminal classification a pipeline run ends in.
type Status string

const (
	StatusOK    Status = "ok"
	StatusSpam  Status = "spam"
	StatusVirus Status = "virus"
	StatusDrop  Status = "drop"
)

// DispositionCode is the final outcome reported back to the MTA,
// per the GLOSSARY's Disposition definition.
type DispositionCode string

const (
	DispositionOK      DispositionCode = "OK"
	DispositionDeleted DispositionCode = "DELETED"
	DispositionBounce  DispositionCode = "BOUNCE"
	DispositionError   DispositionCode = "ERROR"
)
