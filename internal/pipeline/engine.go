// Package pipeline implements the Content Filter's PipelineEngine:
// ordered execution of FilterModules with per-module timeout/size
// guards, exception taxonomy dispatch, and statistics accounting
// (spec.md §4.2).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/session"
)

// Engine runs a fixed, ordered chain of filter.Module against each
// session. It is safe for concurrent use by multiple SMTPFrontend
// workers: each call to Run only touches the session passed to it.
type Engine struct {
	modules     []filter.Module
	strictSpam  bool
	logger      *slog.Logger
}

// New builds an Engine over modules in declaration order. Order is
// significant: spec.md §5 guarantees modules run in configured order
// and observe all prior score/header mutations within one message.
// strictSpam mirrors disposition.SpamBehaviorStrict: when true, the
// chain breaks as soon as any module's normal return leaves the
// accumulated score negative (spec.md §8 testable property 3 and
// end-to-end scenario 3), rather than waiting for the full chain to
// finish and classifying only at disposition time the way "scoring"
// behavior does.
func New(modules []filter.Module, strictSpam bool, logger *slog.Logger) *Engine {
	return &Engine{modules: modules, strictSpam: strictSpam, logger: logger.With("component", "pipeline")}
}

// Result is PipelineEngine.Run's return value: the terminal
// classification plus the per-module stats collected along the way.
type Result struct {
	Status filter.Status
	Stats  RunStats
}

// Run executes every configured module against s in order, per the
// algorithm in spec.md §4.2. It has no error return: module failures
// are caught, logged, recorded in the stats, and the chain continues.
func (e *Engine) Run(ctx context.Context, s *session.MessageSession) Result {
	status := filter.StatusOK
	var stats RunStats

	for _, m := range e.modules {
		if d, ok := m.(filter.Disableable); ok && d.Disabled() {
			continue
		}

		// A terminal virus classification stops the chain outright
		// (spec.md §3: "if virus is non-null... further modules must
		// not be run").
		if _, done := s.Virus(); done {
			break
		}

		if sg, ok := m.(filter.SizeGuarded); ok && sg.MaxSize() > 0 && s.FileSize() > sg.MaxSize() {
			stats.record(ModuleStat{Module: m.Name(), Status: "FILETOOBIG"})
			e.logger.Debug("module skipped: file too big",
				"module", m.Name(), "file_size", s.FileSize(), "max_size", sg.MaxSize())
			continue
		}

		scoreBefore := s.SpamScore()
		start := time.Now()

		moduleStatus, err := e.invoke(ctx, m, s)

		elapsed := time.Since(start)
		delta := s.SpamScore() - scoreBefore

		if err == nil {
			stats.record(ModuleStat{Module: m.Name(), Status: "OK", ScoreDelta: delta, Elapsed: elapsed})
			if e.strictSpam && s.SpamScore() < 0 {
				s.AppendDetail(fmt.Sprintf("%s: strict mode score %d", m.Name(), s.SpamScore()))
				status = filter.StatusSpam
				break
			}
			continue
		}

		var spamErr *filter.SpamError
		var virusErr *filter.VirusError
		var dropErr *filter.DropError
		var timeoutErr *filter.TimeoutError
		var sizeErr *filter.FileTooBigError

		switch {
		case errors.As(err, &spamErr):
			s.AppendDetail(fmt.Sprintf("%s: %s", m.Name(), spamErr.Reason))
			status = filter.StatusSpam
			stats.record(ModuleStat{Module: m.Name(), Status: "SPAM", ScoreDelta: delta, Elapsed: elapsed})
			e.logger.Info("module classified spam", "module", m.Name(), "reason", spamErr.Reason)
			// fall through to break below

		case errors.As(err, &virusErr):
			s.AppendDetail(fmt.Sprintf("%s: %s", m.Name(), virusErr.Label))
			s.SetVirus(virusErr.Label)
			status = filter.StatusVirus
			stats.record(ModuleStat{Module: m.Name(), Status: "VIRUS", ScoreDelta: delta, Elapsed: elapsed})
			e.logger.Info("module classified virus", "module", m.Name(), "label", virusErr.Label)

		case errors.As(err, &dropErr):
			status = filter.StatusDrop
			stats.record(ModuleStat{Module: m.Name(), Status: "DROP", ScoreDelta: delta, Elapsed: elapsed})
			e.logger.Info("module dropped message", "module", m.Name(), "reason", dropErr.Reason)

		case errors.As(err, &timeoutErr):
			stats.record(ModuleStat{Module: m.Name(), Status: "TIMEOUT", ScoreDelta: 0, Elapsed: elapsed})
			e.logger.Error("module timed out", "module", m.Name(), "limit", timeoutErr.Limit)
			continue

		case errors.As(err, &sizeErr):
			stats.record(ModuleStat{Module: m.Name(), Status: "FILETOOBIG", Elapsed: elapsed})
			e.logger.Debug("module reported file too big", "module", m.Name())
			continue

		default:
			stats.record(ModuleStat{Module: m.Name(), Status: "ERROR", ScoreDelta: delta, Elapsed: elapsed})
			e.logger.Error("module error", "module", m.Name(), "error", err)
			continue
		}

		// Spam/Virus/Drop break the chain (moduleStatus unused beyond
		// documenting intent; status already set above).
		_ = moduleStatus
		break
	}

	return Result{Status: status, Stats: stats}
}

// invoke arms the module's declared timeout (module.timeout+1s, per
// spec.md §4.2 step 1b) as a context deadline and recovers from
// panics, translating a panic into a generic error rather than
// crashing the worker.
func (e *Engine) invoke(ctx context.Context, m filter.Module, s *session.MessageSession) (filter.Status, error) {
	callCtx := ctx
	var cancel context.CancelFunc
	if t, ok := m.(filter.Timed); ok && t.Timeout() > 0 {
		callCtx, cancel = context.WithTimeout(ctx, time.Duration(t.Timeout()+1)*time.Second)
		defer cancel()
	}

	type outcome struct {
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				e.logger.Error("module panic recovered",
					"module", m.Name(), "panic", r, "stack", string(buf[:n]))
				o.err = fmt.Errorf("%s: panic: %v", m.Name(), r)
			}
			done <- o
		}()
		o.err = m.Handle(callCtx, s)
	}()

	select {
	case o := <-done:
		return filter.StatusOK, o.err
	case <-callCtx.Done():
		limit := 0
		if t, ok := m.(filter.Timed); ok {
			limit = t.Timeout()
		}
		return filter.StatusOK, &filter.TimeoutError{Module: m.Name(), Limit: limit}
	}
}

// RunPreFinishHooks calls every module's optional HookPreFinish,
// letting it observe and possibly override the terminal status
// (spec.md §4.2 step 2).
func (e *Engine) RunPreFinishHooks(ctx context.Context, s *session.MessageSession, status filter.Status) filter.Status {
	for _, m := range e.modules {
		if h, ok := m.(filter.PreFinishHook); ok {
			status = h.HookPreFinish(ctx, s, status)
		}
	}
	return status
}

// RunPostFinishHooks calls every module's optional HookPostFinish after
// DispositionEngine has produced a final code (spec.md §4.2 step 4).
func (e *Engine) RunPostFinishHooks(ctx context.Context, s *session.MessageSession, status filter.Status, code filter.DispositionCode) {
	for _, m := range e.modules {
		if h, ok := m.(filter.PostFinishHook); ok {
			h.HookPostFinish(ctx, s, status, code)
		}
	}
}
