package disposition

import (
	"context"
	"fmt"
	"strings"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/session"
	"github.com/busybox42/decency/internal/spool"
)

// Reinjector is the subset of internal/reinject.Reinjector the
// DispositionEngine depends on, declared here to avoid an import
// cycle.
type Reinjector interface {
	Send(ctx context.Context, mailPath, from string, to []string) (nextID string, err error)
}

// Notifier builds a synthesized MIME bounce/spam notification message,
// per spec.md §7's "a synthesized MIME message is generated and
// submitted via the Reinjector". Declared as an interface so the
// text/template-backed implementation can be swapped or stubbed in
// tests.
type Notifier interface {
	Build(ctx context.Context, s *session.MessageSession, reason string) (path string, err error)
}

// Engine is the DispositionEngine: Resolve maps (status, policy) to a
// final code and carries out the corresponding side effect (re-inject,
// bounce, delete, quarantine, tag).
type Engine struct {
	policy     Policy
	spool      *spool.Spool
	reinjector Reinjector
	notifier   Notifier
}

// New builds a DispositionEngine bound to a fixed policy and its
// collaborators.
func New(policy Policy, sp *spool.Spool, reinjector Reinjector, notifier Notifier) *Engine {
	return &Engine{policy: policy, spool: sp, reinjector: reinjector, notifier: notifier}
}

// Resolve implements spec.md §4.4. status is the pipeline's terminal
// classification (possibly refined by Policy.Classify when it was
// still OK and spam.behavior says otherwise).
func (e *Engine) Resolve(ctx context.Context, s *session.MessageSession, status filter.Status) (filter.DispositionCode, error) {
	switch status {
	case filter.StatusDrop:
		// Drop path: do nothing further; return OK-to-MTA.
		return filter.DispositionOK, nil

	case filter.StatusSpam:
		return e.resolveSpam(ctx, s)

	case filter.StatusVirus:
		return e.resolveVirus(ctx, s)

	default:
		return e.resolveOK(ctx, s)
	}
}

func (e *Engine) resolveOK(ctx context.Context, s *session.MessageSession) (filter.DispositionCode, error) {
	if e.policy.NoisyHeaders {
		stampResult(s, "GOOD")
		s.MIME().Set("X-Decency-Details", strings.Join(s.SpamDetails(), "|"))
	}
	return e.reinject(ctx, s)
}

func (e *Engine) resolveSpam(ctx context.Context, s *session.MessageSession) (filter.DispositionCode, error) {
	switch e.policy.SpamHandle {
	case SpamHandleDelete:
		if e.policy.NotifyRecipient && e.notifier != nil {
			e.sendNotification(ctx, s, "spam")
		}
		return filter.DispositionDeleted, nil

	case SpamHandleBounce:
		return filter.DispositionBounce, nil

	case SpamHandleIgnore:
		return e.reinject(ctx, s)

	case SpamHandleTag:
		stampResult(s, "SPAM")
		if e.policy.NoisyHeaders {
			s.MIME().Set("X-Decency-SpamInfo", strings.Join(s.SpamDetails(), "|"))
		}
		if e.policy.SpamSubjectPrefix != "" {
			s.MIME().PrefixSubject(e.policy.SpamSubjectPrefix)
		}
		return e.reinject(ctx, s)

	default:
		return e.reinject(ctx, s)
	}
}

func (e *Engine) resolveVirus(ctx context.Context, s *session.MessageSession) (filter.DispositionCode, error) {
	switch e.policy.VirusHandle {
	case VirusHandleBounce:
		return filter.DispositionBounce, nil

	case VirusHandleDelete:
		return filter.DispositionDeleted, nil

	case VirusHandleQuarantine:
		to := ""
		if recips := s.To(); len(recips) > 0 {
			to = recips[0]
		}
		if _, err := e.spool.CopyToQuarantine(s.File(), s.From(), to); err != nil {
			return filter.DispositionError, fmt.Errorf("disposition: quarantine: %w", err)
		}
		return filter.DispositionDeleted, nil

	case VirusHandleIgnore:
		return e.reinject(ctx, s)

	default:
		return e.reinject(ctx, s)
	}
}

func (e *Engine) reinject(ctx context.Context, s *session.MessageSession) (filter.DispositionCode, error) {
	nextID, err := e.reinjector.Send(ctx, s.File(), s.From(), s.To())
	if err != nil {
		if _, copyErr := e.spool.CopyToFailure(s.File()); copyErr != nil {
			return filter.DispositionError, fmt.Errorf("disposition: reinject failed (%v), and failed to copy to failure dir: %w", err, copyErr)
		}
		return filter.DispositionError, &filter.ReinjectError{Stage: "send", Err: err}
	}
	s.SetNextID(nextID)
	return filter.DispositionOK, nil
}

func (e *Engine) sendNotification(ctx context.Context, s *session.MessageSession, reason string) {
	if e.notifier == nil {
		return
	}
	path, err := e.notifier.Build(ctx, s, reason)
	if err != nil {
		return
	}
	_, _ = e.reinjector.Send(ctx, path, e.policy.NotificationFrom, s.To())
}

func stampResult(s *session.MessageSession, result string) {
	s.MIME().Set("X-Decency-Result", result)
	s.MIME().Set("X-Decency-Score", fmt.Sprintf("%d", s.SpamScore()))
}
