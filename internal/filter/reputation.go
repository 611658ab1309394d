package filter

import (
	"context"
	"fmt"
	"strings"

	"github.com/busybox42/decency/internal/session"
	"github.com/busybox42/decency/internal/statstore"
)

// SenderReputationConfig configures the SenderReputation module.
type SenderReputationConfig struct {
	Name           string
	Disable        bool
	MinSamples     int64   // below this many total samples, contribute nothing
	WeightSpam     float64 // multiplies the spam ratio into a negative delta
	WeightInnocent float64
}

// SenderReputation is a SpamContributor that looks up the envelope
// sender's (and its domain's) rolling spam/ham ratio in statstore.Store
// and contributes a proportional score delta.
type SenderReputation struct {
	cfg   SenderReputationConfig
	store *statstore.Store
}

// NewSenderReputation wraps an already-open statstore.Store.
func NewSenderReputation(cfg SenderReputationConfig, store *statstore.Store) *SenderReputation {
	return &SenderReputation{cfg: cfg, store: store}
}

func (r *SenderReputation) Name() string   { return r.cfg.Name }
func (r *SenderReputation) Disabled() bool { return r.cfg.Disable }
func (r *SenderReputation) WeightSpam() float64     { return r.cfg.WeightSpam }
func (r *SenderReputation) WeightInnocent() float64 { return r.cfg.WeightInnocent }

func (r *SenderReputation) Handle(ctx context.Context, s *session.MessageSession) error {
	from := s.From()
	if from == "" {
		return nil
	}

	rep, err := r.store.Lookup(ctx, from)
	if err != nil {
		return fmt.Errorf("%s: lookup %q: %w", r.cfg.Name, from, err)
	}

	domain := domainOf(from)
	if domain != "" {
		domainRep, err := r.store.Lookup(ctx, domain)
		if err == nil {
			rep.SpamCount += domainRep.SpamCount
			rep.HamCount += domainRep.HamCount
		}
	}

	if rep.SpamCount+rep.HamCount < r.cfg.MinSamples {
		return nil
	}

	ratio := rep.Ratio()
	weight := r.cfg.WeightInnocent
	if ratio > 0.5 {
		weight = r.cfg.WeightSpam
	}
	delta := int64(-ratio * 100 * weight)
	if delta == 0 {
		return nil
	}

	s.AddScore(delta, fmt.Sprintf("%s: ratio=%.2f samples=%d", r.cfg.Name, ratio, rep.SpamCount+rep.HamCount))
	return nil
}

// TrainDisabled always reports false. LearnSpam/LearnHam feed the
// training driver's labeled corpus back into the reputation store
// (spec.md §4.7); UnlearnSpam/UnlearnHam do nothing.
func (r *SenderReputation) TrainDisabled() bool { return false }

func (r *SenderReputation) LearnSpam(ctx context.Context, s *session.MessageSession) error {
	return r.store.RecordSpam(ctx, s.From())
}

func (r *SenderReputation) UnlearnSpam(ctx context.Context, s *session.MessageSession) error {
	return nil
}

func (r *SenderReputation) LearnHam(ctx context.Context, s *session.MessageSession) error {
	return r.store.RecordHam(ctx, s.From())
}

func (r *SenderReputation) UnlearnHam(ctx context.Context, s *session.MessageSession) error {
	return nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[i+1:]
	}
	return ""
}
