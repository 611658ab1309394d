package filter

import (
	"context"
	"fmt"
	"os"

	"github.com/busybox42/decency/internal/antispam"
	"github.com/busybox42/decency/internal/session"
)

// RspamdConfig configures a Rspamd-backed SpamContributor module.
type RspamdConfig struct {
	Name           string
	Address        string
	TimeoutSeconds int
	MaxSizeBytes   int64
	Disable        bool
	WeightSpam     float64
	WeightInnocent float64
}

// RspamdModule adapts internal/antispam.Rspamd to the FilterModule
// contract. Handle turns the scanner's ScanResult into a weighted score
// delta, or into a SpamError when the score reaches 100 (a GTUBE
// match); a result with no matched rules leaves the session unchanged.
type RspamdModule struct {
	cfg     RspamdConfig
	scanner *antispam.Rspamd
}

// NewRspamdModule wraps an already-configured Rspamd scanner.
func NewRspamdModule(cfg RspamdConfig, scanner *antispam.Rspamd) *RspamdModule {
	return &RspamdModule{cfg: cfg, scanner: scanner}
}

func (m *RspamdModule) Name() string       { return m.cfg.Name }
func (m *RspamdModule) MaxSize() int64     { return m.cfg.MaxSizeBytes }
func (m *RspamdModule) Timeout() int       { return m.cfg.TimeoutSeconds }
func (m *RspamdModule) Disabled() bool     { return m.cfg.Disable }
func (m *RspamdModule) WeightSpam() float64     { return m.cfg.WeightSpam }
func (m *RspamdModule) WeightInnocent() float64 { return m.cfg.WeightInnocent }

func (m *RspamdModule) Handle(ctx context.Context, msg *session.MessageSession) error {
	data, err := os.ReadFile(msg.File())
	if err != nil {
		return fmt.Errorf("%s: read spool: %w", m.cfg.Name, err)
	}

	result, err := m.scanner.ScanBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("%s: scan: %w", m.cfg.Name, err)
	}

	if len(result.Rules) == 0 {
		return nil
	}

	weight := m.cfg.WeightInnocent
	if !result.Clean {
		weight = m.cfg.WeightSpam
	}
	delta := int64(result.Score * weight)
	if result.Score >= 100 {
		// GTUBE-grade score: classify outright rather than just scoring.
		return &SpamError{Reason: fmt.Sprintf("%s: %v", m.cfg.Name, result.Rules)}
	}

	detail := fmt.Sprintf("%s: score=%.1f rules=%v", m.cfg.Name, result.Score, result.Rules)
	msg.AddScore(delta, detail)
	return nil
}
