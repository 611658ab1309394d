package filter

import (
	"context"
	"fmt"
	"os"

	"github.com/busybox42/decency/internal/antivirus"
	"github.com/busybox42/decency/internal/session"
)

// ClamAVConfig configures a ClamAV-backed VirusContributor module.
type ClamAVConfig struct {
	Name           string
	TimeoutSeconds int
	MaxSizeBytes   int64
	Disable        bool
}

// ClamAVModule adapts internal/antivirus.ClamAV to the FilterModule
// contract. It never scores: any detection is a terminal VirusError
// per spec.md §3's "if virus is non-null, further modules must not
// run".
type ClamAVModule struct {
	cfg     ClamAVConfig
	scanner *antivirus.ClamAV
}

// NewClamAVModule wraps an already-configured ClamAV scanner.
func NewClamAVModule(cfg ClamAVConfig, scanner *antivirus.ClamAV) *ClamAVModule {
	return &ClamAVModule{cfg: cfg, scanner: scanner}
}

func (m *ClamAVModule) Name() string   { return m.cfg.Name }
func (m *ClamAVModule) MaxSize() int64 { return m.cfg.MaxSizeBytes }
func (m *ClamAVModule) Timeout() int   { return m.cfg.TimeoutSeconds }
func (m *ClamAVModule) Disabled() bool { return m.cfg.Disable }

func (m *ClamAVModule) Handle(ctx context.Context, msg *session.MessageSession) error {
	data, err := os.ReadFile(msg.File())
	if err != nil {
		return fmt.Errorf("%s: read spool: %w", m.cfg.Name, err)
	}

	result, err := m.scanner.ScanBytes(ctx, data)
	if err != nil {
		return fmt.Errorf("%s: scan: %w", m.cfg.Name, err)
	}

	if !result.Clean && len(result.Infections) > 0 {
		return &VirusError{Label: result.Infections[0]}
	}
	return nil
}
