package pipeline

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/session"
)

type fakeModule struct {
	name     string
	delta    int64
	err      error
	disabled bool
	maxSize  int64
	timeout  int
	sleep    time.Duration
	calls    int
}

func (m *fakeModule) Name() string { return m.name }

func (m *fakeModule) Handle(ctx context.Context, s *session.MessageSession) error {
	m.calls++
	if m.sleep > 0 {
		select {
		case <-time.After(m.sleep):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.delta != 0 {
		s.AddScore(m.delta, m.name)
	}
	return m.err
}

func (m *fakeModule) Disabled() bool { return m.disabled }
func (m *fakeModule) MaxSize() int64 { return m.maxSize }
func (m *fakeModule) Timeout() int   { return m.timeout }

func newSession() *session.MessageSession {
	return session.New("msg-1", "/tmp/mail-1", 100, "a@b.com", []string{"c@d.com"})
}

func TestEngine_Run_AllModulesRun_WhenOK(t *testing.T) {
	m1 := &fakeModule{name: "m1"}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusOK, result.Status)
	assert.Equal(t, 1, m1.calls)
	assert.Equal(t, 1, m2.calls)
}

func TestEngine_Run_SkipsDisabledModules(t *testing.T) {
	m1 := &fakeModule{name: "m1", disabled: true}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	e.Run(context.Background(), newSession())
	assert.Equal(t, 0, m1.calls)
	assert.Equal(t, 1, m2.calls)
}

func TestEngine_Run_SkipsOversizedFileBeforeHandle(t *testing.T) {
	m1 := &fakeModule{name: "m1", maxSize: 10}
	e := New([]filter.Module{m1}, false, slog.Default())

	s := session.New("msg-1", "/tmp/mail-1", 1000, "a@b.com", []string{"c@d.com"})
	e.Run(context.Background(), s)
	assert.Equal(t, 0, m1.calls)
}

func TestEngine_Run_SpamError_StopsChain(t *testing.T) {
	m1 := &fakeModule{name: "m1", err: &filter.SpamError{Reason: "known-bad-sender"}}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusSpam, result.Status)
	assert.Equal(t, 0, m2.calls)
}

func TestEngine_Run_VirusError_SetsSessionVirusAndStops(t *testing.T) {
	m1 := &fakeModule{name: "m1", err: &filter.VirusError{Label: "EICAR"}}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	s := newSession()
	result := e.Run(context.Background(), s)
	assert.Equal(t, filter.StatusVirus, result.Status)
	label, ok := s.Virus()
	require.True(t, ok)
	assert.Equal(t, "EICAR", label)
	assert.Equal(t, 0, m2.calls)
}

func TestEngine_Run_DropError_StopsChain(t *testing.T) {
	m1 := &fakeModule{name: "m1", err: &filter.DropError{Reason: "duplicate"}}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusDrop, result.Status)
	assert.Equal(t, 0, m2.calls)
}

func TestEngine_Run_TimeoutError_ContinuesChain(t *testing.T) {
	m1 := &fakeModule{name: "m1", timeout: 1, sleep: 2 * time.Second}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusOK, result.Status)
	assert.Equal(t, 1, m2.calls)
}

func TestEngine_Run_UnknownError_LoggedAndContinues(t *testing.T) {
	m1 := &fakeModule{name: "m1", err: assertError("boom")}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, false, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusOK, result.Status)
	assert.Equal(t, 1, m2.calls)
}

func TestEngine_Run_StrictMode_BreaksOnNegativeScore(t *testing.T) {
	m1 := &fakeModule{name: "m1", delta: -5}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, true, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusSpam, result.Status)
	assert.Equal(t, 0, m2.calls)
}

func TestEngine_Run_StrictMode_DoesNotBreakOnNonNegativeScore(t *testing.T) {
	m1 := &fakeModule{name: "m1", delta: 5}
	m2 := &fakeModule{name: "m2"}
	e := New([]filter.Module{m1, m2}, true, slog.Default())

	result := e.Run(context.Background(), newSession())
	assert.Equal(t, filter.StatusOK, result.Status)
	assert.Equal(t, 1, m2.calls)
}

type assertError string

func (e assertError) Error() string { return string(e) }
