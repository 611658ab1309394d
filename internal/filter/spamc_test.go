package filter

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/decency/internal/session"
)

// fakeSpamd accepts one connection and replies with a scripted spamd
// response for whatever verb it receives.
func fakeSpamd(t *testing.T, response string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		for {
			_, err := r.ReadString('\n')
			if err != nil {
				break
			}
		}
		fmt.Fprint(conn, response)
	}()

	return ln.Addr().String()
}

func spamcTestSession(t *testing.T, body string) *session.MessageSession {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mail-")
	require.NoError(t, err)
	_, err = f.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return session.New("msg-1", f.Name(), int64(len(body)), "a@b.com", []string{"rcpt@example.com"})
}

func TestSpamc_Handle_ParsesHamVerdict(t *testing.T) {
	addr := fakeSpamd(t, "SPAMD/1.5 0 EX_OK\r\nSpam: False ; 2.1 / 5.0\r\n\r\n")
	s := spamcTestSession(t, "Subject: hi\r\n\r\nbody")

	m := NewSpamc(SpamcConfig{Name: "spamc", Network: "tcp", Addr: addr, WeightInnocent: 1, WeightSpam: 1, TimeoutSeconds: 2})
	require.NoError(t, m.Handle(context.Background(), s))
	assert.Equal(t, int64(2), s.SpamScore())
}

func TestSpamc_Handle_ParsesSpamVerdict_AlwaysNegative(t *testing.T) {
	addr := fakeSpamd(t, "SPAMD/1.5 0 EX_OK\r\nSpam: True ; 15.0 / 5.0\r\n\r\n")
	s := spamcTestSession(t, "Subject: hi\r\n\r\nbody")

	m := NewSpamc(SpamcConfig{Name: "spamc", Network: "tcp", Addr: addr, WeightInnocent: 1, WeightSpam: 1, TimeoutSeconds: 2})
	require.NoError(t, m.Handle(context.Background(), s))
	assert.True(t, s.SpamScore() < 0, "expected negative score, got %d", s.SpamScore())
}

func TestParseSpamc_ExtractsDetails(t *testing.T) {
	lines := []string{
		"SPAMD/1.5 0 EX_OK",
		"Spam: True ; 15.0 / 5.0",
		"suspicious header",
	}
	r := parseSpamc(lines)
	assert.True(t, r.Spam)
	assert.Equal(t, 15.0, r.Score)
	assert.Equal(t, 5.0, r.Threshold)
	assert.Contains(t, r.Details, "suspicious header")
}

func TestSpamc_Handle_DialFailure_ReturnsError(t *testing.T) {
	s := spamcTestSession(t, "body")
	m := NewSpamc(SpamcConfig{Name: "spamc", Network: "tcp", Addr: "127.0.0.1:1", TimeoutSeconds: 1})

	deadlineCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()
	err := m.Handle(deadlineCtx, s)
	assert.Error(t, err)
}
