package reinject

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSMTPServer accepts one connection, plays a scripted response for
// every line it reads, and reports the queue-id it claims in its DATA
// response.
func fakeSMTPServer(t *testing.T, queueID string) string {
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

		w := bufio.NewWriter(conn)
		r := bufio.NewReader(conn)

		fmt.Fprintf(w, "220 fake.mta ESMTP\r\n")
		w.Flush()

		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			switch {
			case len(line) >= 4 && line[:4] == "DATA":
				fmt.Fprintf(w, "354 End data with <CR><LF>.<CR><LF>\r\n")
				w.Flush()
				for {
					bodyLine, err := r.ReadString('\n')
					if err != nil || bodyLine == ".\r\n" {
						break
					}
				}
				fmt.Fprintf(w, "250 2.0.0 Ok: queued as %s\r\n", queueID)
				w.Flush()
			case len(line) >= 4 && line[:4] == "QUIT":
				fmt.Fprintf(w, "221 bye\r\n")
				w.Flush()
				return
			default:
				fmt.Fprintf(w, "250 OK\r\n")
				w.Flush()
			}
		}
	}()

	return ln.Addr().String()
}

func mustSpoolFile(t *testing.T, body string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mail-")
	require.NoError(t, err)
	_, err = f.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return f.Name()
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	var port int
	_, err = fmt.Sscanf(portStr, "%d", &port)
	require.NoError(t, err)
	return host, port
}

func TestReinjector_Send_ParsesQueuedAs(t *testing.T) {
	addr := fakeSMTPServer(t, "4B2F1ABCDEF")
	host, port := splitHostPort(t, addr)

	r := New(Config{Host: host, Port: port, DialTimeout: 2 * time.Second, CommandTimeout: 2 * time.Second})
	mailPath := mustSpoolFile(t, "Subject: hi\r\n\r\nbody\r\n")

	nextID, err := r.Send(context.Background(), mailPath, "sender@example.com", []string{"rcpt@example.com"})
	require.NoError(t, err)
	assert.Equal(t, "4B2F1ABCDEF", nextID)
}

func TestReinjector_Send_DialFailure_ReturnsError(t *testing.T) {
	r := New(Config{Host: "127.0.0.1", Port: 1, DialTimeout: 200 * time.Millisecond, CommandTimeout: 200 * time.Millisecond})
	mailPath := mustSpoolFile(t, "body")

	_, err := r.Send(context.Background(), mailPath, "a@b.com", []string{"c@d.com"})
	assert.Error(t, err)
}

func TestReinjector_Breaker_TripsAfterConsecutiveFailures(t *testing.T) {
	r := New(Config{
		Host:               "127.0.0.1",
		Port:               1,
		DialTimeout:        50 * time.Millisecond,
		CommandTimeout:     50 * time.Millisecond,
		BreakerMaxFailures: 2,
	})
	mailPath := mustSpoolFile(t, "body")

	for i := 0; i < 2; i++ {
		_, err := r.Send(context.Background(), mailPath, "a@b.com", []string{"c@d.com"})
		assert.Error(t, err)
	}

	_, err := r.Send(context.Background(), mailPath, "a@b.com", []string{"c@d.com"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
