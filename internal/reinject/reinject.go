// Package reinject implements the Reinjector: submitting an accepted
// message back to the downstream MTA over SMTP once the pipeline and
// DispositionEngine have finished with it (spec.md §4.5).
package reinject

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"regexp"
	"time"

	"github.com/sony/gobreaker"
)

// Config configures the downstream SMTP relay a Reinjector submits to.
type Config struct {
	Host           string
	Port           int
	HELOName       string
	DialTimeout    time.Duration
	CommandTimeout time.Duration

	// BreakerMaxFailures is the consecutive-failure count that trips the
	// circuit breaker open, per spec.md §4.5's retry/backoff note.
	BreakerMaxFailures uint32
	BreakerOpenFor     time.Duration
}

func (c Config) withDefaults() Config {
	if c.HELOName == "" {
		c.HELOName = "localhost"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.CommandTimeout == 0 {
		c.CommandTimeout = 30 * time.Second
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = 5
	}
	if c.BreakerOpenFor == 0 {
		c.BreakerOpenFor = 30 * time.Second
	}
	return c
}

// queuedAsRe extracts the downstream queue-id from a "250 2.0.0 Ok:
// queued as 4B2F1..." style DATA response.
var queuedAsRe = regexp.MustCompile(`(?i)queued as ([A-Za-z0-9]+)`)

// Reinjector submits spooled messages to a single downstream SMTP relay,
// one connection per call, guarded by a circuit breaker so a relay
// outage fails fast instead of stalling every pipeline worker on dial
// timeouts.
type Reinjector struct {
	cfg     Config
	breaker *gobreaker.CircuitBreaker
}

// New builds a Reinjector targeting cfg.Host:cfg.Port.
func New(cfg Config) *Reinjector {
	cfg = cfg.withDefaults()
	settings := gobreaker.Settings{
		Name:        "reinject",
		MaxRequests: 1,
		Interval:    0,
		Timeout:     cfg.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	}
	return &Reinjector{cfg: cfg, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Send dials the relay, runs the SMTP conversation, and submits the
// file at mailPath as the message body on behalf of the given
// envelope. It returns the downstream queue-id reported in the DATA
// response, or an error for the caller to wrap as a
// *filter.ReinjectError.
func (r *Reinjector) Send(ctx context.Context, mailPath, from string, to []string) (string, error) {
	out, err := r.breaker.Execute(func() (interface{}, error) {
		return r.send(ctx, mailPath, from, to)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (r *Reinjector) send(ctx context.Context, mailPath, from string, to []string) (string, error) {
	f, err := os.Open(mailPath)
	if err != nil {
		return "", fmt.Errorf("reinject: open %s: %w", mailPath, err)
	}
	defer f.Close()

	body, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("reinject: read %s: %w", mailPath, err)
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.Host, r.cfg.Port)
	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return "", fmt.Errorf("reinject: dial %s: %w", addr, err)
	}
	defer conn.Close()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl)
	} else {
		conn.SetDeadline(time.Now().Add(r.cfg.CommandTimeout))
	}

	tc := textproto.NewConn(conn)
	defer tc.Close()

	if _, _, err := tc.ReadResponse(220); err != nil {
		return "", fmt.Errorf("reinject: greeting: %w", err)
	}

	if err := cmd(tc, 250, "EHLO %s", r.cfg.HELOName); err != nil {
		if err := cmd(tc, 250, "HELO %s", r.cfg.HELOName); err != nil {
			return "", fmt.Errorf("reinject: helo: %w", err)
		}
	}

	if err := cmd(tc, 250, "MAIL FROM:<%s>", from); err != nil {
		return "", fmt.Errorf("reinject: mail from: %w", err)
	}

	for _, rcpt := range to {
		if err := cmd(tc, 250, "RCPT TO:<%s>", rcpt); err != nil {
			return "", fmt.Errorf("reinject: rcpt to %s: %w", rcpt, err)
		}
	}

	id := tc.Next()
	tc.StartRequest(id)
	if err := tc.PrintfLine("DATA"); err != nil {
		tc.EndRequest(id)
		return "", fmt.Errorf("reinject: data: %w", err)
	}
	tc.EndRequest(id)
	tc.StartResponse(id)
	if _, _, err := tc.ReadResponse(354); err != nil {
		tc.EndResponse(id)
		return "", fmt.Errorf("reinject: data: %w", err)
	}
	tc.EndResponse(id)

	dw := tc.DotWriter()
	if _, err := dw.Write(body); err != nil {
		dw.Close()
		return "", fmt.Errorf("reinject: write body: %w", err)
	}
	if err := dw.Close(); err != nil {
		return "", fmt.Errorf("reinject: close body: %w", err)
	}

	_, msg, err := tc.ReadResponse(250)
	if err != nil {
		return "", fmt.Errorf("reinject: data response: %w", err)
	}

	nextID := ""
	if m := queuedAsRe.FindStringSubmatch(msg); m != nil {
		nextID = m[1]
	}

	_ = cmd(tc, 221, "QUIT")

	return nextID, nil
}

func cmd(tc *textproto.Conn, expectCode int, format string, args ...interface{}) error {
	id, err := tc.Cmd(format, args...)
	if err != nil {
		return err
	}
	tc.StartResponse(id)
	defer tc.EndResponse(id)
	_, _, err = tc.ReadResponse(expectCode)
	return err
}

