package filter

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/busybox42/decency/internal/session"
)

// SpamcProtoVersion is the spamd wire protocol version this client
// speaks, matching SpamAssassin's spamd/PROTOCOL.
const SpamcProtoVersion = "1.5"

var (
	spamMainRe = regexp.MustCompile(`^Spam: (.+) ; (.+) . (.+)$`)
)

// SpamcConfig configures a SpamAssassin spamd-backed module.
type SpamcConfig struct {
	Name           string
	Network        string // "tcp" or "unix"
	Addr           string
	TimeoutSeconds int
	MaxSizeBytes   int64
	Disable        bool
	DisableTrain   bool
	WeightSpam     float64
	WeightInnocent float64
	Resolver       UserResolver
}

// Spamc is a FilterModule that delegates scoring to spamd over its
// line-oriented PROCESS/REPORT protocol (`PROCESS SPAMC/1.5\r\n...`),
// rather than through an external command like CmdFilter.
type Spamc struct {
	cfg SpamcConfig
}

// NewSpamc constructs a Spamc module.
func NewSpamc(cfg SpamcConfig) *Spamc {
	if cfg.Resolver == nil {
		cfg.Resolver = staticResolver{}
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	return &Spamc{cfg: cfg}
}

func (s *Spamc) Name() string           { return s.cfg.Name }
func (s *Spamc) MaxSize() int64         { return s.cfg.MaxSizeBytes }
func (s *Spamc) Timeout() int           { return s.cfg.TimeoutSeconds }
func (s *Spamc) Disabled() bool         { return s.cfg.Disable }
func (s *Spamc) TrainDisabled() bool    { return s.cfg.DisableTrain }
func (s *Spamc) WeightSpam() float64    { return s.cfg.WeightSpam }
func (s *Spamc) WeightInnocent() float64 { return s.cfg.WeightInnocent }

type spamcResult struct {
	Spam      bool
	Score     float64
	Threshold float64
	Details   []string
}

func (s *Spamc) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{}
	return d.DialContext(ctx, s.cfg.Network, s.cfg.Addr)
}

func (s *Spamc) exchange(ctx context.Context, verb string, body []byte, user string) ([]string, error) {
	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds+1)*time.Second)
		defer cancel()
	}

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: dial: %w", s.cfg.Name, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	bw := bufio.NewWriter(conn)
	fmt.Fprintf(bw, "%s SPAMC/%s\r\n", verb, SpamcProtoVersion)
	if user != "" {
		fmt.Fprintf(bw, "User: %s\r\n", user)
	}
	fmt.Fprintf(bw, "Content-length: %d\r\n\r\n", len(body))
	bw.Write(body)
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("%s: write: %w", s.cfg.Name, err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}

	var lines []string
	br := bufio.NewReader(conn)
	for {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, &TimeoutError{Module: s.cfg.Name, Limit: s.cfg.TimeoutSeconds}
			}
			return nil, fmt.Errorf("%s: read: %w", s.cfg.Name, err)
		}
		lines = append(lines, strings.TrimRight(line, " \t\r\n"))
	}
	return lines, nil
}

func parseSpamc(lines []string) spamcResult {
	var r spamcResult
	for _, row := range lines {
		if m := spamMainRe.FindStringSubmatch(row); m != nil {
			r.Spam = strings.EqualFold(m[1], "true") || strings.EqualFold(m[1], "yes")
			r.Score, _ = strconv.ParseFloat(m[2], 64)
			r.Threshold, _ = strconv.ParseFloat(m[3], 64)
			continue
		}
		trimmed := strings.TrimSpace(row)
		if trimmed != "" && row != lines[0] {
			r.Details = append(r.Details, trimmed)
		}
	}
	return r
}

// Handle sends the spooled message to spamd with PROCESS and translates
// its score/threshold verdict into a signed delta on the session using
// the module's configured weights.
func (s *Spamc) Handle(ctx context.Context, msg *session.MessageSession) error {
	body, err := os.ReadFile(msg.File())
	if err != nil {
		return fmt.Errorf("%s: read spool: %w", s.cfg.Name, err)
	}

	recipient := ""
	if to := msg.To(); len(to) > 0 {
		recipient = to[0]
	}
	user, _ := s.cfg.Resolver.ResolveUser(ctx, recipient)

	lines, err := s.exchange(ctx, "PROCESS", body, user)
	if err != nil {
		return err
	}
	result := parseSpamc(lines)

	weight := s.cfg.WeightInnocent
	if result.Spam {
		weight = s.cfg.WeightSpam
	}
	delta := int64(result.Score * weight)
	if delta == 0 && !result.Spam {
		return nil
	}

	detail := fmt.Sprintf("%s: score=%.1f threshold=%.1f", s.cfg.Name, result.Score, result.Threshold)
	if result.Spam && delta >= 0 {
		delta = -1 // ensure a spam verdict always contributes a negative delta
	}
	msg.AddScore(delta, detail)
	return nil
}

// LearnSpam/UnlearnSpam/LearnHam/UnlearnHam issue spamd's TELL verb with
// the matching Message-class/Set header, per the spamd protocol's
// learning extension.
func (s *Spamc) LearnSpam(ctx context.Context, msg *session.MessageSession) error {
	return s.tell(ctx, msg, "spam", "local")
}

func (s *Spamc) UnlearnSpam(ctx context.Context, msg *session.MessageSession) error {
	return s.tell(ctx, msg, "spam", "local, remove")
}

func (s *Spamc) LearnHam(ctx context.Context, msg *session.MessageSession) error {
	return s.tell(ctx, msg, "ham", "local")
}

func (s *Spamc) UnlearnHam(ctx context.Context, msg *session.MessageSession) error {
	return s.tell(ctx, msg, "ham", "local, remove")
}

func (s *Spamc) tell(ctx context.Context, msg *session.MessageSession, class, set string) error {
	body, err := os.ReadFile(msg.File())
	if err != nil {
		return fmt.Errorf("%s: read spool: %w", s.cfg.Name, err)
	}
	if s.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TimeoutSeconds+1)*time.Second)
		defer cancel()
	}
	conn, err := s.dial(ctx)
	if err != nil {
		return fmt.Errorf("%s: dial: %w", s.cfg.Name, err)
	}
	defer conn.Close()

	bw := bufio.NewWriter(conn)
	fmt.Fprintf(bw, "TELL SPAMC/%s\r\n", SpamcProtoVersion)
	fmt.Fprintf(bw, "Message-class: %s\r\n", class)
	fmt.Fprintf(bw, "Set: %s\r\n", set)
	fmt.Fprintf(bw, "Content-length: %d\r\n\r\n", len(body))
	bw.Write(body)
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("%s: write: %w", s.cfg.Name, err)
	}
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		cw.CloseWrite()
	}
	_, err = io.ReadAll(conn)
	return err
}
