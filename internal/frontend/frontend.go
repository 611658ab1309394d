// Package frontend implements the SMTPFrontend: a minimal SMTP
// listener that accepts messages from the MTA, spools each DATA
// stream, and synchronously runs it through the PipelineEngine and
// DispositionEngine (spec.md §2 and §4.1).
//
// This is deliberately not an MTA: it understands only the subset of
// SMTP needed to accept a message and reply with the pipeline's
// verdict, exactly as spec.md's Non-goals describe.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/busybox42/decency/internal/disposition"
	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/metricsx"
	"github.com/busybox42/decency/internal/pipeline"
	"github.com/busybox42/decency/internal/queuecache"
	"github.com/busybox42/decency/internal/session"
	"github.com/busybox42/decency/internal/spool"
)

// Config configures the SMTPFrontend.
type Config struct {
	ListenAddr     string
	MaxWorkers     int
	SessionTimeout time.Duration
	MaxMessageSize int64
	HELOName       string
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 32
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 5 * time.Minute
	}
	if c.HELOName == "" {
		c.HELOName = "decency"
	}
	return c
}

// Server is the SMTPFrontend. One per process; Serve blocks accepting
// connections until ctx is canceled or Close is called.
type Server struct {
	cfg     Config
	ln      net.Listener
	sp      *spool.Spool
	qc      *queuecache.QueueCache
	eng     *pipeline.Engine
	disp    *disposition.Engine
	metrics *metricsx.Metrics
	log     *slog.Logger
}

// New binds the listener and returns a Server ready to Serve. metrics
// may be nil to disable Prometheus recording.
func New(cfg Config, sp *spool.Spool, qc *queuecache.QueueCache, eng *pipeline.Engine, disp *disposition.Engine, metrics *metricsx.Metrics, logger *slog.Logger) (*Server, error) {
	cfg = cfg.withDefaults()
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("frontend: listen %s: %w", cfg.ListenAddr, err)
	}
	return &Server{
		cfg:     cfg,
		ln:      ln,
		sp:      sp,
		qc:      qc,
		eng:     eng,
		disp:    disp,
		metrics: metrics,
		log:     logger.With("component", "frontend"),
	}, nil
}

func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Serve accepts connections until ctx is canceled, handing each one to
// a bounded errgroup so at most cfg.MaxWorkers connections are served
// concurrently.
func (s *Server) Serve(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxWorkers)

	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("frontend: accept: %w", err)
		}

		g.Go(func() error {
			s.handleConn(gctx, conn)
			return nil
		})
	}

	return g.Wait()
}

func (s *Server) Close() error { return s.ln.Close() }

// handleConn runs an SMTP session on conn. Each DATA transaction is
// processed as one message; the envelope is then reset and further
// transactions are accepted until QUIT, a read error, or the session
// deadline.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.cfg.SessionTimeout))

	tc := textproto.NewConn(conn)
	defer tc.Close()

	writeLine(tc, "220 %s decency content filter ready", s.cfg.HELOName)

	var from string
	var to []string

	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}

		cmd, arg := splitCommand(line)
		switch strings.ToUpper(cmd) {
		case "HELO", "EHLO":
			writeLine(tc, "250 %s", s.cfg.HELOName)

		case "MAIL":
			addr, ok := parseAddr(arg, "FROM:")
			if !ok {
				writeLine(tc, "501 syntax error in MAIL FROM")
				continue
			}
			from = addr
			writeLine(tc, "250 OK")

		case "RCPT":
			addr, ok := parseAddr(arg, "TO:")
			if !ok {
				writeLine(tc, "501 syntax error in RCPT TO")
				continue
			}
			to = append(to, addr)
			writeLine(tc, "250 OK")

		case "DATA":
			if len(to) == 0 {
				writeLine(tc, "503 need RCPT before DATA")
				continue
			}
			writeLine(tc, "354 end data with <CR><LF>.<CR><LF>")
			s.acceptData(ctx, tc, from, to)
			from, to = "", nil

		case "RSET":
			from, to = "", nil
			writeLine(tc, "250 OK")

		case "NOOP":
			writeLine(tc, "250 OK")

		case "QUIT":
			writeLine(tc, "221 bye")
			return

		default:
			writeLine(tc, "502 command not implemented")
		}
	}
}

// acceptData reads the dot-terminated DATA stream, spools it, and runs
// it through the pipeline and disposition engine synchronously, per
// spec.md §2's "invokes the pipeline synchronously".
func (s *Server) acceptData(ctx context.Context, tc *textproto.Conn, from string, to []string) {
	dr := tc.DotReader()
	path, size, err := s.sp.Receive(limitReader(dr, s.cfg.MaxMessageSize), from, to)
	if err != nil {
		s.log.Error("spool receive failed", "error", err)
		writeLine(tc, "452 insufficient storage")
		return
	}

	sess := session.New(spoolID(path), path, size, from, to)

	if mf, err := openForParse(path); err == nil {
		_ = sess.MIME().ParseHeaders(mf)
		mf.Close()
	}

	if qid, ok := sess.MIME().LastReceivedQueueID(); ok {
		sess.SetQueueID(qid)
		if snap, found, err := s.qc.Load(ctx, qid); err == nil && found {
			sess.MergeSnapshot(snap)
		}
	}
	sess.SetCache(s.qc)

	result := s.eng.Run(ctx, sess)
	status := s.eng.RunPreFinishHooks(ctx, sess, result.Status)

	code, dispErr := s.disp.Resolve(ctx, sess, status)
	s.eng.RunPostFinishHooks(ctx, sess, status, code)

	if s.metrics != nil {
		s.metrics.RecordRun(result.Stats, code)
	}

	if qid := sess.QueueID(); qid != "" {
		_ = s.qc.Store(ctx, qid, sess.ToSnapshot())
	}

	s.sp.Cleanup(path)

	switch code {
	case filter.DispositionOK, filter.DispositionDeleted:
		writeLine(tc, "250 2.0.0 OK: queued as %s", sess.NextID())
	case filter.DispositionBounce:
		writeLine(tc, "550 5.7.1 message rejected: %s", strings.Join(sess.SpamDetails(), "; "))
	default:
		s.log.Error("disposition error", "error", dispErr, "queue_id", sess.QueueID())
		writeLine(tc, "550 5.3.0 %s", strings.Join(sess.SpamDetails(), "; "))
	}
}

func writeLine(tc *textproto.Conn, format string, args ...interface{}) {
	_ = tc.PrintfLine(format, args...)
}

func splitCommand(line string) (cmd, arg string) {
	line = strings.TrimSpace(line)
	parts := strings.SplitN(line, " ", 2)
	if len(parts) == 1 {
		return parts[0], ""
	}
	return parts[0], parts[1]
}

// parseAddr extracts the bracketed address from a `FROM:<addr>` or
// `TO:<addr>` argument, case-insensitively matching the prefix.
func parseAddr(arg, prefix string) (string, bool) {
	arg = strings.TrimSpace(arg)
	if !strings.HasPrefix(strings.ToUpper(arg), prefix) {
		return "", false
	}
	rest := strings.TrimSpace(arg[len(prefix):])
	rest = strings.TrimSuffix(strings.TrimPrefix(rest, "<"), ">")
	if idx := strings.IndexByte(rest, '>'); idx >= 0 {
		rest = rest[:idx]
	}
	return rest, true
}

func spoolID(path string) string {
	parts := strings.Split(path, string('/'))
	return parts[len(parts)-1]
}

// limitReader caps the DATA stream at maxSize bytes, 0 meaning no
// limit; exceeding it mirrors spec.md's file_too_big disposition by
// letting spool.Receive simply see a truncated (and still errorable)
// stream rather than blocking the frontend indefinitely.
func limitReader(r io.Reader, maxSize int64) io.Reader {
	if maxSize <= 0 {
		return r
	}
	return io.LimitReader(r, maxSize)
}

func openForParse(path string) (*os.File, error) {
	return os.Open(path)
}
