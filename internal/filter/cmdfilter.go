package filter

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/busybox42/decency/internal/session"
)

// UserResolver resolves the %user% placeholder for a recipient address.
// The resolvers in this package are staticResolver (configured default,
// else the recipient), LDAPResolver (directory lookup, then the default,
// then the recipient) and CachingResolver, which memoizes another
// resolver's results per recipient in the QueueCache. None of them runs
// an external cmd_user program.
type UserResolver interface {
	ResolveUser(ctx context.Context, recipient string) (string, error)
}

// staticResolver always returns a fixed default_user, or the recipient
// unchanged if no default is configured.
type staticResolver struct{ defaultUser string }

func (r staticResolver) ResolveUser(_ context.Context, recipient string) (string, error) {
	if r.defaultUser != "" {
		return r.defaultUser, nil
	}
	return recipient, nil
}

// CmdFilterConfig is the immutable-after-init configuration for a
// CmdFilter subclass, matching spec.md §3's FilterModule config fields
// plus the command templates spec.md §4.6 describes.
type CmdFilterConfig struct {
	Name           string
	TimeoutSeconds int
	MaxSizeBytes   int64
	Disable        bool
	DisableTrain   bool
	WeightSpam     float64
	WeightInnocent float64

	// Argv templates. Each element may contain the literal substrings
	// "%user%" and "%file%"; substitution happens at the argv level,
	// never by building a shell string (spec.md Design Notes §9).
	HandleArgv      []string
	LearnSpamArgv   []string
	UnlearnSpamArgv []string
	LearnHamArgv    []string
	UnlearnHamArgv  []string

	// UseFile, when true, writes the MIME message to a temp file and
	// substitutes its path for %file%; otherwise the message is piped
	// to the command's stdin.
	UseFile bool

	ScratchDir string

	Resolver UserResolver
}

// CmdFilter is the base for modules that delegate classification to an
// external executable (DSPAM, SpamAssassin, Bogofilter, CRM114,
// ClamAV). Concrete subclasses supply the Result function to interpret
// the captured output.
type CmdFilter struct {
	cfg    CmdFilterConfig
	Result func(output string, exitCode int) (scoreDelta int64, info []string, err error)
}

// NewCmdFilter constructs a CmdFilter; resultFn implements spec.md
// §4.6's handle_filter_result(output, exit_code) → score_delta, info[].
func NewCmdFilter(cfg CmdFilterConfig, resultFn func(string, int) (int64, []string, error)) *CmdFilter {
	if cfg.Resolver == nil {
		cfg.Resolver = staticResolver{}
	}
	return &CmdFilter{cfg: cfg, Result: resultFn}
}

func (c *CmdFilter) Name() string       { return c.cfg.Name }
func (c *CmdFilter) MaxSize() int64     { return c.cfg.MaxSizeBytes }
func (c *CmdFilter) Timeout() int       { return c.cfg.TimeoutSeconds }
func (c *CmdFilter) Disabled() bool     { return c.cfg.Disable }
func (c *CmdFilter) TrainDisabled() bool { return c.cfg.DisableTrain }
func (c *CmdFilter) WeightSpam() float64     { return c.cfg.WeightSpam }
func (c *CmdFilter) WeightInnocent() float64 { return c.cfg.WeightInnocent }

// substitute performs argv-level placeholder replacement. Every element
// of argv is copied with %user% and %file% replaced literally; this is
// never passed through a shell, so neither value can break out of its
// argument position.
func substitute(argv []string, user, file string) []string {
	out := make([]string, len(argv))
	for i, a := range argv {
		a = strings.ReplaceAll(a, "%user%", user)
		a = strings.ReplaceAll(a, "%file%", file)
		out[i] = a
	}
	return out
}

// resolveUser implements spec.md §4.6's %user% fallback chain.
func (c *CmdFilter) resolveUser(ctx context.Context, s *session.MessageSession) string {
	recipients := s.To()
	recipient := ""
	if len(recipients) > 0 {
		recipient = recipients[0]
	}
	user, err := c.cfg.Resolver.ResolveUser(ctx, recipient)
	if err != nil || user == "" {
		return recipient
	}
	return user
}

// run executes argv with the message available either via a temp file
// (%file%) or piped to stdin, captures merged stdout+stderr to a
// scratch file, and returns the header block (everything up to the
// first blank line) plus the exit code.
//
// Stdout and stderr are intentionally merged into one scratch file and
// only the text up to the first blank line is parsed, matching the
// source's existing behavior (spec.md Design Notes §9's open question):
// this is ambiguous when a scanner writes a warning to stderr ahead of
// its report, but changing it is a policy decision left to the operator.
func (c *CmdFilter) run(ctx context.Context, s *session.MessageSession, argv []string) (string, int, error) {
	if len(argv) == 0 {
		return "", 0, fmt.Errorf("%s: no command configured", c.cfg.Name)
	}

	user := c.resolveUser(ctx, s)
	file := ""
	if c.cfg.UseFile {
		tmp, err := os.CreateTemp(c.cfg.ScratchDir, c.cfg.Name+"-*.eml")
		if err != nil {
			return "", 0, fmt.Errorf("%s: temp file: %w", c.cfg.Name, err)
		}
		defer os.Remove(tmp.Name())
		data, err := os.ReadFile(s.File())
		if err == nil {
			_, err = tmp.Write(data)
		}
		tmp.Close()
		if err != nil {
			return "", 0, fmt.Errorf("%s: copy message to temp file: %w", c.cfg.Name, err)
		}
		file = tmp.Name()
	}
	resolved := substitute(argv, user, file)

	cmd := exec.CommandContext(ctx, resolved[0], resolved[1:]...)

	scratch, err := os.CreateTemp(c.cfg.ScratchDir, c.cfg.Name+"-*.scratch")
	if err != nil {
		return "", 0, fmt.Errorf("%s: scratch file: %w", c.cfg.Name, err)
	}
	defer os.Remove(scratch.Name())
	defer scratch.Close()

	cmd.Stdout = scratch
	cmd.Stderr = scratch

	if !c.cfg.UseFile {
		f, err := os.Open(s.File())
		if err != nil {
			return "", 0, fmt.Errorf("%s: open spool: %w", c.cfg.Name, err)
		}
		defer f.Close()
		cmd.Stdin = f
	}

	runErr := cmd.Run()
	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() != nil {
			return "", 0, &TimeoutError{Module: c.cfg.Name, Limit: c.cfg.TimeoutSeconds}
		} else {
			return "", 0, fmt.Errorf("%s: exec: %w", c.cfg.Name, runErr)
		}
	}

	header, err := readHeaderBlock(scratch.Name())
	if err != nil {
		return "", exitCode, fmt.Errorf("%s: read scratch: %w", c.cfg.Name, err)
	}

	return header, exitCode, nil
}

// readHeaderBlock returns the content of path up to (not including)
// the first blank line.
func readHeaderBlock(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var b strings.Builder
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			break
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String(), scanner.Err()
}

// Handle runs the configured handle command and applies Result to the
// captured output. Missing/empty output signals a configuration error
// and yields no score change (spec.md §4.6).
func (c *CmdFilter) Handle(ctx context.Context, s *session.MessageSession) error {
	if c.cfg.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(c.cfg.TimeoutSeconds+1)*time.Second)
		defer cancel()
	}

	output, exitCode, err := c.run(ctx, s, c.cfg.HandleArgv)
	if err != nil {
		return err
	}
	if strings.TrimSpace(output) == "" {
		return nil
	}

	delta, info, err := c.Result(output, exitCode)
	if err != nil {
		return err
	}
	if delta != 0 || len(info) > 0 {
		s.AddScore(delta, strings.Join(info, "; "))
	}
	return nil
}

func (c *CmdFilter) LearnSpam(ctx context.Context, s *session.MessageSession) error {
	_, _, err := c.run(ctx, s, c.cfg.LearnSpamArgv)
	return err
}

func (c *CmdFilter) UnlearnSpam(ctx context.Context, s *session.MessageSession) error {
	_, _, err := c.run(ctx, s, c.cfg.UnlearnSpamArgv)
	return err
}

func (c *CmdFilter) LearnHam(ctx context.Context, s *session.MessageSession) error {
	_, _, err := c.run(ctx, s, c.cfg.LearnHamArgv)
	return err
}

func (c *CmdFilter) UnlearnHam(ctx context.Context, s *session.MessageSession) error {
	_, _, err := c.run(ctx, s, c.cfg.UnlearnHamArgv)
	return err
}
