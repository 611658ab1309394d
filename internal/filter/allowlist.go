package filter

import (
	"context"
	"net"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/busybox42/decency/internal/session"
)

// AllowDenyRule is one sender/recipient match rule. Priority ties are
// broken in favor of deny. Rules are evaluated IP and CIDR matches
// first (cheapest), then exact email, domain, and finally regex
// patterns.
type AllowDenyRule struct {
	ID         string
	Action     string // "allow" or "deny"
	Priority   int
	CIDRBlocks []string
	Domains    []string
	Emails     []string
	Patterns   []string // globs with * and ?
}

// AllowDenyConfig configures the AllowDeny module.
type AllowDenyConfig struct {
	Name       string
	Disable    bool
	ScoreAllow int64 // score delta applied when a rule explicitly allows
	ScoreDeny  int64 // score delta applied when a rule explicitly denies (should be negative)
	DenyIsSpam bool  // when true, a deny match raises SpamError instead of just scoring
}

// AllowDeny is a SpamContributor that matches the envelope sender
// against a small rule set of CIDR blocks, exact addresses, domains,
// and wildcard patterns, the way an MTA-level allow/deny rule engine
// evaluates connection and MAIL FROM rules — here adapted to run
// inside the Content Filter pipeline instead of at SMTP command time.
type AllowDeny struct {
	cfg   AllowDenyConfig
	mu    sync.RWMutex
	rules []AllowDenyRule

	cidrNets []cidrRule
}

type cidrRule struct {
	net  *net.IPNet
	rule AllowDenyRule
}

// NewAllowDeny constructs an AllowDeny module from a static rule set.
func NewAllowDeny(cfg AllowDenyConfig, rules []AllowDenyRule) *AllowDeny {
	a := &AllowDeny{cfg: cfg, rules: rules}
	a.rebuild()
	return a
}

func (a *AllowDeny) Name() string   { return a.cfg.Name }
func (a *AllowDeny) Disabled() bool { return a.cfg.Disable }
func (a *AllowDeny) WeightSpam() float64     { return 1.0 }
func (a *AllowDeny) WeightInnocent() float64 { return 1.0 }

func (a *AllowDeny) rebuild() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cidrNets = nil
	for _, r := range a.rules {
		for _, block := range r.CIDRBlocks {
			_, n, err := net.ParseCIDR(block)
			if err == nil {
				a.cidrNets = append(a.cidrNets, cidrRule{net: n, rule: r})
			}
		}
	}
}

func (a *AllowDeny) matchCIDR(ip net.IP) (AllowDenyRule, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	var matches []AllowDenyRule
	for _, cr := range a.cidrNets {
		if cr.net.Contains(ip) {
			matches = append(matches, cr.rule)
		}
	}
	return highestPriority(matches)
}

func (a *AllowDeny) matchEmail(addr string) (AllowDenyRule, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	addr = strings.ToLower(addr)
	domain := ""
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		domain = addr[i+1:]
	}

	var matches []AllowDenyRule
	for _, r := range a.rules {
		for _, e := range r.Emails {
			if strings.EqualFold(e, addr) {
				matches = append(matches, r)
			}
		}
		for _, d := range r.Domains {
			if strings.EqualFold(d, domain) {
				matches = append(matches, r)
			}
		}
		for _, p := range r.Patterns {
			if matchWildcard(p, domain) || matchWildcard(p, addr) {
				matches = append(matches, r)
			}
		}
	}
	if m, ok := highestPriority(matches); ok {
		return m, true
	}
	return a.matchRegex(addr)
}

func (a *AllowDeny) matchRegex(addr string) (AllowDenyRule, bool) {
	var matches []AllowDenyRule
	for _, r := range a.rules {
		for _, p := range r.Patterns {
			if !strings.ContainsAny(p, "*?") {
				if re, err := regexp.Compile(p); err == nil && re.MatchString(addr) {
					matches = append(matches, r)
				}
			}
		}
	}
	return highestPriority(matches)
}

func highestPriority(rules []AllowDenyRule) (AllowDenyRule, bool) {
	if len(rules) == 0 {
		return AllowDenyRule{}, false
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Priority > rules[j].Priority })
	selected := rules[0]
	for _, r := range rules {
		if r.Priority == selected.Priority && r.Action == "deny" {
			selected = r
			break
		}
	}
	return selected, true
}

func matchWildcard(pattern, str string) bool {
	if pattern == "" || str == "" {
		return false
	}
	re := "^" + strings.ReplaceAll(strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*"), `\?`, ".") + "$"
	matched, err := regexp.MatchString(re, str)
	return err == nil && matched
}

// Handle evaluates the envelope From address against the configured
// rules and applies ScoreAllow/ScoreDeny, or raises SpamError outright
// when DenyIsSpam is set.
func (a *AllowDeny) Handle(ctx context.Context, s *session.MessageSession) error {
	from := s.From()
	if from == "" {
		return nil
	}

	if ip := net.ParseIP(from); ip != nil {
		if rule, ok := a.matchCIDR(ip); ok {
			return a.apply(s, rule)
		}
	}

	if rule, ok := a.matchEmail(from); ok {
		return a.apply(s, rule)
	}
	return nil
}

func (a *AllowDeny) apply(s *session.MessageSession, rule AllowDenyRule) error {
	if rule.Action == "deny" {
		if a.cfg.DenyIsSpam {
			return &SpamError{Reason: a.cfg.Name + ": matched deny rule " + rule.ID}
		}
		s.AddScore(a.cfg.ScoreDeny, a.cfg.Name+": deny rule "+rule.ID)
		return nil
	}
	s.AddScore(a.cfg.ScoreAllow, a.cfg.Name+": allow rule "+rule.ID)
	return nil
}
