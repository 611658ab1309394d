// Package wiring turns a loaded config.Config into the live object
// graph the daemon runs: the cache backend, spool, queue cache,
// ordered filter.Module chain, disposition policy, and reinjector.
package wiring

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/busybox42/decency/internal/antispam"
	"github.com/busybox42/decency/internal/antivirus"
	"github.com/busybox42/decency/internal/cache"
	"github.com/busybox42/decency/internal/config"
	"github.com/busybox42/decency/internal/datasource"
	"github.com/busybox42/decency/internal/disposition"
	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/queuecache"
	"github.com/busybox42/decency/internal/scoring"
	"github.com/busybox42/decency/internal/spool"
	"github.com/busybox42/decency/internal/statstore"
)

// Graph holds every long-lived collaborator cmd/decency needs, so it
// can build one and pass pieces to frontend.New and the training
// driver without re-deriving any of it.
type Graph struct {
	Spool      *spool.Spool
	Cache      cache.Cache
	QueueCache *queuecache.QueueCache
	Statstore  *statstore.Store
	Modules    []filter.Module
	Policy     disposition.Policy
}

// Build constructs every collaborator named by cfg. Callers are
// responsible for closing Graph.Cache and Graph.Statstore.
func Build(cfg *config.Config, logger *slog.Logger) (*Graph, error) {
	sp, err := spool.Open(cfg.Spool.Dir)
	if err != nil {
		return nil, &filter.ConfigError{Field: "spool.dir", Err: err}
	}

	backend, err := buildCache(cfg)
	if err != nil {
		return nil, &filter.ConfigError{Field: "cache", Err: err}
	}
	if err := backend.Connect(); err != nil {
		return nil, &filter.ConfigError{Field: "cache", Err: err}
	}
	qc := queuecache.New(backend)

	var store *statstore.Store
	if cfg.Database.Driver != "" {
		store, err = statstore.Open(statstore.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
		if err != nil {
			return nil, &filter.ConfigError{Field: "database", Err: err}
		}
	}

	resolver := buildResolver(cfg, qc)

	modules, err := buildModules(cfg, store, resolver, logger)
	if err != nil {
		return nil, err
	}

	return &Graph{
		Spool:      sp,
		Cache:      backend,
		QueueCache: qc,
		Statstore:  store,
		Modules:    modules,
		Policy:     buildPolicy(cfg),
	}, nil
}

// buildResolver constructs the %user% resolution chain CmdFilter and
// Spamc share when LDAP is enabled: LDAP directory lookup, then the
// LDAP section's default_user, then the envelope recipient itself,
// memoized per-recipient in the QueueCache. With LDAP disabled it
// returns nil, and each module's built-in resolver passes the envelope
// recipient through.
func buildResolver(cfg *config.Config, qc *queuecache.QueueCache) filter.UserResolver {
	if !cfg.LDAP.Enabled {
		return nil
	}
	ds := datasource.NewLDAP(datasource.Config{
		Name:     "decency-ldap",
		Host:     cfg.LDAP.Host,
		Port:     cfg.LDAP.Port,
		Username: cfg.LDAP.BindDN,
		Password: cfg.LDAP.BindPass,
		Options:  map[string]interface{}{"base_dn": cfg.LDAP.BaseDN},
	})
	resolver := filter.NewLDAPResolver(ds, cfg.LDAP.DefaultUser)
	return filter.NewCachingResolver(resolver, qc)
}

func buildCache(cfg *config.Config) (cache.Cache, error) {
	backend := cfg.Cache.Backend
	if backend == "" {
		backend = "memory"
	}
	cc := cache.Config{Type: backend, Name: "decency", Password: cfg.Cache.Password}
	if cfg.Cache.Address != "" {
		cc.Host, cc.Port = splitHostPort(cfg.Cache.Address)
	}
	switch backend {
	case "memory":
		return cache.NewMemory(cc), nil
	case "redis", "valkey":
		cc.Type = "redis"
		return cache.NewRedis(cc), nil
	case "memcached":
		return cache.NewMemcached(cc), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}

// splitHostPort parses "host:port" without reaching for net.SplitHostPort's
// stricter IPv6-bracket rules, which this always-TCP address never needs.
func splitHostPort(addr string) (string, int) {
	idx := strings.LastIndex(addr, ":")
	if idx < 0 {
		return addr, 0
	}
	host := addr[:idx]
	var port int
	fmt.Sscanf(addr[idx+1:], "%d", &port)
	return host, port
}

func buildPolicy(cfg *config.Config) disposition.Policy {
	d := cfg.Disposition
	return disposition.Policy{
		SpamBehavior:         disposition.SpamBehavior(d.SpamBehavior),
		SpamHandle:           disposition.SpamHandle(d.SpamHandle),
		Threshold:            d.Threshold,
		VirusHandle:          disposition.VirusHandle(d.VirusHandle),
		NoisyHeaders:         d.NoisyHeaders,
		SpamSubjectPrefix:    d.SpamSubjectPrefix,
		NotifySender:         d.NotifySender,
		NotifyRecipient:      d.NotifyRecipient,
		NotificationFrom:     d.NotificationFrom,
		NotificationTemplate: d.NotificationTemplate,
		QuarantineDir:        cfg.Spool.Dir,
		ReinjectFailureDir:   cfg.Reinject.FailureDir,
	}
}

// buildModules dispatches each [[modules]] entry by its declared type
// into a concrete filter.Module, in config order — the order spec.md
// §4.2 runs them in.
func buildModules(cfg *config.Config, store *statstore.Store, resolver filter.UserResolver, logger *slog.Logger) ([]filter.Module, error) {
	modules := make([]filter.Module, 0, len(cfg.Modules)+1)

	for _, mc := range cfg.Modules {
		if mc.Disable {
			continue
		}
		m, err := buildModule(mc, store, resolver, logger)
		if err != nil {
			return nil, &filter.ConfigError{Field: "modules." + mc.Name, Err: err}
		}
		if m != nil {
			modules = append(modules, m)
		}
	}

	if cfg.Scoring.AcceptScoring {
		key, err := readPublicKey(cfg.Scoring.PublicKeyFile)
		if err != nil {
			return nil, &filter.ConfigError{Field: "scoring.public_key_file", Err: err}
		}
		v, err := scoring.New(scoring.Config{Name: "policy-scoring", PublicKey: key}, logger)
		if err != nil {
			return nil, err
		}
		modules = append(modules, v)
	}

	return modules, nil
}

func buildModule(mc config.ModuleConfig, store *statstore.Store, resolver filter.UserResolver, logger *slog.Logger) (filter.Module, error) {
	switch mc.Type {
	case "cmdfilter":
		return buildCmdFilter(mc, resolver)

	case "spamc":
		addr, _ := mc.Options["addr"].(string)
		network, _ := mc.Options["network"].(string)
		return filter.NewSpamc(filter.SpamcConfig{
			Name:           mc.Name,
			Network:        network,
			Addr:           addr,
			TimeoutSeconds: mc.TimeoutSeconds,
			MaxSizeBytes:   mc.MaxSizeBytes,
			Disable:        mc.Disable,
			DisableTrain:   mc.DisableTrain,
			WeightSpam:     mc.WeightSpam,
			WeightInnocent: mc.WeightInnocent,
			Resolver:       resolver,
		}), nil

	case "rspamd":
		addr, _ := mc.Options["address"].(string)
		scanner := antispam.NewRspamd(antispam.Config{Type: "rspamd", Name: mc.Name, Address: addr})
		return filter.NewRspamdModule(filter.RspamdConfig{
			Name:           mc.Name,
			Address:        addr,
			TimeoutSeconds: mc.TimeoutSeconds,
			MaxSizeBytes:   mc.MaxSizeBytes,
			Disable:        mc.Disable,
			WeightSpam:     mc.WeightSpam,
			WeightInnocent: mc.WeightInnocent,
		}, scanner), nil

	case "clamav":
		addr, _ := mc.Options["address"].(string)
		scanner := antivirus.NewClamAV(antivirus.Config{Type: "clamav", Name: mc.Name, Address: addr})
		return filter.NewClamAVModule(filter.ClamAVConfig{
			Name:           mc.Name,
			TimeoutSeconds: mc.TimeoutSeconds,
			MaxSizeBytes:   mc.MaxSizeBytes,
			Disable:        mc.Disable,
		}, scanner), nil

	case "allowdeny":
		rules := decodeAllowDenyRules(mc.Options)
		scoreAllow := optInt64(mc.Options, "score_allow", 0)
		scoreDeny := optInt64(mc.Options, "score_deny", -1000)
		denyIsSpam, _ := mc.Options["deny_is_spam"].(bool)
		return filter.NewAllowDeny(filter.AllowDenyConfig{
			Name:       mc.Name,
			Disable:    mc.Disable,
			ScoreAllow: scoreAllow,
			ScoreDeny:  scoreDeny,
			DenyIsSpam: denyIsSpam,
		}, rules), nil

	case "reputation":
		if store == nil {
			return nil, fmt.Errorf("reputation module %q configured without [database]", mc.Name)
		}
		minSamples := optInt64(mc.Options, "min_samples", 10)
		return filter.NewSenderReputation(filter.SenderReputationConfig{
			Name:           mc.Name,
			Disable:        mc.Disable,
			MinSamples:     minSamples,
			WeightSpam:     mc.WeightSpam,
			WeightInnocent: mc.WeightInnocent,
		}, store), nil

	default:
		return nil, fmt.Errorf("unknown module type %q", mc.Type)
	}
}

// buildCmdFilter wires a CmdFilter from a [[modules]] table's options,
// using a generic handle_filter_result that treats the first line of
// output as an integer score and the rest as info lines — spec.md §1
// explicitly keeps "the specific command-line conventions of
// third-party scanners" out of scope, so this is the one reasonable
// generic contract a cmdfilter-typed module can rely on.
func buildCmdFilter(mc config.ModuleConfig, resolver filter.UserResolver) (filter.Module, error) {
	handleArgv := optStringSlice(mc.Options, "handle_argv")
	if len(handleArgv) == 0 {
		return nil, fmt.Errorf("cmdfilter module %q missing options.handle_argv", mc.Name)
	}

	cfg := filter.CmdFilterConfig{
		Name:            mc.Name,
		TimeoutSeconds:  mc.TimeoutSeconds,
		MaxSizeBytes:    mc.MaxSizeBytes,
		Disable:         mc.Disable,
		DisableTrain:    mc.DisableTrain,
		WeightSpam:      mc.WeightSpam,
		WeightInnocent:  mc.WeightInnocent,
		HandleArgv:      handleArgv,
		LearnSpamArgv:   optStringSlice(mc.Options, "learn_spam_argv"),
		UnlearnSpamArgv: optStringSlice(mc.Options, "unlearn_spam_argv"),
		LearnHamArgv:    optStringSlice(mc.Options, "learn_ham_argv"),
		UnlearnHamArgv:  optStringSlice(mc.Options, "unlearn_ham_argv"),
		Resolver:        resolver,
	}
	if useFile, ok := mc.Options["use_file"].(bool); ok {
		cfg.UseFile = useFile
	}
	if dir, ok := mc.Options["scratch_dir"].(string); ok {
		cfg.ScratchDir = dir
	}

	return filter.NewCmdFilter(cfg, genericResultParser), nil
}

func decodeAllowDenyRules(opts map[string]interface{}) []filter.AllowDenyRule {
	raw, ok := opts["rules"].([]interface{})
	if !ok {
		return nil
	}
	rules := make([]filter.AllowDenyRule, 0, len(raw))
	for _, r := range raw {
		rm, ok := r.(map[string]interface{})
		if !ok {
			continue
		}
		rules = append(rules, filter.AllowDenyRule{
			ID:         optString(rm, "id", ""),
			Action:     optString(rm, "action", "deny"),
			Priority:   int(optInt64(rm, "priority", 0)),
			CIDRBlocks: optStringSlice(rm, "cidr_blocks"),
			Domains:    optStringSlice(rm, "domains"),
			Emails:     optStringSlice(rm, "emails"),
			Patterns:   optStringSlice(rm, "patterns"),
		})
	}
	return rules
}

func optString(m map[string]interface{}, key, def string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return def
}

func optInt64(m map[string]interface{}, key string, def int64) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return def
	}
}

// genericResultParser implements the one contract spec.md §4.6 commits
// to across every CmdFilter subclass: "Missing/empty output signals a
// configuration error and yields no score change." It reads the first
// line as an integer score delta and treats any remaining lines as
// info strings, since the scanner's own line format is explicitly out
// of scope (spec.md §1).
func genericResultParser(output string, exitCode int) (int64, []string, error) {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) == 0 || lines[0] == "" {
		return 0, nil, nil
	}
	delta, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, nil, fmt.Errorf("cmdfilter: parse score from output: %w", err)
	}
	info := make([]string, 0, len(lines)-1)
	for _, l := range lines[1:] {
		if l = strings.TrimSpace(l); l != "" {
			info = append(info, l)
		}
	}
	return delta, info, nil
}

func readPublicKey(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func optStringSlice(m map[string]interface{}, key string) []string {
	raw, ok := m[key].([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
