// Package config loads and validates the Content Filter's TOML
// configuration: a root struct with nested tables, a fixed
// search-path idiom, and layered security validation of every
// externally supplied string.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the root Decency configuration, per SPEC_FULL.md §A.1's
// "[server], [spool], [modules], [disposition], [scoring], [reinject],
// [cache], [metrics], [database]" tables, plus [ldap] for the %user%
// directory lookup SPEC_FULL.md's Supplemental Components name.
type Config struct {
	Server struct {
		Listen         string `toml:"listen"`
		HELOName       string `toml:"helo_name"`
		MaxWorkers     int    `toml:"max_workers"`
		MaxMessageSize int64  `toml:"max_message_size"`
	} `toml:"server"`

	Spool struct {
		Dir string `toml:"dir"`
	} `toml:"spool"`

	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"` // "text" or "json"
	} `toml:"logging"`

	Modules []ModuleConfig `toml:"modules"`

	Disposition struct {
		SpamBehavior      string `toml:"spam_behavior"` // ignore|strict|scoring
		SpamHandle        string `toml:"spam_handle"`   // tag|bounce|delete|ignore
		Threshold         int64  `toml:"threshold"`
		VirusHandle       string `toml:"virus_handle"` // ignore|bounce|delete|quarantine
		NoisyHeaders      bool   `toml:"noisy_headers"`
		SpamSubjectPrefix string `toml:"spam_subject_prefix"`
		NotifySender      bool   `toml:"notify_sender"`
		NotifyRecipient   bool   `toml:"notify_recipient"`
		NotificationFrom  string `toml:"notification_from"`
		NotificationTemplate string `toml:"notification_template"`
	} `toml:"disposition"`

	Scoring struct {
		AcceptScoring bool   `toml:"accept_scoring"`
		PublicKeyFile string `toml:"public_key_file"`
	} `toml:"scoring"`

	Reinject struct {
		Host               string `toml:"host"`
		Port               int    `toml:"port"`
		FailureDir         string `toml:"failure_dir"`
		DialTimeoutSeconds int    `toml:"dial_timeout_seconds"`
		BreakerMaxFailures int    `toml:"breaker_max_failures"`
	} `toml:"reinject"`

	Cache struct {
		Backend  string `toml:"backend"` // memory|redis|memcached|valkey
		Address  string `toml:"address"`
		Password string `toml:"password"`
	} `toml:"cache"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Listen  string `toml:"listen"`
		ValkeyAddress string `toml:"valkey_address"`
	} `toml:"metrics"`

	Database struct {
		Driver string `toml:"driver"` // sqlite3|mysql|postgres
		DSN    string `toml:"dsn"`
	} `toml:"database"`

	LDAP struct {
		Enabled     bool   `toml:"enabled"`
		Host        string `toml:"host"`
		Port        int    `toml:"port"`
		BindDN      string `toml:"bind_dn"`
		BindPass    string `toml:"bind_password"`
		BaseDN      string `toml:"base_dn"`
		DefaultUser string `toml:"default_user"`
	} `toml:"ldap"`
}

// ModuleConfig is one [[modules]] table entry: the generic fields every
// filter module shares. Module-specific fields (command argv,
// spamd address, CIDR rules, ...) are carried in Options and decoded
// by each module's constructor, since the module set is open-ended.
type ModuleConfig struct {
	Name           string                 `toml:"name"`
	Type           string                 `toml:"type"` // cmdfilter|spamc|rspamd|clamav|allowdeny|reputation
	Disable        bool                   `toml:"disable"`
	DisableTrain   bool                   `toml:"disable_train"`
	TimeoutSeconds int                    `toml:"timeout_seconds"`
	MaxSizeBytes   int64                  `toml:"max_size_bytes"`
	WeightSpam     float64                `toml:"weight_spam"`
	WeightInnocent float64                `toml:"weight_innocent"`
	Options        map[string]interface{} `toml:"options"`
}

// DefaultConfig returns the zero-value-safe defaults the daemon starts
// from before a config file is merged in.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Server.Listen = "127.0.0.1:2526"
	cfg.Server.HELOName = "decency"
	cfg.Server.MaxWorkers = 32
	cfg.Server.MaxMessageSize = 25 * 1024 * 1024

	cfg.Spool.Dir = "/var/spool/decency"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Disposition.SpamBehavior = "scoring"
	cfg.Disposition.SpamHandle = "tag"
	cfg.Disposition.Threshold = -100
	cfg.Disposition.VirusHandle = "quarantine"
	cfg.Disposition.SpamSubjectPrefix = "*** SPAM *** "

	cfg.Reinject.Host = "127.0.0.1"
	cfg.Reinject.Port = 2527
	cfg.Reinject.FailureDir = filepath.Join(cfg.Spool.Dir, "failure")
	cfg.Reinject.DialTimeoutSeconds = 10
	cfg.Reinject.BreakerMaxFailures = 5

	cfg.Cache.Backend = "memory"

	cfg.Database.Driver = "sqlite3"
	cfg.Database.DSN = filepath.Join(cfg.Spool.Dir, "decency.db")

	return cfg
}

// FindConfigFile searches the fixed locations SPEC_FULL.md §A.1
// describes, in order, returning the first one that exists. An
// explicit configPath is checked exclusively.
func FindConfigFile(configPath string) (string, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}
		return "", fmt.Errorf("config file not found at specified path: %s", configPath)
	}

	locations := []string{
		"./decency.conf",
		"./config/decency.conf",
		os.ExpandEnv("$HOME/.decency.conf"),
		"/etc/decency/decency.conf",
	}

	for _, loc := range locations {
		if _, err := os.Stat(loc); err == nil {
			return loc, nil
		}
	}

	return "", fmt.Errorf("no config file found")
}

// LoadConfig loads and validates configuration from configPath, or the
// search-path default location, falling back to DefaultConfig() when no
// file is found at all (not finding a file is not itself fatal; a
// file that fails to parse or validate is, per spec.md §6 exit codes).
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	sv := NewSecurityValidator()

	configFile, err := FindConfigFile(configPath)
	if err != nil {
		return cfg, nil
	}

	if err := sv.ValidateConfigFileSize(configFile); err != nil {
		return nil, fmt.Errorf("config file security validation failed: %w", err)
	}

	cfs := NewConfigFileSecurity()
	if err := cfs.ValidateConfigFileSecurity(configFile); err != nil {
		return nil, fmt.Errorf("config file security validation failed: %w", err)
	}

	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing TOML configuration: %w", err)
	}

	if !filepath.IsAbs(cfg.Spool.Dir) {
		configDir := filepath.Dir(configFile)
		cfg.Spool.Dir = filepath.Join(configDir, cfg.Spool.Dir)
	}

	result := cfg.Validate()
	if !result.Valid {
		var msgs []string
		for _, e := range result.Errors {
			msgs = append(msgs, e.Error())
		}
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(msgs, "; "))
	}

	return cfg, nil
}

// ValidationError is one field-level validation failure or warning.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s (current value: %v)", e.Field, e.Message, e.Value)
}

// ValidationResult aggregates every field checked by Validate.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
	Valid    bool
}

func (vr *ValidationResult) AddError(field string, value interface{}, message string) {
	vr.Errors = append(vr.Errors, ValidationError{Field: field, Value: value, Message: message})
	vr.Valid = false
}

func (vr *ValidationResult) AddWarning(field string, value interface{}, message string) {
	vr.Warnings = append(vr.Warnings, ValidationError{Field: field, Value: value, Message: message})
}

// Validate checks every section, sanitizing strings in place via the
// SecurityValidator.
func (c *Config) Validate() *ValidationResult {
	result := &ValidationResult{Valid: true}
	sv := NewSecurityValidator()

	c.validateServer(result, sv)
	c.validateSpool(result, sv)
	c.validateDisposition(result, sv)
	c.validateScoring(result, sv)
	c.validateReinject(result, sv)
	c.validateModules(result, sv)

	return result
}

func (c *Config) validateServer(result *ValidationResult, sv *SecurityValidator) {
	if c.Server.Listen == "" {
		result.AddError("server.listen", c.Server.Listen, "listen address is required")
		return
	}
	c.Server.Listen = sv.SanitizeString(c.Server.Listen)
	if err := sv.ValidateNetworkAddress(c.Server.Listen, "server.listen"); err != nil {
		result.AddError("server.listen", c.Server.Listen, err.Error())
	}
	if c.Server.MaxWorkers <= 0 {
		result.AddWarning("server.max_workers", c.Server.MaxWorkers, "must be positive, defaulting to 32")
		c.Server.MaxWorkers = 32
	}
	if err := sv.ValidateNumericBounds(c.Server.MaxMessageSize, "server.max_message_size", 0, sv.config.MaxFileSize); err != nil {
		result.AddError("server.max_message_size", c.Server.MaxMessageSize, err.Error())
	}
}

func (c *Config) validateSpool(result *ValidationResult, sv *SecurityValidator) {
	if c.Spool.Dir == "" {
		result.AddError("spool.dir", c.Spool.Dir, "spool directory is required")
		return
	}
	c.Spool.Dir = sv.SanitizePath(c.Spool.Dir)
	if err := sv.CheckPathTraversal(c.Spool.Dir); err != nil {
		result.AddError("spool.dir", c.Spool.Dir, err.Error())
	}
}

func (c *Config) validateDisposition(result *ValidationResult, sv *SecurityValidator) {
	switch c.Disposition.SpamBehavior {
	case "ignore", "strict", "scoring", "":
	default:
		result.AddError("disposition.spam_behavior", c.Disposition.SpamBehavior, "must be ignore, strict, or scoring")
	}
	switch c.Disposition.SpamHandle {
	case "tag", "bounce", "delete", "ignore", "":
	default:
		result.AddError("disposition.spam_handle", c.Disposition.SpamHandle, "must be tag, bounce, delete, or ignore")
	}
	switch c.Disposition.VirusHandle {
	case "ignore", "bounce", "delete", "quarantine", "":
	default:
		result.AddError("disposition.virus_handle", c.Disposition.VirusHandle, "must be ignore, bounce, delete, or quarantine")
	}
	if c.Disposition.SpamSubjectPrefix != "" {
		c.Disposition.SpamSubjectPrefix = sv.SanitizeString(c.Disposition.SpamSubjectPrefix)
	}
}

func (c *Config) validateScoring(result *ValidationResult, sv *SecurityValidator) {
	if !c.Scoring.AcceptScoring {
		return
	}
	if c.Scoring.PublicKeyFile == "" {
		result.AddError("scoring.public_key_file", c.Scoring.PublicKeyFile, "required when accept_scoring is enabled")
		return
	}
	c.Scoring.PublicKeyFile = sv.SanitizePath(c.Scoring.PublicKeyFile)
	if err := sv.ValidatePath(c.Scoring.PublicKeyFile, "scoring.public_key_file"); err != nil {
		result.AddError("scoring.public_key_file", c.Scoring.PublicKeyFile, err.Error())
	}
}

func (c *Config) validateReinject(result *ValidationResult, sv *SecurityValidator) {
	if c.Reinject.Host == "" {
		result.AddError("reinject.host", c.Reinject.Host, "reinject host is required")
		return
	}
	c.Reinject.Host = sv.SanitizeString(c.Reinject.Host)
	if err := sv.ValidatePort(c.Reinject.Port, "reinject.port"); err != nil {
		result.AddError("reinject.port", c.Reinject.Port, err.Error())
	}
}

func (c *Config) validateModules(result *ValidationResult, sv *SecurityValidator) {
	seen := make(map[string]bool)
	for i, m := range c.Modules {
		field := fmt.Sprintf("modules[%d]", i)
		if m.Name == "" {
			result.AddError(field+".name", m.Name, "module name is required")
			continue
		}
		if seen[m.Name] {
			result.AddError(field+".name", m.Name, "duplicate module name")
		}
		seen[m.Name] = true
		if m.TimeoutSeconds < 0 {
			result.AddError(field+".timeout_seconds", m.TimeoutSeconds, "must not be negative")
		}
		if m.MaxSizeBytes < 0 {
			result.AddError(field+".max_size_bytes", m.MaxSizeBytes, "must not be negative")
		}
	}
}

// CreateDefaultConfig writes a commented default TOML file to
// configPath, seeding a fresh install.
func CreateDefaultConfig(configPath string) error {
	cfg := DefaultConfig()
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content := fmt.Sprintf(`# Decency Content Filter configuration

[server]
listen = "%s"
helo_name = "%s"
max_workers = %d
max_message_size = %d

[spool]
dir = "%s"

[logging]
level = "%s"
format = "%s"

[disposition]
spam_behavior = "%s"
spam_handle = "%s"
threshold = %d
virus_handle = "%s"
noisy_headers = false
spam_subject_prefix = "%s"

[scoring]
accept_scoring = false

[reinject]
host = "%s"
port = %d

[cache]
backend = "%s"

[database]
driver = "%s"
dsn = "%s"

# [[modules]]
# name = "spamassassin"
# type = "spamc"
# timeout_seconds = 30
`,
		cfg.Server.Listen, cfg.Server.HELOName, cfg.Server.MaxWorkers, cfg.Server.MaxMessageSize,
		cfg.Spool.Dir,
		cfg.Logging.Level, cfg.Logging.Format,
		cfg.Disposition.SpamBehavior, cfg.Disposition.SpamHandle, cfg.Disposition.Threshold,
		cfg.Disposition.VirusHandle, cfg.Disposition.SpamSubjectPrefix,
		cfg.Reinject.Host, cfg.Reinject.Port,
		cfg.Cache.Backend,
		cfg.Database.Driver, cfg.Database.DSN,
	)

	return os.WriteFile(configPath, []byte(content), 0640)
}
