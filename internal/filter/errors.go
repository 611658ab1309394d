package filter

import "fmt"

// SpamError is raised by a module's Handle when it classifies a message
// as spam outright (strict behavior, or a module-internal threshold).
type SpamError struct {
	Reason string
}

func (e *SpamError) Error() string { return "spam: " + e.Reason }

// VirusError is raised by a module's Handle when it identifies a virus
// signature. Once raised, the session's Virus field is set and no
// further modules run.
type VirusError struct {
	Label string
}

func (e *VirusError) Error() string { return "virus: " + e.Label }

// DropError tells the pipeline to silently swallow the message: return
// OK to the MTA without re-injecting, bouncing, or quarantining.
type DropError struct {
	Reason string
}

func (e *DropError) Error() string { return "drop: " + e.Reason }

// TimeoutError reports that a module did not finish before its deadline.
// The pipeline engine returns it when a module's Handle does not return
// before the armed deadline, and modules that enforce their own deadline
// (CmdFilter, Spamc) return it as well.
type TimeoutError struct {
	Module string
	Limit  int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %ds", e.Module, e.Limit)
}

// FileTooBigError may be returned by a module's Handle to report that
// the message is larger than it accepts; the pipeline logs it and
// continues. The pipeline's own size guard skips oversized modules
// without constructing one.
type FileTooBigError struct {
	Module  string
	Size    int64
	MaxSize int64
}

func (e *FileTooBigError) Error() string {
	return fmt.Sprintf("%s: file size %d exceeds max %d", e.Module, e.Size, e.MaxSize)
}

// ReinjectError is returned by the DispositionEngine when the Reinjector
// fails: the downstream SMTP listener refuses the message or the
// connection fails outright.
type ReinjectError struct {
	Stage string
	Err   error
}

func (e *ReinjectError) Error() string {
	return fmt.Sprintf("reinject failed at %s: %v", e.Stage, e.Err)
}

func (e *ReinjectError) Unwrap() error { return e.Err }

// ConfigError marks a startup-time configuration failure. Per
// spec.md §7, only configuration-level errors at startup are fatal;
// everything raised during a pipeline run is caught and logged.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
