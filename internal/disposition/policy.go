// Package disposition implements the DispositionEngine: it maps a
// terminal pipeline status plus the configured policy into a final
// disposition code, per spec.md §4.4.
package disposition

import "github.com/busybox42/decency/internal/filter"

// SpamBehavior controls how the pipeline's accumulated score is turned
// into a spam classification, per spec.md §3.
type SpamBehavior string

const (
	SpamBehaviorIgnore  SpamBehavior = "ignore"
	SpamBehaviorStrict  SpamBehavior = "strict"
	SpamBehaviorScoring SpamBehavior = "scoring"
)

// SpamHandle is the action taken once a message is classified spam.
type SpamHandle string

const (
	SpamHandleTag    SpamHandle = "tag"
	SpamHandleBounce SpamHandle = "bounce"
	SpamHandleDelete SpamHandle = "delete"
	SpamHandleIgnore SpamHandle = "ignore"
)

// VirusHandle is the action taken once a message is classified virus.
type VirusHandle string

const (
	VirusHandleIgnore     VirusHandle = "ignore"
	VirusHandleBounce     VirusHandle = "bounce"
	VirusHandleDelete     VirusHandle = "delete"
	VirusHandleQuarantine VirusHandle = "quarantine"
)

// Policy is the process-wide disposition configuration, read-only after
// startup (spec.md Design Notes §9's "global state").
type Policy struct {
	SpamBehavior SpamBehavior
	SpamHandle   SpamHandle
	Threshold    int64 // spec.md §3's spam.threshold, compared under "scoring" behavior

	VirusHandle VirusHandle

	NoisyHeaders         bool
	SpamSubjectPrefix    string
	NotifySender         bool
	NotifyRecipient      bool
	NotificationFrom     string
	NotificationTemplate string

	QuarantineDir        string
	ReinjectFailureDir   string
}

// Classify applies SpamBehavior to decide whether the accumulated score
// (already final, since the pipeline has finished running modules)
// should be treated as spam, independent of whether any module already
// raised a Spam exception outright. It is only consulted when the
// pipeline's status is still OK.
func (p Policy) Classify(score int64) filter.Status {
	switch p.SpamBehavior {
	case SpamBehaviorIgnore:
		return filter.StatusOK
	case SpamBehaviorStrict:
		if score < 0 {
			return filter.StatusSpam
		}
		return filter.StatusOK
	case SpamBehaviorScoring:
		if score <= p.Threshold {
			return filter.StatusSpam
		}
		return filter.StatusOK
	default:
		return filter.StatusOK
	}
}
