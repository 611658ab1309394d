package pipeline

import "time"

// ModuleStat is one `(module, status, score_delta, elapsed)` record
// emitted per module invocation, per spec.md §4.2 step 1g.
type ModuleStat struct {
	Module     string
	Status     string // upper-cased: OK, SPAM, VIRUS, DROP, TIMEOUT, FILETOOBIG, ERROR
	ScoreDelta int64
	Elapsed    time.Duration
}

// RunStats aggregates every ModuleStat from one pipeline run, handed to
// callers (metrics, logging) after Run returns.
type RunStats struct {
	Modules []ModuleStat
}

func (r *RunStats) record(stat ModuleStat) {
	r.Modules = append(r.Modules, stat)
}
