// Package metrics persists the training driver's per-module outcome
// counters (spec.md §4.7) across runs, so a later training run can
// report deltas instead of only its own session's totals.
package metrics

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
)

// ModuleOutcome holds the three training-outcome buckets spec.md §4.7
// defines: not_required (the module already classified correctly),
// trained (a training command variant was invoked), errors.
type ModuleOutcome struct {
	NotRequired int64     `json:"not_required"`
	Trained     int64     `json:"trained"`
	Errors      int64     `json:"errors"`
	LastRunAt   time.Time `json:"last_run_at"`
}

// LedgerStore is a Valkey-backed accumulator of ModuleOutcome counters,
// one hash per module name.
type LedgerStore struct {
	client valkey.Client
	prefix string
}

// NewLedgerStore dials a Valkey/Redis-protocol server at addr.
func NewLedgerStore(addr string) (*LedgerStore, error) {
	client, err := valkey.NewClient(valkey.ClientOption{
		InitAddress: []string{addr},
	})
	if err != nil {
		return nil, err
	}

	return &LedgerStore{
		client: client,
		prefix: "decency:training:",
	}, nil
}

// Close releases the underlying connection.
func (s *LedgerStore) Close() {
	s.client.Close()
}

// RecordNotRequired increments the not_required bucket for module.
func (s *LedgerStore) RecordNotRequired(ctx context.Context, module string) error {
	return s.bump(ctx, module, "not_required")
}

// RecordTrained increments the trained bucket for module.
func (s *LedgerStore) RecordTrained(ctx context.Context, module string) error {
	return s.bump(ctx, module, "trained")
}

// RecordError increments the errors bucket for module.
func (s *LedgerStore) RecordError(ctx context.Context, module string) error {
	return s.bump(ctx, module, "errors")
}

func (s *LedgerStore) bump(ctx context.Context, module, bucket string) error {
	key := s.prefix + module
	cmds := []valkey.Completed{
		s.client.B().Hincrby().Key(key).Field(bucket).Increment(1).Build(),
		s.client.B().Hset().Key(key).FieldValue().FieldValue("last_run_at", time.Now().Format(time.RFC3339)).Build(),
	}
	for _, cmd := range cmds {
		if err := s.client.Do(ctx, cmd).Error(); err != nil {
			return err
		}
	}
	return nil
}

// Outcome retrieves the accumulated counters for module.
func (s *LedgerStore) Outcome(ctx context.Context, module string) (ModuleOutcome, error) {
	key := s.prefix + module
	result, err := s.client.Do(ctx, s.client.B().Hgetall().Key(key).Build()).AsStrMap()
	if err != nil {
		return ModuleOutcome{}, err
	}

	var out ModuleOutcome
	out.NotRequired, _ = strconv.ParseInt(result["not_required"], 10, 64)
	out.Trained, _ = strconv.ParseInt(result["trained"], 10, 64)
	out.Errors, _ = strconv.ParseInt(result["errors"], 10, 64)
	out.LastRunAt, _ = time.Parse(time.RFC3339, result["last_run_at"])
	return out, nil
}

// Snapshot serializes every tracked module's outcome for reporting at
// the end of a training run.
func (s *LedgerStore) Snapshot(ctx context.Context, modules []string) (map[string]ModuleOutcome, error) {
	out := make(map[string]ModuleOutcome, len(modules))
	for _, m := range modules {
		outcome, err := s.Outcome(ctx, m)
		if err != nil {
			continue
		}
		out[m] = outcome
	}
	return out, nil
}

// MarshalReport renders the snapshot as indented JSON for CLI output.
func MarshalReport(snapshot map[string]ModuleOutcome) ([]byte, error) {
	return json.MarshalIndent(snapshot, "", "  ")
}
