// Package training implements the offline training driver: feeding a
// labeled corpus into every Trainable filter module, skipping modules
// that already classify a sample correctly (spec.md §4.7).
package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/busybox42/decency/internal/filter"
	"github.com/busybox42/decency/internal/metrics"
	"github.com/busybox42/decency/internal/session"
)

// Label is the corpus label a sample is trained under.
type Label string

const (
	LabelSpam Label = "spam"
	LabelHam  Label = "ham"
)

// Outcome aggregates one run's per-module counters, mirroring
// spec.md §4.7's "not_required/trained/errors" buckets.
type Outcome struct {
	NotRequired int
	Trained     int
	Errors      int
}

// Driver runs corpora through a fixed set of Trainable modules.
type Driver struct {
	modules []filter.Module
	ledger  *metrics.LedgerStore
	logger  *slog.Logger

	// DeleteConsumed, when true, removes each corpus file after it has
	// been handed to every module; otherwise files are left in place.
	DeleteConsumed bool
}

// New builds a Driver over modules; ledger may be nil to skip
// persisted outcome tracking.
func New(modules []filter.Module, ledger *metrics.LedgerStore, logger *slog.Logger) *Driver {
	return &Driver{modules: modules, ledger: ledger, logger: logger.With("component", "training")}
}

// Run feeds every file under corpusDir through all trainable modules
// under the given label, returning the aggregated per-module outcome.
func (d *Driver) Run(ctx context.Context, corpusDir string, label Label) (map[string]Outcome, error) {
	entries, err := os.ReadDir(corpusDir)
	if err != nil {
		return nil, fmt.Errorf("training: read corpus dir %s: %w", corpusDir, err)
	}

	outcomes := make(map[string]Outcome)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(corpusDir, entry.Name())
		if err := d.trainOne(ctx, path, label, outcomes); err != nil {
			d.logger.Error("training sample failed", "path", path, "error", err)
			continue
		}
		if d.DeleteConsumed {
			os.Remove(path)
		}
	}

	return outcomes, nil
}

func (d *Driver) trainOne(ctx context.Context, path string, label Label, outcomes map[string]Outcome) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	for _, m := range d.modules {
		t, ok := m.(filter.Trainable)
		if !ok || t.TrainDisabled() {
			continue
		}

		sess := session.New(filepath.Base(path), path, info.Size(), "training@localhost", []string{"training@localhost"})

		o := outcomes[m.Name()]

		// Step (b): check whether the module already classifies this
		// sample correctly without training.
		handleErr := m.Handle(ctx, sess)
		correct := sampleAlreadyCorrect(sess, handleErr, label)

		if correct {
			o.NotRequired++
			outcomes[m.Name()] = o
			if d.ledger != nil {
				_ = d.ledger.RecordNotRequired(ctx, m.Name())
			}
			continue
		}

		// Step (c): otherwise invoke the appropriate training variant.
		var trainErr error
		switch label {
		case LabelSpam:
			trainErr = t.LearnSpam(ctx, sess)
		case LabelHam:
			trainErr = t.LearnHam(ctx, sess)
		}

		if trainErr != nil {
			o.Errors++
			outcomes[m.Name()] = o
			d.logger.Error("module training failed", "module", m.Name(), "path", path, "error", trainErr)
			if d.ledger != nil {
				_ = d.ledger.RecordError(ctx, m.Name())
			}
			continue
		}

		o.Trained++
		outcomes[m.Name()] = o
		if d.ledger != nil {
			_ = d.ledger.RecordTrained(ctx, m.Name())
		}
	}

	return nil
}

// sampleAlreadyCorrect implements spec.md §4.7's correctness test:
// "correct = spam-labeled sample gets negative score; ham-labeled
// sample gets non-negative score". An outright Spam/Virus exception on
// a spam sample also counts as already-correct.
func sampleAlreadyCorrect(sess *session.MessageSession, handleErr error, label Label) bool {
	if handleErr != nil {
		if label != LabelSpam {
			return false
		}
		var spamErr *filter.SpamError
		var virusErr *filter.VirusError
		return errors.As(handleErr, &spamErr) || errors.As(handleErr, &virusErr)
	}

	switch label {
	case LabelSpam:
		return sess.SpamScore() < 0
	case LabelHam:
		return sess.SpamScore() >= 0
	default:
		return false
	}
}
