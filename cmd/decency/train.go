package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/busybox42/decency/internal/config"
	"github.com/busybox42/decency/internal/metrics"
	"github.com/busybox42/decency/internal/training"
	"github.com/busybox42/decency/internal/wiring"
)

var (
	trainLabel  string
	trainCorpus string
	trainDelete bool
	trainValkey string
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Feed a labeled corpus through every trainable module",
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainLabel, "label", "", "corpus label: spam|ham")
	trainCmd.Flags().StringVar(&trainCorpus, "corpus", "", "directory of message files to train on")
	trainCmd.Flags().BoolVar(&trainDelete, "delete-consumed", false, "remove each corpus file once every module has seen it")
	trainCmd.Flags().StringVar(&trainValkey, "ledger", "", "valkey address for the training outcome ledger (optional)")
	trainCmd.MarkFlagRequired("label")
	trainCmd.MarkFlagRequired("corpus")
}

func runTrain(cmd *cobra.Command, args []string) error {
	if trainLabel != string(training.LabelSpam) && trainLabel != string(training.LabelHam) {
		return fmt.Errorf("--label must be %q or %q", training.LabelSpam, training.LabelHam)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Logging.Level, cfg.Logging.Format)

	graph, err := wiring.Build(cfg, logger)
	if err != nil {
		return fmt.Errorf("build object graph: %w", err)
	}
	defer graph.Cache.Close()
	if graph.Statstore != nil {
		defer graph.Statstore.Close()
	}

	var ledger *metrics.LedgerStore
	if trainValkey != "" {
		ledger, err = metrics.NewLedgerStore(trainValkey)
		if err != nil {
			return fmt.Errorf("connect training ledger: %w", err)
		}
		defer ledger.Close()
	}

	driver := training.New(graph.Modules, ledger, logger)
	driver.DeleteConsumed = trainDelete

	outcomes, err := driver.Run(context.Background(), trainCorpus, training.Label(trainLabel))
	if err != nil {
		return fmt.Errorf("training run: %w", err)
	}

	for module, o := range outcomes {
		fmt.Printf("%-24s not_required=%-5d trained=%-5d errors=%-5d\n", module, o.NotRequired, o.Trained, o.Errors)
	}
	return nil
}
