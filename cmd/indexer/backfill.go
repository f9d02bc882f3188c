package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"marketIndexer/internal/ingest"
	"marketIndexer/internal/model"
)

var errDeadLettered = errors.New("events dead-lettered")

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	from, _ := cmd.Flags().GetUint64("from")
	to, _ := cmd.Flags().GetUint64("to")

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, err := buildDeps(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.close()

	chainID, err := deps.ledger.ChainID(ctx)
	if err != nil {
		return err
	}
	if chainID != cfg.ChainID {
		return fmt.Errorf("chain id mismatch: ledger=%d configured=%d", chainID, cfg.ChainID)
	}

	if to == 0 {
		height, err := deps.ledger.CurrentHeight(ctx)
		if err != nil {
			return err
		}
		if height < cfg.Confirmations {
			return fmt.Errorf("chain height %d below confirmations %d", height, cfg.Confirmations)
		}
		to = height - cfg.Confirmations
	}
	if to < from {
		return fmt.Errorf("invalid range: from %d > to %d", from, to)
	}

	logger.Info("backfill start", zap.Uint64("from", from), zap.Uint64("to", to))
	if err := deps.pipeline.Backfill(ctx, from, to); err != nil {
		return err
	}
	if err := deps.pipeline.Flush(ctx); err != nil {
		return err
	}

	failed := deps.pipeline.FailedEvents()
	logger.Info("backfill complete",
		zap.Uint64("cursor", deps.pipeline.Cursor()),
		zap.Int("failed", len(failed)),
	)
	return reportDeadLetters(logger, deps.archive, failed)
}

// reportDeadLetters archives what a one-shot backfill could not apply. Any
// dead letter fails the command so scripts see a non-zero exit.
func reportDeadLetters(logger *zap.Logger, archive ingest.Archiver, failed []model.FailedEvent) error {
	if len(failed) == 0 {
		return nil
	}
	for _, ev := range failed {
		logger.Warn("event dead-lettered", zap.String("id", ev.Event.ID), zap.String("error", ev.Error))
	}
	if err := archive.Append(failed); err != nil {
		return fmt.Errorf("archive dead letters: %w", err)
	}
	return fmt.Errorf("%w: %d", errDeadLettered, len(failed))
}
