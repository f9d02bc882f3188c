package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"marketIndexer/internal/chain"
	"marketIndexer/internal/config"
	"marketIndexer/internal/ingest"
	"marketIndexer/internal/market"
	"marketIndexer/internal/metrics"
	"marketIndexer/internal/model"
	"marketIndexer/internal/storage"
	"marketIndexer/internal/storage/memory"
	"marketIndexer/internal/storage/postgres"
)

type deps struct {
	client     *chain.Client
	ledger     *chain.Ledger
	store      storage.StateStore
	metrics    *metrics.Metrics
	pipeline   *ingest.Pipeline
	collateral model.TokenMeta
	archive    *storage.FailedArchive
	closeStore func()
}

func (d *deps) close() {
	if d.archive != nil {
		d.archive.Close()
	}
	if d.closeStore != nil {
		d.closeStore()
	}
	d.client.Close()
}

func buildDeps(ctx context.Context, cfg config.Config, logger *zap.Logger) (*deps, error) {
	contract, err := chain.ParseAddress(cfg.Contract)
	if err != nil {
		return nil, err
	}
	collateral, hasCollateral, err := chain.ParseOptionalAddress(cfg.Collateral)
	if err != nil {
		return nil, err
	}

	client, err := chain.NewClient(ctx, cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	d := &deps{client: client, metrics: metrics.New()}

	decoder, err := market.NewDecoder()
	if err != nil {
		d.close()
		return nil, err
	}
	d.ledger = chain.NewLedger(client, decoder, cfg.ChainID, contract, logger)

	if cfg.PGDSN != "" {
		store, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			d.close()
			return nil, err
		}
		d.store, d.closeStore = store, store.Close
	} else {
		store, err := memory.New(cfg.CursorFile)
		if err != nil {
			d.close()
			return nil, err
		}
		d.store = store
		logger.Warn("no pg-dsn configured, state is kept in memory", zap.String("cursor_file", cfg.CursorFile))
	}

	if hasCollateral {
		metaCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		meta, err := market.FetchTokenMeta(metaCtx, d.ledger, collateral, logger)
		cancel()
		if err != nil {
			logger.Warn("collateral metadata unavailable, amounts stay raw", zap.Error(err))
		} else {
			d.collateral = meta
		}
	}

	d.archive = storage.NewFailedArchive(cfg.FailedArchive)
	d.pipeline, err = ingest.NewPipeline(cfg.Pipeline(), d.ledger, d.store, logger,
		ingest.WithDecoder(decoder),
		ingest.WithMetrics(d.metrics),
		ingest.WithArchive(d.archive),
	)
	if err != nil {
		d.close()
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	return d, nil
}
