package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/pharmalink-backend/internal/orders"
	"github.com/angelmondragon/pharmalink-backend/pkg/logger"
)

const (
	defaultOrderRetention   = 365 * 24 * time.Hour
	defaultOrderBatchSize   = 200
	defaultOrderMaxBatches  = 50
	maxConsecutiveBatchErrs = 3
)

// OrderRetentionJobParams configure the terminal order sweep.
type OrderRetentionJobParams struct {
	Logger      *logger.Logger
	DB          txRunner
	RepoFactory terminalOrderRepoFactory
	Window      time.Duration
	BatchSize   int
	MaxBatches  int
}

type terminalOrderDeleter interface {
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type terminalOrderRepoFactory func(tx *gorm.DB) terminalOrderDeleter

func defaultTerminalOrderRepo(tx *gorm.DB) terminalOrderDeleter {
	return orders.NewRepository(tx)
}

// NewOrderRetentionJob deletes delivered, cancelled and rejected orders not
// updated within Window, one transaction per batch.
func NewOrderRetentionJob(params OrderRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	factory := params.RepoFactory
	if factory == nil {
		factory = defaultTerminalOrderRepo
	}
	window := params.Window
	if window <= 0 {
		window = defaultOrderRetention
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultOrderBatchSize
	}
	maxBatches := params.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultOrderMaxBatches
	}
	return &orderRetentionJob{
		logg:       params.Logger,
		db:         params.DB,
		repo:       factory,
		window:     window,
		batchSize:  batch,
		maxBatches: maxBatches,
		now:        time.Now,
	}, nil
}

type orderRetentionJob struct {
	logg       *logger.Logger
	db         txRunner
	repo       terminalOrderRepoFactory
	window     time.Duration
	batchSize  int
	maxBatches int
	now        func() time.Time
}

func (j *orderRetentionJob) Name() string { return "order-retention" }

// Run stops after a short batch, after maxBatches, or after three failed
// batches in a row. Every batch error is returned.
func (j *orderRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	var (
		errs     error
		total    int
		batches  int
		failures int
	)
	for batches < j.maxBatches {
		if err := ctx.Err(); err != nil {
			errs = multierr.Append(errs, err)
			break
		}
		batches++

		var deleted int
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			n, err := j.repo(tx).DeleteTerminalBefore(ctx, cutoff, j.batchSize)
			deleted = n
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("order retention batch %d: %w", batches, err))
			failures++
			if failures >= maxConsecutiveBatchErrs {
				break
			}
			continue
		}
		failures = 0
		total += deleted
		if deleted < j.batchSize {
			break
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":         cutoff,
		"batches":        batches,
		"orders_deleted": total,
		"batch_errors":   len(multierr.Errors(errs)),
	}), "order retention sweep complete")
	return errs
}
