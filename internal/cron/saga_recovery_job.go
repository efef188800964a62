package cron

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/library-catalog/internal/saga"
	"github.com/angelmondragon/library-catalog/pkg/logger"
)

const (
	defaultStaleAfter       = 10 * time.Minute
	defaultRecoveryBatch    = 100
	defaultRecoveryParallel = 4
)

type sagaRecoverer interface {
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*saga.Instance, error)
	Recover(ctx context.Context, sagaID string) (*saga.Instance, error)
}

type SagaRecoveryJobParams struct {
	Logger       *logger.Logger
	Orchestrator sagaRecoverer
	StaleAfter   time.Duration
	Batch        int
	Parallelism  int
}

// NewSagaRecoveryJob drives sagas whose worker died mid-flight to a terminal
// state. A saga still owned by a live worker loses the version check and is
// left alone.
func NewSagaRecoveryJob(params SagaRecoveryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orchestrator == nil {
		return nil, fmt.Errorf("saga orchestrator required")
	}
	staleAfter := params.StaleAfter
	if staleAfter <= 0 {
		staleAfter = defaultStaleAfter
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultRecoveryBatch
	}
	parallel := params.Parallelism
	if parallel <= 0 {
		parallel = defaultRecoveryParallel
	}
	return &sagaRecoveryJob{
		logg:       params.Logger,
		sagas:      params.Orchestrator,
		staleAfter: staleAfter,
		batch:      batch,
		parallel:   parallel,
	}, nil
}

type sagaRecoveryJob struct {
	logg       *logger.Logger
	sagas      sagaRecoverer
	staleAfter time.Duration
	batch      int
	parallel   int
}

func (j *sagaRecoveryJob) Name() string { return "saga-recovery" }

func (j *sagaRecoveryJob) Run(ctx context.Context) error {
	stale, err := j.sagas.ListStale(ctx, j.staleAfter, j.batch)
	if err != nil {
		return fmt.Errorf("list stale sagas: %w", err)
	}

	var recovered, skipped, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.parallel)
	for _, inst := range stale {
		sagaID := inst.SagaID
		from := inst.State
		g.Go(func() error {
			sagaCtx := j.logg.WithSagaID(gctx, sagaID)
			sagaCtx = j.logg.WithField(sagaCtx, "from_state", from)
			final, err := j.sagas.Recover(sagaCtx, sagaID)
			switch {
			case errors.Is(err, saga.ErrVersionConflict), errors.Is(err, saga.ErrNotFound):
				skipped.Add(1)
				j.logg.Info(sagaCtx, "saga recovery skipped")
			case err != nil:
				failed.Add(1)
				j.logg.Error(sagaCtx, "saga recovery failed", err)
			default:
				recovered.Add(1)
				j.logg.Info(j.logg.WithField(sagaCtx, "state", final.State), "saga recovered")
			}
			// one saga never stops the rest
			return nil
		})
	}
	_ = g.Wait()

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"stale":     len(stale),
		"recovered": recovered.Load(),
		"skipped":   skipped.Load(),
		"failed":    failed.Load(),
	})
	j.logg.Info(logCtx, "saga recovery sweep complete")
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("%d sagas could not be recovered", n)
	}
	return nil
}
