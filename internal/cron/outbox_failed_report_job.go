package cron

import (
	"context"
	"fmt"

	"github.com/angelmondragon/library-catalog/pkg/enums"
	"github.com/angelmondragon/library-catalog/pkg/logger"
	"github.com/angelmondragon/library-catalog/pkg/metrics"
)

type outboxStatusCounter interface {
	CountByStatus(ctx context.Context) (map[enums.OutboxStatus]int64, error)
}

type OutboxFailedReportJobParams struct {
	Logger     *logger.Logger
	Repository outboxStatusCounter
	Metrics    *metrics.OutboxMetrics
}

// NewOutboxFailedReportJob publishes the outbox backlog per status and warns
// when FAILED rows are waiting for a manual replay.
func NewOutboxFailedReportJob(params OutboxFailedReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	return &outboxFailedReportJob{
		logg:    params.Logger,
		repo:    params.Repository,
		metrics: params.Metrics,
	}, nil
}

type outboxFailedReportJob struct {
	logg    *logger.Logger
	repo    outboxStatusCounter
	metrics *metrics.OutboxMetrics
}

func (j *outboxFailedReportJob) Name() string { return "outbox-failed-report" }

func (j *outboxFailedReportJob) Run(ctx context.Context) error {
	counts, err := j.repo.CountByStatus(ctx)
	if err != nil {
		return fmt.Errorf("count outbox rows: %w", err)
	}
	failed := counts[enums.OutboxStatusFailed]
	j.metrics.SetFailedBacklog(failed)

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"pending":   counts[enums.OutboxStatusPending],
		"published": counts[enums.OutboxStatusPublished],
		"failed":    failed,
	})
	if failed > 0 {
		j.logg.Warn(logCtx, "outbox has failed events awaiting replay")
		return nil
	}
	j.logg.Info(logCtx, "outbox backlog report complete")
	return nil
}
