package saga

import (
	"context"
	"fmt"

	"github.com/angelmondragon/library-catalog/pkg/enums"
	"go.uber.org/multierr"
)

// compensationTargets lists the entities the saga created, newest first.
// Found entities and the book are never deleted.
func compensationTargets(inst *Instance) []enums.SagaStepResource {
	var targets []enums.SagaStepResource
	for i := len(inst.Steps) - 1; i >= 0; i-- {
		s := inst.Steps[i]
		if !s.Success || s.Action != enums.StepActionCreate || s.Service == enums.StepResourceBook {
			continue
		}
		if inst.hasCreated(s.Service) && !inst.deleted(s.Service) {
			targets = append(targets, s.Service)
		}
	}
	return targets
}

// compensate deletes created entities in reverse creation order. Every delete
// is attempted even after an earlier one failed; each outcome is persisted
// as a step before the next call.
func (o *orchestrator) compensate(ctx context.Context, inst *Instance) error {
	var errs error
	for _, target := range compensationTargets(inst) {
		step, err := o.call(ctx, target, enums.StepActionDelete, o.deleter(inst, target))
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("delete %s: %w", target, err))
		}
		record := func(i *Instance) {
			i.Steps = append(i.Steps, step)
			i.RetryCount += step.retries
		}
		if perr := o.save(ctx, inst, enums.SagaCompensating, record); perr != nil {
			return perr
		}
	}

	if errs == nil {
		if err := o.transition(ctx, inst, enums.SagaCompensated, o.complete); err != nil {
			return err
		}
		o.metrics.ObserveFinal(string(inst.State))
		o.logg.Warn(o.logg.WithField(ctx, "state", inst.State), "saga compensated")
		return nil
	}

	cause := inst.ErrorMessage
	err := o.transition(ctx, inst, enums.SagaCompensationFailed, func(i *Instance) {
		o.complete(i)
		i.ErrorMessage = composeCompensationError(cause, errs)
	})
	if err != nil {
		return err
	}
	o.metrics.ObserveFinal(string(inst.State))
	o.logg.Error(o.logg.WithField(ctx, "state", inst.State), "saga compensation failed, manual intervention required", errs)
	return nil
}

func (o *orchestrator) deleter(inst *Instance, target enums.SagaStepResource) func(context.Context) (any, error) {
	switch target {
	case enums.StepResourceAuthor:
		number := *inst.AuthorNumber
		return func(ctx context.Context) (any, error) {
			return nil, o.authors.DeleteAuthor(ctx, number)
		}
	default:
		id := *inst.GenreID
		return func(ctx context.Context) (any, error) {
			return nil, o.genres.DeleteGenre(ctx, id)
		}
	}
}

func composeCompensationError(cause string, errs error) string {
	msg := "compensation failed: " + errs.Error()
	if cause == "" {
		return msg
	}
	return cause + "; " + msg
}
