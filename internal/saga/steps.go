package saga

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/angelmondragon/library-catalog/internal/participants"
	"github.com/angelmondragon/library-catalog/pkg/enums"
	"github.com/angelmondragon/library-catalog/pkg/resilience"
)

// call runs one remote action and describes it as a Step. Retries performed
// by the resilience policy are counted on the step.
func (o *orchestrator) call(ctx context.Context, service enums.SagaStepResource, action enums.SagaStepAction, fn func(context.Context) (any, error)) (Step, error) {
	var (
		mu      sync.Mutex
		retries int
	)
	ctx = resilience.WithRetryObserver(ctx, func(operation string, attempt int, err error) {
		mu.Lock()
		retries++
		mu.Unlock()
		o.logg.Warn(o.logg.WithFields(ctx, map[string]any{
			"service":   service,
			"operation": operation,
			"attempt":   attempt,
			"error":     errString(err),
		}), "retrying remote call")
	})

	started := o.now()
	resp, err := fn(ctx)
	elapsed := o.now().Sub(started)

	step := Step{
		StepName:   stepName(action, service),
		Service:    service,
		Action:     action,
		ExecutedAt: started,
		DurationMS: elapsed.Milliseconds(),
		Success:    err == nil,
	}
	mu.Lock()
	step.retries = retries
	mu.Unlock()
	if err != nil {
		step.ErrorMessage = err.Error()
	} else if resp != nil {
		if raw, merr := json.Marshal(resp); merr == nil {
			step.Response = raw
		}
	}
	o.metrics.ObserveStep(string(service), string(action), step.Success, elapsed)
	return step, err
}

// findOrCreate looks the entity up by name and creates it only when the
// lookup reports not found. Either way a single step is recorded, whose
// action tells whether the entity was found or created.
func (o *orchestrator) findOrCreate(ctx context.Context, service enums.SagaStepResource, find, create func(context.Context) (any, error)) (Step, error) {
	found, err := o.call(ctx, service, enums.StepActionFind, find)
	if err == nil {
		return found, nil
	}
	if !errors.Is(err, participants.ErrNotFound) {
		return found, err
	}
	step, err := o.call(ctx, service, enums.StepActionCreate, create)
	step.retries += found.retries
	return step, err
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
