package saga

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/angelmondragon/library-catalog/pkg/enums"
	pkgerrors "github.com/angelmondragon/library-catalog/pkg/errors"
)

// ListStale returns up to limit non-terminal sagas that have not been written
// for at least olderThan, oldest first. The whole store is walked, so finished
// sagas waiting for their TTL never hide a stuck one. limit <= 0 means no cap.
func (o *orchestrator) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*Instance, error) {
	cutoff := o.now().Add(-olderThan)
	var stale []*Instance
	err := o.store.Walk(ctx, func(inst *Instance) bool {
		if inst.State.IsTerminal() || inst.UpdatedAt.After(cutoff) {
			return true
		}
		stale = append(stale, inst)
		return limit <= 0 || len(stale) < limit
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(stale, func(i, j int) bool {
		return stale[i].UpdatedAt.Before(stale[j].UpdatedAt)
	})
	return stale, nil
}

// Recover drives an interrupted saga to a terminal state. The first write is
// a compare-and-swap, so if the original worker is still running exactly one
// of the two proceeds and the other gets ErrVersionConflict.
func (o *orchestrator) Recover(ctx context.Context, sagaID string) (*Instance, error) {
	inst, err := o.store.Get(ctx, sagaID)
	if errors.Is(err, ErrNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "saga not found")
	}
	if err != nil {
		return nil, pkgerrors.WrapContext(err, pkgerrors.CodeDependency, "load saga")
	}
	if inst.State.IsTerminal() {
		return inst, nil
	}
	ctx = o.logg.WithSagaID(ctx, inst.SagaID)
	o.logg.Warn(o.logg.WithField(ctx, "state", inst.State), "recovering stale saga")

	switch {
	case inst.State == enums.SagaBookCreated:
		if err := o.transition(ctx, inst, enums.SagaCompleted, o.complete); err != nil {
			return nil, err
		}
		o.metrics.ObserveFinal(string(inst.State))
	case inst.State == enums.SagaCompensating:
		if err := o.save(ctx, inst, enums.SagaCompensating, nil); err != nil {
			return nil, err
		}
		if err := o.compensate(ctx, inst); err != nil {
			return nil, err
		}
	case isFailureState(inst.State):
		if err := o.finish(ctx, inst); err != nil {
			return nil, err
		}
	default:
		failed, ok := failureStateFor(inst.State)
		if !ok {
			return nil, fmt.Errorf("saga %s: cannot recover from %s", inst.SagaID, inst.State)
		}
		interrupted := inst.State
		err := o.transition(ctx, inst, failed, func(i *Instance) {
			if i.ErrorMessage == "" {
				i.ErrorMessage = fmt.Sprintf("saga interrupted in state %s", interrupted)
			}
		})
		if err != nil {
			return nil, err
		}
		if err := o.finish(ctx, inst); err != nil {
			return nil, err
		}
	}
	return inst, nil
}
