package action

import (
	"context"
	"fmt"

	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
	"github.com/daotlresearch/smart-data-lake-builder/internal/transform"
)

// Exec performs steps 6-8 of the transition using the main input and
// mode result the Init phase already computed: it re-reads the current
// inputs (now materialised), applies the filter from the mode result,
// runs the transformation, writes every output, records metrics, and
// invokes the execution mode's PostExec hook.
func (k *Kernel) Exec(ctx context.Context, a *Action, prep PrepareResult, init InitResult, currentInputs map[idtype.DataObjectID]subfeed.SubFeed, mc ModeContext) (ActionState, map[idtype.DataObjectID]subfeed.SubFeed, error) {
	switch init.Outcome {
	case OutcomeSkipped:
		return ActionState{ActionID: a.ID, State: StateSkipped}, init.OutputSubFeeds, nil
	case OutcomeNoDataContinue:
		return ActionState{ActionID: a.ID, State: StateSucceeded, Message: "no data to process"}, init.OutputSubFeeds, nil
	case OutcomeNoDataStopRun:
		state := ActionState{ActionID: a.ID, State: StateSucceeded, Message: "no data to process, run stopping"}
		return state, init.OutputSubFeeds, sdlberrors.NewNoDataToProcessStop(a.ID, "no data to process")
	}

	payloads, err := k.readInputs(ctx, a, init, currentInputs)
	if err != nil {
		return ActionState{ActionID: a.ID, State: StateFailed, FailureKind: FailureKindPrecondition, Message: err.Error()}, nil, sdlberrors.NewPreconditionError(a.ID.String(), err.Error(), err)
	}

	outputPayloads, err := k.runTransform(a, payloads, mc.ExprContext)
	if err != nil {
		wrapped := sdlberrors.NewTaskFailed(a.ID, err)
		return ActionState{ActionID: a.ID, State: StateFailed, FailureKind: FailureKindTaskFailed, Message: err.Error()}, nil, wrapped
	}

	metricsOut, err := k.writeOutputs(ctx, a, outputPayloads)
	if err != nil {
		wrapped := sdlberrors.NewTaskFailed(a.ID, err)
		return ActionState{ActionID: a.ID, State: StateFailed, FailureKind: FailureKindTaskFailed, Message: err.Error()}, nil, wrapped
	}

	if a.Mode != nil {
		req := k.buildRequest(a, prep, init.MainInputID, currentInputs[init.MainInputID], mc)
		mainOutputSubFeed := init.OutputSubFeeds[prep.MainOutputID]
		if err := a.Mode.PostExec(ctx, req, currentInputs[init.MainInputID], mainOutputSubFeed); err != nil {
			return ActionState{ActionID: a.ID, State: StateFailed, FailureKind: FailureKindTaskFailed, Message: err.Error()}, nil, sdlberrors.NewTaskFailed(a.ID, err)
		}
	}

	return ActionState{ActionID: a.ID, State: StateSucceeded, Metrics: metricsOut}, init.OutputSubFeeds, nil
}

func (k *Kernel) readInputs(ctx context.Context, a *Action, init InitResult, currentInputs map[idtype.DataObjectID]subfeed.SubFeed) (map[string]subfeed.Payload, error) {
	payloads := make(map[string]subfeed.Payload, len(a.Inputs))
	for _, id := range a.Inputs {
		obj, err := k.Registry.RequireCapability(id, dataobject.CapabilityRead)
		if err != nil {
			return nil, err
		}
		readable := obj.(dataobject.Readable)

		var values []partition.Values
		var filter *string
		if !a.InputIDsToIgnoreFilter[id] {
			values = k.selectedValues(a, init, id, currentInputs)
			filter = init.ModeResult.Filter
		}

		payload, err := readable.Read(ctx, values, filter)
		if err != nil {
			return nil, fmt.Errorf("reading input %s: %w", id, err)
		}
		payloads[id.String()] = payload
	}
	return payloads, nil
}

// selectedValues reports the partition values that should restrict the read
// of input id: the execution mode's own selection for the main input (e.g.
// PartitionDiffMode's missing partitions, narrower than whatever the inbound
// subfeed carried), and each other input's own current subfeed values
// otherwise.
func (k *Kernel) selectedValues(a *Action, init InitResult, id idtype.DataObjectID, currentInputs map[idtype.DataObjectID]subfeed.SubFeed) []partition.Values {
	if a.Mode != nil && id == init.MainInputID {
		return init.ModeResult.PartitionValues
	}
	return currentInputs[id].PartitionValues
}

func (k *Kernel) runTransform(a *Action, payloads map[string]subfeed.Payload, exprCtx condition.Context) (map[string]subfeed.Payload, error) {
	var out map[string]subfeed.Payload
	var err error

	if a.HasTransform {
		out, err = a.Transform.Run(resolveOptions(a.StaticOptions, exprCtx), payloads)
		if err != nil {
			return nil, err
		}
	} else {
		if len(a.Inputs) != 1 || len(a.Outputs) != 1 {
			return nil, fmt.Errorf("action has no transformation but does not declare exactly one input and one output")
		}
		in, ok := payloads[a.Inputs[0].String()]
		if !ok {
			return nil, fmt.Errorf("input %s payload missing", a.Inputs[0])
		}
		out = map[string]subfeed.Payload{a.Outputs[0].String(): in}
	}

	for _, id := range a.Outputs {
		if _, ok := out[id.String()]; !ok {
			return nil, fmt.Errorf("declared output %s missing from transformation result", id)
		}
	}
	if len(out) != len(a.Outputs) {
		return nil, fmt.Errorf("transformation produced unexpected output names")
	}
	return out, nil
}

// resolveOptions substitutes "%{name}" tokens in every StaticOptions value
// against the run's expression-context fields (runId, attemptId, feed) and
// the other static options, so a value like "SELECT * WHERE run=%{runId}"
// resolves before reaching the transform chain.
func resolveOptions(static map[string]string, exprCtx condition.Context) map[string]string {
	if len(static) == 0 {
		return static
	}
	lookup := map[string]string{
		"runId":     fmt.Sprint(exprCtx.RunID),
		"attemptId": fmt.Sprint(exprCtx.AttemptID),
		"feed":      exprCtx.Feed,
	}
	for k, v := range static {
		lookup[k] = v
	}
	out := make(map[string]string, len(static))
	for k, v := range static {
		out[k] = transform.SubstituteOptions(v, lookup)
	}
	return out
}

func (k *Kernel) writeOutputs(ctx context.Context, a *Action, payloads map[string]subfeed.Payload) (map[string]float64, error) {
	merged := make(map[string]float64)
	for _, id := range a.Outputs {
		payload := payloads[id.String()]

		if a.SaveMode == SaveModeMerge {
			obj, err := k.Registry.RequireCapability(id, dataobject.CapabilityMergeable)
			if err != nil {
				return nil, err
			}
			if err := obj.(dataobject.Mergeable).Merge(ctx, payload); err != nil {
				return nil, fmt.Errorf("merging output %s: %w", id, err)
			}
		} else {
			obj, err := k.Registry.RequireCapability(id, dataobject.CapabilityWrite)
			if err != nil {
				return nil, err
			}
			if err := obj.(dataobject.Writable).Write(ctx, payload); err != nil {
				return nil, fmt.Errorf("writing output %s: %w", id, err)
			}
		}

		if k.Metrics != nil {
			k.Metrics.Record(a.ID, id, map[string]float64{"writes": 1})
		}
		merged["writes"]++
	}
	return merged, nil
}
