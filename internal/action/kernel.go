// Package action implements the action kernel: the per-action state
// machine and the eight-step transition body shared by the Init and Exec
// scheduler phases (subfeed conversion and projection, main-input/output
// selection, execution-mode application, user transformation, write and
// metrics collection).
package action

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/executionmode"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/logger"
	"github.com/daotlresearch/smart-data-lake-builder/internal/metrics"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// Kernel runs actions against a fully resolved data-object registry.
type Kernel struct {
	Registry *dataobject.Registry
	Metrics  *metrics.Collector
	Logger   *logger.Logger
}

// PrepareResult is what Prepare resolves once per action, reused by Init
// and Exec for the lifetime of the run.
type PrepareResult struct {
	MainInputCandidates []idtype.DataObjectID
	MainOutputID        idtype.DataObjectID
}

// Prepare validates that every declared input/output exists in the
// registry with the capabilities this action needs, and resolves the
// main-input candidate order and main output. No data is read.
func (k *Kernel) Prepare(ctx context.Context, a *Action) (PrepareResult, error) {
	for _, id := range a.Inputs {
		if _, err := k.Registry.RequireCapability(id, dataobject.CapabilityRead); err != nil {
			return PrepareResult{}, sdlberrors.NewConfigurationError(a.ID.String(), fmt.Sprintf("input %s: %v", id, err), err)
		}
	}

	requiredOutputCap := dataobject.CapabilityWrite
	if a.SaveMode == SaveModeMerge {
		requiredOutputCap = dataobject.CapabilityMergeable
	}
	for _, id := range a.Outputs {
		if _, err := k.Registry.RequireCapability(id, requiredOutputCap); err != nil {
			return PrepareResult{}, sdlberrors.NewConfigurationError(a.ID.String(), fmt.Sprintf("output %s: %v", id, err), err)
		}
	}

	if len(a.Outputs) == 0 {
		return PrepareResult{}, sdlberrors.NewConfigurationError(a.ID.String(), "action declares no outputs", nil)
	}

	if a.AlternativeOutputID != nil {
		if _, err := k.Registry.RequireCapability(*a.AlternativeOutputID, dataobject.CapabilityPartitioned); err != nil {
			return PrepareResult{}, sdlberrors.NewConfigurationError(a.ID.String(), fmt.Sprintf("alternativeOutput %s: %v", *a.AlternativeOutputID, err), err)
		}
	}

	candidates := k.candidateOrder(a)

	mainOutput := a.Outputs[0]
	if a.MainOutputID != nil {
		mainOutput = *a.MainOutputID
	}

	return PrepareResult{MainInputCandidates: candidates, MainOutputID: mainOutput}, nil
}

// candidateOrder sorts inputs by descending partition-column count,
// breaking ties by declaration order.
func (k *Kernel) candidateOrder(a *Action) []idtype.DataObjectID {
	type scored struct {
		id    idtype.DataObjectID
		count int
		pos   int
	}
	scoredInputs := make([]scored, len(a.Inputs))
	for i, id := range a.Inputs {
		count := 0
		if obj, err := k.Registry.Get(id); err == nil {
			if p, ok := obj.(dataobject.Partitioned); ok {
				count = len(p.PartitionColumns())
			}
		}
		scoredInputs[i] = scored{id: id, count: count, pos: i}
	}
	sort.SliceStable(scoredInputs, func(i, j int) bool {
		return scoredInputs[i].count > scoredInputs[j].count
	})
	out := make([]idtype.DataObjectID, len(scoredInputs))
	for i, s := range scoredInputs {
		out[i] = s.id
	}
	return out
}

func (k *Kernel) resolveMainInput(a *Action, prep PrepareResult, inputs map[idtype.DataObjectID]subfeed.SubFeed) idtype.DataObjectID {
	if a.MainInputID != nil {
		return *a.MainInputID
	}
	for _, id := range prep.MainInputCandidates {
		if sf, ok := inputs[id]; ok && !sf.IsSkipped {
			return id
		}
	}
	if len(prep.MainInputCandidates) > 0 {
		return prep.MainInputCandidates[0]
	}
	return ""
}

// Outcome is the disposition of a transition beyond the plain
// success/failure split: it tells the scheduler whether to keep
// dispatching downstream actions normally, to treat this action's
// outputs as empty and let skip propagate, or to stop the run entirely
// while still recording this action as successful.
type Outcome string

const (
	OutcomeNormal          Outcome = "normal"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeNoDataContinue  Outcome = "no_data_continue"
	OutcomeNoDataStopRun   Outcome = "no_data_stop_run"
)

// InitResult is what Init computes: the resolved main input, the output
// subfeeds (with the execution mode's result already applied), and the
// mode result itself, cached for reuse during Exec.
type InitResult struct {
	MainInputID    idtype.DataObjectID
	OutputSubFeeds map[idtype.DataObjectID]subfeed.SubFeed
	ModeResult     subfeed.ModeResult
	Outcome        Outcome
}

// ModeContext carries the pieces of the execution context Init needs to
// evaluate expressions and run the execution mode that the kernel cannot
// derive from the action/registry alone.
type ModeContext struct {
	ExprContext      condition.Context
	CompareColumnMax func(ctx context.Context, obj dataobject.DataObject, column string) (string, bool, error)
}

// Init performs steps 1-6 of the transition: project inputs, resolve the
// main input, seed output subfeeds, apply the execution mode exactly
// once, and propagate skip status.
func (k *Kernel) Init(ctx context.Context, a *Action, prep PrepareResult, inputs map[idtype.DataObjectID]subfeed.SubFeed, mc ModeContext) (InitResult, error) {
	projected := k.projectInputs(a, inputs)

	mainInputID := k.resolveMainInput(a, prep, projected)
	mainInputSubFeed := projected[mainInputID]

	outputs := k.seedOutputs(a, mainInputSubFeed)

	var modeResult subfeed.ModeResult
	if a.Mode != nil {
		req := k.buildRequest(a, prep, mainInputID, mainInputSubFeed, mc)
		result, err := a.Mode.Apply(ctx, req)
		var dontStop *sdlberrors.NoDataToProcessDontStop
		var stopRun *sdlberrors.NoDataToProcessStop
		switch {
		case err == nil:
			modeResult = result
			for id, sf := range outputs {
				outputs[id] = sf.ApplyExecutionModeResult(modeResult)
			}
		case errors.As(err, &dontStop):
			return InitResult{MainInputID: mainInputID, OutputSubFeeds: emptySkippedOutputs(a, outputs), Outcome: OutcomeNoDataContinue}, nil
		case errors.As(err, &stopRun):
			return InitResult{MainInputID: mainInputID, OutputSubFeeds: emptySkippedOutputs(a, outputs), Outcome: OutcomeNoDataStopRun}, nil
		default:
			return InitResult{}, err
		}
	}

	if skipped, err := k.shouldSkip(a, projected, mc.ExprContext); err != nil {
		return InitResult{}, err
	} else if skipped {
		return InitResult{MainInputID: mainInputID, OutputSubFeeds: emptySkippedOutputs(a, outputs), Outcome: OutcomeSkipped}, nil
	}

	return InitResult{MainInputID: mainInputID, OutputSubFeeds: outputs, ModeResult: modeResult, Outcome: OutcomeNormal}, nil
}

func (k *Kernel) projectInputs(a *Action, inputs map[idtype.DataObjectID]subfeed.SubFeed) map[idtype.DataObjectID]subfeed.SubFeed {
	out := make(map[idtype.DataObjectID]subfeed.SubFeed, len(inputs))
	for id, sf := range inputs {
		obj, err := k.Registry.Get(id)
		if err == nil {
			if p, ok := obj.(dataobject.Partitioned); ok {
				sf = sf.Project(p.PartitionColumns())
			}
		}
		out[id] = sf
	}
	return out
}

func (k *Kernel) seedOutputs(a *Action, mainInput subfeed.SubFeed) map[idtype.DataObjectID]subfeed.SubFeed {
	values := applyPartitionTransform(a, mainInput.PartitionValues)
	out := make(map[idtype.DataObjectID]subfeed.SubFeed, len(a.Outputs))
	for _, id := range a.Outputs {
		sf := subfeed.New(id)
		sf.PartitionValues = values
		out[id] = sf
	}
	return out
}

func applyPartitionTransform(a *Action, values []partition.Values) []partition.Values {
	if a.PartitionTransform == nil {
		return values
	}
	out := make([]partition.Values, len(values))
	for i, v := range values {
		out[i] = a.PartitionTransform(v)
	}
	return out
}

func emptySkippedOutputs(a *Action, current map[idtype.DataObjectID]subfeed.SubFeed) map[idtype.DataObjectID]subfeed.SubFeed {
	out := make(map[idtype.DataObjectID]subfeed.SubFeed, len(current))
	for id, sf := range current {
		out[id] = sf.WithSkipped()
	}
	return out
}

func (k *Kernel) shouldSkip(a *Action, inputs map[idtype.DataObjectID]subfeed.SubFeed, exprCtx condition.Context) (bool, error) {
	if len(a.Inputs) == 0 {
		return false, nil
	}
	allSkipped := true
	for _, id := range a.Inputs {
		if sf, ok := inputs[id]; !ok || !sf.IsSkipped {
			allSkipped = false
			break
		}
	}
	if !allSkipped {
		return false, nil
	}
	if a.ExecutionCondition == "" {
		return true, nil
	}
	pass, err := condition.Evaluate(a.ExecutionCondition, exprCtx)
	if err != nil {
		return false, fmt.Errorf("action: evaluating executionCondition: %w", err)
	}
	return !pass, nil
}

func (k *Kernel) buildRequest(a *Action, prep PrepareResult, mainInputID idtype.DataObjectID, mainInputSubFeed subfeed.SubFeed, mc ModeContext) executionmode.Request {
	var mainInput, mainOutput, alternativeOutput dataobject.DataObject
	if obj, err := k.Registry.Get(mainInputID); err == nil {
		mainInput = obj
	}
	if obj, err := k.Registry.Get(prep.MainOutputID); err == nil {
		mainOutput = obj
	}
	if a.AlternativeOutputID != nil {
		if obj, err := k.Registry.Get(*a.AlternativeOutputID); err == nil {
			alternativeOutput = obj
		}
	}
	return executionmode.Request{
		ActionID:           a.ID,
		MainInput:          mainInput,
		MainOutput:         mainOutput,
		AlternativeOutput:  alternativeOutput,
		MainInputSubFeed:   mainInputSubFeed,
		PartitionTransform: a.PartitionTransform,
		ExprContext:        mc.ExprContext,
		CompareColumnMax:   mc.CompareColumnMax,
	}
}
