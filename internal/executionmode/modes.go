package executionmode

import (
	"context"
	"fmt"

	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// FixedPartitionValues always processes a statically configured set of
// partition values, ignoring whatever the inbound subfeed carried.
type FixedPartitionValues struct {
	noopPostExec
	Values []partition.Values
}

func (m FixedPartitionValues) Kind() Kind { return KindFixedPartitionValues }

func (m FixedPartitionValues) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	if len(m.Values) == 0 {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "FixedPartitionValues: values must not be empty", nil)
	}
	return subfeed.ModeResult{PartitionValues: m.Values}, nil
}

// ProcessAllMode ignores partition values entirely and processes the
// whole data object every run.
type ProcessAllMode struct{ noopPostExec }

func (m ProcessAllMode) Kind() Kind { return KindProcessAll }

func (m ProcessAllMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	return subfeed.ModeResult{}, nil
}

// FailIfNoPartitionValuesMode passes the inbound subfeed's partition
// values through unchanged, but fails the action outright if they are empty.
type FailIfNoPartitionValuesMode struct{ noopPostExec }

func (m FailIfNoPartitionValuesMode) Kind() Kind { return KindFailIfNoPartitionValues }

func (m FailIfNoPartitionValuesMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	if !req.MainInputSubFeed.HasPartitionValues() {
		return subfeed.ModeResult{}, sdlberrors.NewPreconditionError(req.ActionID.String(), "no partition values received and FailIfNoPartitionValuesMode is configured", nil)
	}
	return subfeed.ModeResult{PartitionValues: req.MainInputSubFeed.PartitionValues}, nil
}

// CustomPartitionMode delegates partition-value selection to a
// user-supplied function, for configurations whose partitioning logic
// does not fit one of the built-in modes.
type CustomPartitionMode struct {
	noopPostExec
	Func func(ctx context.Context, req Request) ([]partition.Values, error)
}

func (m CustomPartitionMode) Kind() Kind { return KindCustomPartition }

func (m CustomPartitionMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	if m.Func == nil {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "CustomPartitionMode: func must be set", nil)
	}
	values, err := m.Func(ctx, req)
	if err != nil {
		return subfeed.ModeResult{}, err
	}
	if len(values) == 0 {
		return subfeed.ModeResult{}, sdlberrors.NewNoDataToProcessDontStop(req.ActionID, "custom partition function returned no values")
	}
	return subfeed.ModeResult{PartitionValues: values}, nil
}

// PartitionDiffMode computes the partition values present on the main
// input but absent on the main output (or an alternative output, when
// configured), so only missing partitions are reprocessed. applyCondition
// and failCondition, when set, gate and veto the computed result.
// SelectExpression is carried on the mode but Apply does not evaluate it,
// so it does not narrow the computed partition values.
type PartitionDiffMode struct {
	noopPostExec
	PartitionColNb   int
	ApplyCondition   string
	FailCondition    string
	SelectExpression string
}

func (m PartitionDiffMode) Kind() Kind { return KindPartitionDiff }

func (m PartitionDiffMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	inputPartitioned, ok := req.MainInput.(dataobject.Partitioned)
	if !ok {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "PartitionDiffMode: main input must be partitioned", nil)
	}

	inputPartitions, err := inputPartitioned.ListPartitions(ctx)
	if err != nil {
		return subfeed.ModeResult{}, fmt.Errorf("executionmode: listing input partitions: %w", err)
	}

	output := req.MainOutput
	if req.AlternativeOutput != nil {
		output = req.AlternativeOutput
	}
	outputPartitioned, ok := output.(dataobject.Partitioned)
	if !ok {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "PartitionDiffMode: output must be partitioned", nil)
	}
	outputPartitions, err := outputPartitioned.ListPartitions(ctx)
	if err != nil {
		return subfeed.ModeResult{}, fmt.Errorf("executionmode: listing output partitions: %w", err)
	}

	if m.PartitionColNb > 0 {
		cols := inputPartitioned.PartitionColumns()
		inputPartitions = partition.RestrictColumns(inputPartitions, cols, m.PartitionColNb)
		outputPartitions = partition.RestrictColumns(outputPartitions, cols, m.PartitionColNb)
	}

	missing := partition.Diff(inputPartitions, outputPartitions)

	exprCtx := req.ExprContext.WithPartitionValues(req.MainInput.ID(), inputPartitions, output.ID(), outputPartitions, missing)

	if m.ApplyCondition != "" {
		apply, err := condition.Evaluate(m.ApplyCondition, exprCtx)
		if err != nil {
			return subfeed.ModeResult{}, fmt.Errorf("executionmode: evaluating applyCondition: %w", err)
		}
		if !apply {
			return subfeed.ModeResult{PartitionValues: inputPartitions}, nil
		}
	}

	if m.FailCondition != "" {
		fail, err := condition.Evaluate(m.FailCondition, exprCtx)
		if err != nil {
			return subfeed.ModeResult{}, fmt.Errorf("executionmode: evaluating failCondition: %w", err)
		}
		if fail {
			return subfeed.ModeResult{}, sdlberrors.NewFailCondition(req.ActionID, "failCondition evaluated true")
		}
	}

	if len(missing) == 0 {
		return subfeed.ModeResult{}, sdlberrors.NewNoDataToProcessDontStop(req.ActionID, "no missing partitions")
	}

	return subfeed.ModeResult{PartitionValues: missing}, nil
}

// ReplayMode wraps a ModeResult a prior attempt already computed for this
// action, returning it verbatim instead of recomputing partition
// selection. A recovery attempt uses it for every not-yet-succeeded
// action that had already selected partitions, so retrying targets
// exactly the same partitions rather than whatever the wrapped mode
// would pick this time (which, for PartitionDiffMode in particular,
// could differ once downstream output partitions have partially landed).
type ReplayMode struct {
	noopPostExec
	Result subfeed.ModeResult
}

func (m ReplayMode) Kind() Kind { return KindReplay }

func (m ReplayMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	return m.Result, nil
}

// SparkIncrementalMode selects rows newer than the current maximum value
// of a comparable column already present on the output, generalising
// PartitionDiffMode to non-partitioned incremental extraction (e.g. an
// auto-increment id or timestamp column instead of discrete partitions).
type SparkIncrementalMode struct {
	noopPostExec
	CompareCol string
}

func (m SparkIncrementalMode) Kind() Kind { return KindSparkIncremental }

func (m SparkIncrementalMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	if m.CompareCol == "" {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "SparkIncrementalMode: compareCol must be set", nil)
	}
	if req.CompareColumnMax == nil {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "SparkIncrementalMode: no column-read callback wired for this output", nil)
	}

	maxVal, found, err := req.CompareColumnMax(ctx, req.MainOutput, m.CompareCol)
	if err != nil {
		return subfeed.ModeResult{}, fmt.Errorf("executionmode: reading max %s: %w", m.CompareCol, err)
	}

	var filter string
	if found {
		filter = fmt.Sprintf("%s > %s", m.CompareCol, maxVal)
	} else {
		filter = fmt.Sprintf("%s IS NOT NULL", m.CompareCol)
	}
	return subfeed.ModeResult{Filter: &filter, BreakLineageHint: true}, nil
}

// SparkStreamingOnceMode runs exactly one micro-batch per invocation
// against a Streamable input, checkpointed at a fixed location so the
// next run resumes from where this one left off.
type SparkStreamingOnceMode struct {
	noopPostExec
	CheckpointLocation string
}

func (m SparkStreamingOnceMode) Kind() Kind { return KindSparkStreamingOnce }

func (m SparkStreamingOnceMode) Apply(ctx context.Context, req Request) (subfeed.ModeResult, error) {
	if m.CheckpointLocation == "" {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "SparkStreamingOnceMode: checkpointLocation must be set", nil)
	}
	streamable, ok := req.MainInput.(dataobject.Streamable)
	if !ok {
		return subfeed.ModeResult{}, sdlberrors.NewConfigurationError(req.ActionID.String(), "SparkStreamingOnceMode: main input must be streamable", nil)
	}

	payload, err := streamable.CreateStreamingDataFrame(ctx, m.CheckpointLocation)
	if err != nil {
		return subfeed.ModeResult{}, fmt.Errorf("executionmode: creating streaming dataframe: %w", err)
	}

	return subfeed.ModeResult{BreakLineageHint: true, Payload: payload}, nil
}
