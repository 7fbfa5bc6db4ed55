package executionmode_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject/dataobjecttest"
	"github.com/daotlresearch/smart-data-lake-builder/internal/executionmode"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

func TestFixedPartitionValuesReturnsConfiguredValues(t *testing.T) {
	t.Parallel()

	vals := []partition.Values{partition.New(map[string]string{"dt": "20260101"})}
	mode := executionmode.FixedPartitionValues{Values: vals}
	result, err := mode.Apply(context.Background(), executionmode.Request{})
	require.NoError(t, err)
	require.Equal(t, vals, result.PartitionValues)
}

func TestFixedPartitionValuesRejectsEmptyConfig(t *testing.T) {
	t.Parallel()

	mode := executionmode.FixedPartitionValues{}
	_, err := mode.Apply(context.Background(), executionmode.Request{})
	require.Error(t, err)
	var cfgErr *sdlberrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestProcessAllModeReturnsEmptyResult(t *testing.T) {
	t.Parallel()

	mode := executionmode.ProcessAllMode{}
	result, err := mode.Apply(context.Background(), executionmode.Request{})
	require.NoError(t, err)
	require.Empty(t, result.PartitionValues)
	require.Nil(t, result.Filter)
}

func TestFailIfNoPartitionValuesModePassesThroughWhenPresent(t *testing.T) {
	t.Parallel()

	vals := []partition.Values{partition.New(map[string]string{"dt": "20260101"})}
	mode := executionmode.FailIfNoPartitionValuesMode{}
	req := executionmode.Request{
		MainInputSubFeed: subfeed.SubFeed{PartitionValues: vals},
	}
	result, err := mode.Apply(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, vals, result.PartitionValues)
}

func TestFailIfNoPartitionValuesModeFailsWhenEmpty(t *testing.T) {
	t.Parallel()

	mode := executionmode.FailIfNoPartitionValuesMode{}
	_, err := mode.Apply(context.Background(), executionmode.Request{})
	require.Error(t, err)
	var precondition *sdlberrors.PreconditionError
	require.ErrorAs(t, err, &precondition)
}

func TestCustomPartitionModeDelegatesToFunc(t *testing.T) {
	t.Parallel()

	want := []partition.Values{partition.New(map[string]string{"dt": "20260102"})}
	mode := executionmode.CustomPartitionMode{
		Func: func(ctx context.Context, req executionmode.Request) ([]partition.Values, error) {
			return want, nil
		},
	}
	result, err := mode.Apply(context.Background(), executionmode.Request{})
	require.NoError(t, err)
	require.Equal(t, want, result.PartitionValues)
}

func TestCustomPartitionModeNoDataWhenFuncReturnsEmpty(t *testing.T) {
	t.Parallel()

	mode := executionmode.CustomPartitionMode{
		Func: func(ctx context.Context, req executionmode.Request) ([]partition.Values, error) {
			return nil, nil
		},
	}
	_, err := mode.Apply(context.Background(), executionmode.Request{})
	var noData *sdlberrors.NoDataToProcessDontStop
	require.ErrorAs(t, err, &noData)
}

func TestPartitionDiffModeReturnsMissingPartitions(t *testing.T) {
	t.Parallel()

	input := dataobjecttest.New("src", []string{"dt"})
	output := dataobjecttest.New("tgt", []string{"dt"}).WithPrimaryKey("dt")

	ctx := context.Background()
	require.NoError(t, input.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
		{Partitions: partition.New(map[string]string{"dt": "20260102"}), Data: map[string]any{"dt": "20260102"}},
	}))
	require.NoError(t, output.Merge(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
	}))

	mode := executionmode.PartitionDiffMode{}
	result, err := mode.Apply(ctx, executionmode.Request{MainInput: input, MainOutput: output})
	require.NoError(t, err)
	require.Len(t, result.PartitionValues, 1)
	dt, ok := result.PartitionValues[0].Get("dt")
	require.True(t, ok)
	require.Equal(t, "20260102", dt)
}

func TestPartitionDiffModeNoDataWhenNothingMissing(t *testing.T) {
	t.Parallel()

	input := dataobjecttest.New("src", []string{"dt"})
	output := dataobjecttest.New("tgt", []string{"dt"}).WithPrimaryKey("dt")

	ctx := context.Background()
	row := dataobjecttest.Row{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}}
	require.NoError(t, input.Write(ctx, []dataobjecttest.Row{row}))
	require.NoError(t, output.Merge(ctx, []dataobjecttest.Row{row}))

	mode := executionmode.PartitionDiffMode{}
	_, err := mode.Apply(ctx, executionmode.Request{MainInput: input, MainOutput: output})
	var noData *sdlberrors.NoDataToProcessDontStop
	require.ErrorAs(t, err, &noData)
}

func TestPartitionDiffModeFailConditionStopsRun(t *testing.T) {
	t.Parallel()

	input := dataobjecttest.New("src", []string{"dt"})
	output := dataobjecttest.New("tgt", []string{"dt"}).WithPrimaryKey("dt")

	ctx := context.Background()
	require.NoError(t, input.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
	}))

	mode := executionmode.PartitionDiffMode{FailCondition: "runId > 0"}
	req := executionmode.Request{
		MainInput:   input,
		MainOutput:  output,
		ExprContext: condition.Context{RunID: 1},
	}
	_, err := mode.Apply(ctx, req)
	var failCond *sdlberrors.FailCondition
	require.ErrorAs(t, err, &failCond)
}

func TestPartitionDiffModeDiffsAgainstAlternativeOutput(t *testing.T) {
	t.Parallel()

	input := dataobjecttest.New("src", []string{"dt"})
	mainOutput := dataobjecttest.New("tgt", []string{"dt"}).WithPrimaryKey("dt")
	altOutput := dataobjecttest.New("tgt_staging", []string{"dt"}).WithPrimaryKey("dt")

	ctx := context.Background()
	require.NoError(t, input.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
		{Partitions: partition.New(map[string]string{"dt": "20260102"}), Data: map[string]any{"dt": "20260102"}},
	}))
	// mainOutput already has both partitions, but altOutput only has one —
	// diffing against the alternative must find the other as missing.
	require.NoError(t, mainOutput.Merge(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
		{Partitions: partition.New(map[string]string{"dt": "20260102"}), Data: map[string]any{"dt": "20260102"}},
	}))
	require.NoError(t, altOutput.Merge(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
	}))

	mode := executionmode.PartitionDiffMode{}
	result, err := mode.Apply(ctx, executionmode.Request{
		MainInput: input, MainOutput: mainOutput, AlternativeOutput: altOutput,
	})
	require.NoError(t, err)
	require.Len(t, result.PartitionValues, 1)
	dt, ok := result.PartitionValues[0].Get("dt")
	require.True(t, ok)
	require.Equal(t, "20260102", dt)
}

func TestSparkIncrementalModeBuildsGreaterThanFilter(t *testing.T) {
	t.Parallel()

	output := dataobjecttest.New("tgt", nil)
	mode := executionmode.SparkIncrementalMode{CompareCol: "id"}
	req := executionmode.Request{
		MainOutput: output,
		CompareColumnMax: func(ctx context.Context, obj dataobject.DataObject, column string) (string, bool, error) {
			return "42", true, nil
		},
	}
	result, err := mode.Apply(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result.Filter)
	require.Equal(t, "id > 42", *result.Filter)
	require.True(t, result.BreakLineageHint)
}

func TestSparkIncrementalModeRejectsMissingCallback(t *testing.T) {
	t.Parallel()

	mode := executionmode.SparkIncrementalMode{CompareCol: "id"}
	_, err := mode.Apply(context.Background(), executionmode.Request{})
	require.Error(t, err)
	var cfgErr *sdlberrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestSparkStreamingOnceModeRejectsNonStreamableInput(t *testing.T) {
	t.Parallel()

	input := dataobjecttest.New("src", []string{"dt"})
	mode := executionmode.SparkStreamingOnceMode{CheckpointLocation: "/tmp/chk"}
	_, err := mode.Apply(context.Background(), executionmode.Request{MainInput: input})
	require.Error(t, err)
	var cfgErr *sdlberrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
