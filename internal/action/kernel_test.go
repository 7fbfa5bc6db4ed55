package action_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject/dataobjecttest"
	"github.com/daotlresearch/smart-data-lake-builder/internal/executionmode"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/metrics"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
	"github.com/daotlresearch/smart-data-lake-builder/internal/transform"
)

func failingChain() transform.Chain {
	return transform.NewChain(nil, func(opts map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error) {
		return nil, fmt.Errorf("transformation exploded")
	})
}

func newKernel(t *testing.T, objs ...dataobject.DataObject) *action.Kernel {
	t.Helper()
	reg := dataobject.NewRegistry()
	for _, o := range objs {
		require.NoError(t, reg.Register(o))
	}
	return &action.Kernel{Registry: reg, Metrics: metrics.New()}
}

func TestKernelCopiesIdentityActionEndToEnd(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{
		{Data: map[string]any{"id": 1}},
		{Data: map[string]any{"id": 2}},
	}))

	k := newKernel(t, src, tgt)
	act := &action.Action{ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"}}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.OutcomeNormal, initRes.Outcome)

	state, _, err := k.Exec(ctx, act, prep, initRes, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.State)
	require.Equal(t, 2, tgt.Len())
}

func TestKernelMergeSaveModeUpsertsByPrimaryKey(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil).WithPrimaryKey("id")
	require.NoError(t, tgt.Merge(ctx, []dataobjecttest.Row{
		{Data: map[string]any{"id": 1, "rating": 5}},
	}))
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{
		{Data: map[string]any{"id": 1, "rating": 9}},
		{Data: map[string]any{"id": 2, "rating": 1}},
	}))

	k := newKernel(t, src, tgt)
	act := &action.Action{
		ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		SaveMode: action.SaveModeMerge,
	}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)

	state, _, err := k.Exec(ctx, act, prep, initRes, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.State)
	require.Equal(t, 2, tgt.Len())
	for _, r := range tgt.Rows() {
		if r.Data["id"] == 1 {
			require.EqualValues(t, 9, r.Data["rating"])
		}
	}
}

func TestKernelSkipsWhenAllInputsSkipped(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	k := newKernel(t, src, tgt)
	act := &action.Action{ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"}}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src").WithSkipped()}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.OutcomeSkipped, initRes.Outcome)

	state, outputs, err := k.Exec(ctx, act, prep, initRes, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.StateSkipped, state.State)
	require.True(t, outputs["tgt"].IsSkipped)
	require.Equal(t, 0, tgt.Len())
}

func TestKernelNoDataToProcessDontStopSucceedsWithEmptyOutputs(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	k := newKernel(t, src, tgt)
	act := &action.Action{
		ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		Mode: executionmode.CustomPartitionMode{
			Func: func(ctx context.Context, req executionmode.Request) ([]partition.Values, error) {
				return nil, nil
			},
		},
	}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.OutcomeNoDataContinue, initRes.Outcome)

	state, _, err := k.Exec(ctx, act, prep, initRes, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.State)
	require.Equal(t, 0, tgt.Len())
}

func TestKernelFailConditionAbortsInit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", []string{"dt"})
	tgt := dataobjecttest.New("tgt", []string{"dt"}).WithPrimaryKey("dt")
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20260101"}), Data: map[string]any{"dt": "20260101"}},
	}))

	k := newKernel(t, src, tgt)
	act := &action.Action{
		ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		Mode: executionmode.PartitionDiffMode{FailCondition: "runId > 0"},
	}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	mc := action.ModeContext{ExprContext: condition.Context{RunID: 1}}
	_, err = k.Init(ctx, act, prep, inputs, mc)
	require.Error(t, err)
	var failCond *sdlberrors.FailCondition
	require.ErrorAs(t, err, &failCond)
}

func TestKernelTransformFailureMarksActionFailed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{{Data: map[string]any{"id": 1}}}))

	k := newKernel(t, src, tgt)
	act := &action.Action{
		ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		HasTransform: true,
	}
	act.Transform = failingChain()

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)

	state, _, err := k.Exec(ctx, act, prep, initRes, inputs, action.ModeContext{})
	require.Error(t, err)
	require.Equal(t, action.StateFailed, state.State)
	var taskFailed *sdlberrors.TaskFailed
	require.ErrorAs(t, err, &taskFailed)
}

func TestKernelExecRestrictsReadToModeSelectedPartitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", []string{"dt"})
	tgt := dataobjecttest.New("tgt", []string{"dt"})
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20180101"}), Data: map[string]any{"dt": "20180101"}},
		{Partitions: partition.New(map[string]string{"dt": "20180102"}), Data: map[string]any{"dt": "20180102"}},
	}))
	// tgt already holds dt=20180102: PartitionDiffMode must treat it as done
	// and restrict the read (and thus the append) to dt=20180101 only.
	require.NoError(t, tgt.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20180102"}), Data: map[string]any{"dt": "20180102"}},
	}))

	k := newKernel(t, src, tgt)
	act := &action.Action{
		ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		SaveMode: action.SaveModeAppend,
		Mode:     executionmode.PartitionDiffMode{},
	}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)

	state, _, err := k.Exec(ctx, act, prep, initRes, inputs, action.ModeContext{})
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.State)

	require.Equal(t, 2, tgt.Len(), "the already-present partition must not have been re-read and re-appended")
	count := map[string]int{}
	for _, r := range tgt.Rows() {
		dt, _ := r.Partitions.Get("dt")
		count[dt]++
	}
	require.Equal(t, 1, count["20180101"])
	require.Equal(t, 1, count["20180102"])
}

func TestKernelExecSubstitutesRuntimeOptionsIntoStaticOptions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{{Data: map[string]any{"id": 1}}}))

	var seen map[string]string
	chain := transform.NewChain([]string{"tgt"}, func(opts map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error) {
		seen = opts
		return map[string]subfeed.Payload{"tgt": inputs["src"]}, nil
	})

	k := newKernel(t, src, tgt)
	act := &action.Action{
		ID: "a1", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		HasTransform:  true,
		Transform:     chain,
		StaticOptions: map[string]string{"tag": "run-%{runId}-%{feed}"},
	}

	prep, err := k.Prepare(ctx, act)
	require.NoError(t, err)

	inputs := map[idtype.DataObjectID]subfeed.SubFeed{"src": subfeed.New("src")}
	initRes, err := k.Init(ctx, act, prep, inputs, action.ModeContext{})
	require.NoError(t, err)

	mc := action.ModeContext{ExprContext: condition.Context{RunID: 3, Feed: "nightly"}}
	state, _, err := k.Exec(ctx, act, prep, initRes, inputs, mc)
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.State)
	require.Equal(t, "run-3-nightly", seen["tag"])
}

func TestKernelPrepareRejectsUnknownInput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tgt := dataobjecttest.New("tgt", nil)
	k := newKernel(t, tgt)
	act := &action.Action{ID: "a1", Inputs: []idtype.DataObjectID{"missing"}, Outputs: []idtype.DataObjectID{"tgt"}}

	_, err := k.Prepare(ctx, act)
	require.Error(t, err)
	var cfgErr *sdlberrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}
