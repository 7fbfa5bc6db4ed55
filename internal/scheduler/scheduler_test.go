package scheduler_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject/dataobjecttest"
	"github.com/daotlresearch/smart-data-lake-builder/internal/executionmode"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/metrics"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/scheduler"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
	"github.com/daotlresearch/smart-data-lake-builder/internal/transform"
)

func newScheduler(t *testing.T, reg *dataobject.Registry, actions ...*action.Action) *scheduler.Scheduler {
	t.Helper()
	return &scheduler.Scheduler{
		Actions:     actions,
		Kernel:      &action.Kernel{Registry: reg, Metrics: metrics.New()},
		Parallelism: 2,
		AppName:     "test-app",
		RunID:       1,
		AttemptID:   1,
	}
}

func registryWith(t *testing.T, objs ...dataobject.DataObject) *dataobject.Registry {
	t.Helper()
	reg := dataobject.NewRegistry()
	for _, o := range objs {
		require.NoError(t, reg.Register(o))
	}
	return reg
}

func TestSchedulerChainsIdentityCopiesAcrossActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	t1 := dataobjecttest.New("t1", nil)
	t2 := dataobjecttest.New("t2", nil)
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{{Data: map[string]any{"rating": 5}}}))

	reg := registryWith(t, src, t1, t2)
	a := &action.Action{ID: "a", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"t1"}}
	b := &action.Action{ID: "b", Inputs: []idtype.DataObjectID{"t1"}, Outputs: []idtype.DataObjectID{"t2"}}

	s := newScheduler(t, reg, a, b)
	state, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.Actions["a"].State)
	require.Equal(t, action.StateSucceeded, state.Actions["b"].State)
	require.Equal(t, 1, t2.Len())
}

func TestSchedulerSkipPropagatesWhenUpstreamHasNoData(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	t1 := dataobjecttest.New("t1", nil)
	t2 := dataobjecttest.New("t2", nil)

	reg := registryWith(t, src, t1, t2)
	a := &action.Action{
		ID: "a", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"t1"},
		Mode: executionmode.CustomPartitionMode{
			Func: func(ctx context.Context, req executionmode.Request) ([]partition.Values, error) { return nil, nil },
		},
	}
	b := &action.Action{ID: "b", Inputs: []idtype.DataObjectID{"t1"}, Outputs: []idtype.DataObjectID{"t2"}}

	s := newScheduler(t, reg, a, b)
	state, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.Actions["a"].State)
	require.Equal(t, action.StateSkipped, state.Actions["b"].State)
	require.Equal(t, 0, t2.Len())
}

func TestSchedulerFailFastCancelsDownstreamActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	t1 := dataobjecttest.New("t1", nil)
	t2 := dataobjecttest.New("t2", nil)
	t3 := dataobjecttest.New("t3", nil)
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{{Data: map[string]any{"rating": 5}}}))

	reg := registryWith(t, src, t1, t2, t3)
	a := &action.Action{ID: "a", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"t1"}}
	bChain := transform.NewChain(nil, func(opts map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error) {
		return nil, fmt.Errorf("boom")
	})
	b := &action.Action{ID: "b", Inputs: []idtype.DataObjectID{"t1"}, Outputs: []idtype.DataObjectID{"t2"}, HasTransform: true, Transform: bChain}
	c := &action.Action{ID: "c", Inputs: []idtype.DataObjectID{"t2"}, Outputs: []idtype.DataObjectID{"t3"}}

	s := newScheduler(t, reg, a, b, c)
	state, err := s.Run(ctx)
	require.Error(t, err)
	require.Equal(t, action.StateSucceeded, state.Actions["a"].State)
	require.Equal(t, action.StateFailed, state.Actions["b"].State)
	require.Equal(t, action.StateCancelled, state.Actions["c"].State)
	require.Equal(t, 0, t3.Len())
}

func TestSchedulerContinueOnFailureRunsIndependentBranches(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src1 := dataobjecttest.New("src1", nil)
	tgt1 := dataobjecttest.New("tgt1", nil)
	src2 := dataobjecttest.New("src2", nil)
	tgt2 := dataobjecttest.New("tgt2", nil)
	require.NoError(t, src2.Write(ctx, []dataobjecttest.Row{{Data: map[string]any{"rating": 1}}}))

	reg := registryWith(t, src1, tgt1, src2, tgt2)
	failChain := transform.NewChain(nil, func(opts map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error) {
		return nil, fmt.Errorf("boom")
	})
	a1 := &action.Action{ID: "a1", Inputs: []idtype.DataObjectID{"src1"}, Outputs: []idtype.DataObjectID{"tgt1"}, HasTransform: true, Transform: failChain}
	a2 := &action.Action{ID: "a2", Inputs: []idtype.DataObjectID{"src2"}, Outputs: []idtype.DataObjectID{"tgt2"}}

	s := newScheduler(t, reg, a1, a2)
	s.ContinueOnFailure = true
	state, err := s.Run(ctx)
	require.Error(t, err)
	require.Equal(t, action.StateFailed, state.Actions["a1"].State)
	require.Equal(t, action.StateSucceeded, state.Actions["a2"].State)
	require.Equal(t, 1, tgt2.Len())
}

func TestSchedulerPartitionDiffModeSelectsMissingPartitions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", []string{"dt"})
	tgt := dataobjecttest.New("tgt", []string{"dt"})
	require.NoError(t, src.Write(ctx, []dataobjecttest.Row{
		{Partitions: partition.New(map[string]string{"dt": "20180101"}), Data: map[string]any{"dt": "20180101"}},
	}))

	reg := registryWith(t, src, tgt)
	a := &action.Action{
		ID: "a", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"},
		Mode: executionmode.PartitionDiffMode{PartitionColNb: 1},
	}

	s := newScheduler(t, reg, a)
	state, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.Actions["a"].State)

	mr := state.ModeResults["a"]
	require.Len(t, mr.PartitionValues, 1)
	v, ok := mr.PartitionValues[0].Get("dt")
	require.True(t, ok)
	require.Equal(t, "20180101", v)
}

type fakeConnection struct {
	id  idtype.ConnectionID
	err error
}

func (c fakeConnection) ID() idtype.ConnectionID { return c.id }
func (c fakeConnection) Test(ctx context.Context) error { return c.err }

func TestSchedulerTestsConnectionsBeforePreparingActions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	reg := registryWith(t, src, tgt)
	a := &action.Action{ID: "a", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"}}

	s := newScheduler(t, reg, a)
	s.Connections = []dataobject.Connection{fakeConnection{id: "conn1"}}
	state, err := s.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, action.StateSucceeded, state.Actions["a"].State)
}

func TestSchedulerAbortsRunWhenAConnectionFailsItsTest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := dataobjecttest.New("src", nil)
	tgt := dataobjecttest.New("tgt", nil)
	reg := registryWith(t, src, tgt)
	a := &action.Action{ID: "a", Inputs: []idtype.DataObjectID{"src"}, Outputs: []idtype.DataObjectID{"tgt"}}

	s := newScheduler(t, reg, a)
	s.Connections = []dataobject.Connection{fakeConnection{id: "conn1", err: fmt.Errorf("unreachable")}}
	state, err := s.Run(ctx)
	require.Error(t, err)
	require.Equal(t, action.StatePending, state.Actions["a"].State)
}
