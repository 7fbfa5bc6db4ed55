// Package scheduler drives the action graph through the three global-
// barrier phases (Prepare, Init, Exec), dispatching independent actions
// concurrently up to a configured degree and propagating subfeeds,
// skips, and cancellation across the DAG.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/executionmode"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/logger"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// RunState is the full per-attempt record a StateStore persists: enough to
// recover a failed attempt or report a completed one.
type RunState struct {
	AppName     idtype.AppName
	RunID       int
	AttemptID   int
	StartTime   time.Time
	EndTime     time.Time
	Actions     map[idtype.ActionID]action.ActionState
	ModeResults map[idtype.ActionID]subfeed.ModeResult
}

// StateStore is the subset of internal/statestore's contract the
// scheduler depends on. Save is called after every action completes, so
// implementations must treat it as an idempotent overwrite of the current
// attempt's record rather than an append.
type StateStore interface {
	Save(ctx context.Context, state RunState) error
}

// Recovery carries the prior attempt's recorded state into a new Run, so
// already-succeeded actions are replayed instead of re-executed and mode
// results are reused verbatim.
type Recovery struct {
	PriorState RunState
}

// Phase names a point at which Run can be told to stop early, backing the
// driver's `--test {config|dry-run}` flag.
type Phase string

const (
	PhasePrepare Phase = "prepare"
	PhaseInit    Phase = "init"
)

// Scheduler runs a fixed set of actions to completion.
type Scheduler struct {
	Actions           []*action.Action
	Kernel            *action.Kernel
	Parallelism       int
	ContinueOnFailure bool
	Logger            *logger.Logger
	StateStore        StateStore

	AppName   idtype.AppName
	RunID     int
	AttemptID int

	// DAGStartSubFeeds seeds inputs for data objects no action produces
	// (true DAG-start inputs), keyed by data object id — typically built
	// from the driver's --partition-values/--multi-partition-values flags.
	DAGStartSubFeeds map[idtype.DataObjectID]subfeed.SubFeed

	// CompareColumnMax backs SparkIncrementalMode; nil is valid if no
	// action uses that mode.
	CompareColumnMax func(ctx context.Context, obj dataobject.DataObject, column string) (string, bool, error)

	// Connections are tested once, before any action prepares, so a
	// misconfigured backend aborts the whole run instead of failing
	// partway through Exec.
	Connections []dataobject.Connection

	Recovery *Recovery

	// StopAfter, when set, ends Run successfully once that phase completes
	// without entering the next one.
	StopAfter Phase

	instr                *instrumentation
	recoveredSucceeded   map[idtype.ActionID]action.ActionState
	recoveredModeResults map[idtype.ActionID]subfeed.ModeResult
}

// Instrumentation returns the scheduler's prometheus.Collector, for a
// driver to register once at startup.
func (s *Scheduler) Instrumentation() prometheus.Collector {
	if s.instr == nil {
		s.instr = newInstrumentation()
	}
	return s.instr
}

// Run drives Prepare, Init, and Exec to completion (or to the first fatal
// abort) and returns the resulting RunState. A non-nil error indicates a
// fatal failure; the caller maps it to an exit code via errors.As against
// internal/sdlberrors types.
func (s *Scheduler) Run(ctx context.Context) (RunState, error) {
	if s.Parallelism <= 0 {
		s.Parallelism = 1
	}
	s.Instrumentation()
	s.recoveredSucceeded = nil
	s.recoveredModeResults = nil

	if s.Recovery != nil {
		prior := s.Recovery.PriorState
		s.recoveredModeResults = prior.ModeResults
		s.recoveredSucceeded = make(map[idtype.ActionID]action.ActionState, len(prior.Actions))
		allSucceeded := len(prior.Actions) > 0
		for id, st := range prior.Actions {
			if st.State == action.StateSucceeded {
				s.recoveredSucceeded[id] = st
			} else {
				allSucceeded = false
			}
		}
		if allSucceeded {
			replay := prior
			replay.AppName, replay.RunID, replay.AttemptID = s.AppName, s.RunID, s.AttemptID
			replay.StartTime = time.Now()
			replay.EndTime = replay.StartTime
			s.save(ctx, replay)
			return replay, nil
		}
	}

	g, err := buildGraph(s.Actions)
	if err != nil {
		return RunState{}, err
	}

	state := RunState{
		AppName:     s.AppName,
		RunID:       s.RunID,
		AttemptID:   s.AttemptID,
		StartTime:   time.Now(),
		Actions:     make(map[idtype.ActionID]action.ActionState, len(g.nodes)),
		ModeResults: make(map[idtype.ActionID]subfeed.ModeResult, len(g.nodes)),
	}
	for _, id := range g.allIDs() {
		state.Actions[id] = action.ActionState{ActionID: id, State: action.StatePending}
	}

	if s.logf() != nil {
		s.logf().Info(fmt.Sprintf("run starting: appName=%s runId=%d attemptId=%d actions=%d", s.AppName, s.RunID, s.AttemptID, len(g.nodes)))
	}

	if err := s.testConnections(ctx); err != nil {
		state.EndTime = time.Now()
		s.save(ctx, state)
		return state, err
	}

	prepResults, err := s.runPrepare(ctx, g, &state)
	if err != nil {
		state.EndTime = time.Now()
		s.save(ctx, state)
		return state, err
	}
	if s.StopAfter == PhasePrepare {
		state.EndTime = time.Now()
		s.save(ctx, state)
		return state, nil
	}

	initResults, subfeeds, stopped, err := s.runInit(ctx, g, prepResults, &state)
	if err != nil {
		state.EndTime = time.Now()
		s.save(ctx, state)
		return state, err
	}
	for id, res := range initResults {
		state.ModeResults[id] = res.ModeResult
	}
	if s.StopAfter == PhaseInit {
		state.EndTime = time.Now()
		s.save(ctx, state)
		return state, nil
	}

	execErr := s.runExec(ctx, g, prepResults, initResults, subfeeds, &state)
	if stopped {
		s.cancelRemaining(&state, "run stopped: no data to process")
	}
	state.EndTime = time.Now()
	s.save(ctx, state)
	return state, execErr
}

// testConnections runs each configured connection's validation call once,
// before any action prepares, so an unreachable backend aborts the run
// immediately instead of surfacing mid-Exec as a per-action failure.
func (s *Scheduler) testConnections(ctx context.Context) error {
	for _, conn := range s.Connections {
		if err := conn.Test(ctx); err != nil {
			return sdlberrors.NewPreconditionError(conn.ID().String(), "connection test failed", err)
		}
	}
	return nil
}

func (s *Scheduler) logf() *logger.Logger { return s.Logger }

func (s *Scheduler) save(ctx context.Context, state RunState) {
	if s.StateStore == nil {
		return
	}
	if err := s.StateStore.Save(ctx, state); err != nil && s.logf() != nil {
		s.logf().Error(err, "writing run state")
	}
}

// runPrepare validates every action concurrently (bounded by Parallelism);
// no data dependency exists between actions at this stage so the whole set
// is dispatched at once rather than level by level.
func (s *Scheduler) runPrepare(ctx context.Context, g *graph, state *RunState) (map[idtype.ActionID]action.PrepareResult, error) {
	s.instr.enter("prepare")
	defer s.instr.leave("prepare")

	results := make(map[idtype.ActionID]action.PrepareResult, len(g.nodes))
	var mu sync.Mutex
	var firstErr error
	sem := make(chan struct{}, s.Parallelism)
	var wg sync.WaitGroup

	for _, id := range g.allIDs() {
		n := g.nodes[id]
		if st, done := s.recoveredSucceeded[n.id]; done {
			mu.Lock()
			state.Actions[n.id] = st
			mu.Unlock()
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(n *node) {
			defer wg.Done()
			defer func() { <-sem }()

			prep, err := s.Kernel.Prepare(ctx, n.action)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				markFailed(state, n.id, classify(err), err.Error())
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			results[n.id] = prep
			st := state.Actions[n.id]
			st.State = action.StatePrepared
			state.Actions[n.id] = st
		}(n)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}

// runInit walks the graph level by level (a global barrier between
// levels guarantees no action enters Init before its dependencies have),
// threading subfeeds produced by each action's outputs to its consumers.
func (s *Scheduler) runInit(ctx context.Context, g *graph, prepResults map[idtype.ActionID]action.PrepareResult, state *RunState) (map[idtype.ActionID]action.InitResult, map[idtype.DataObjectID]subfeed.SubFeed, bool, error) {
	s.instr.enter("init")
	defer s.instr.leave("init")

	results := make(map[idtype.ActionID]action.InitResult, len(g.nodes))
	current := make(map[idtype.DataObjectID]subfeed.SubFeed, len(s.DAGStartSubFeeds))
	for id, sf := range s.DAGStartSubFeeds {
		current[id] = sf
	}

	var mu sync.Mutex
	var firstErr error
	stopRun := false

	for _, level := range g.levels {
		if firstErr != nil {
			break
		}
		sem := make(chan struct{}, s.Parallelism)
		var wg sync.WaitGroup
		levelOutputs := make(map[idtype.DataObjectID]subfeed.SubFeed)

		for _, id := range level {
			n := g.nodes[id]
			if st, done := s.recoveredSucceeded[n.id]; done {
				mu.Lock()
				state.Actions[n.id] = st
				for _, out := range n.action.Outputs {
					levelOutputs[out] = subfeed.SubFeed{DataObjectID: out, PartitionValues: s.recoveredModeResults[n.id].PartitionValues}
				}
				mu.Unlock()
				continue
			}
			inputs := s.collectInputs(n.action, current)
			prep := prepResults[n.id]

			wg.Add(1)
			sem <- struct{}{}
			go func(n *node, inputs map[idtype.DataObjectID]subfeed.SubFeed, prep action.PrepareResult) {
				defer wg.Done()
				defer func() { <-sem }()

				mc := s.modeContext(n.action, inputs)
				res, err := s.Kernel.Init(ctx, s.effectiveAction(n), prep, inputs, mc)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					markFailed(state, n.id, classify(err), err.Error())
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				results[n.id] = res
				if res.Outcome == action.OutcomeNoDataStopRun {
					stopRun = true
				}
				st := state.Actions[n.id]
				st.State = action.StateInitialised
				state.Actions[n.id] = st
				for id, sf := range res.OutputSubFeeds {
					levelOutputs[id] = sf
				}
			}(n, inputs, prep)
		}
		wg.Wait()

		for id, sf := range levelOutputs {
			current[id] = sf
		}
		if stopRun {
			break
		}
	}

	if firstErr != nil {
		return nil, nil, false, firstErr
	}
	return results, current, stopRun, nil
}

// runExec walks the graph level by level, materialising and writing each
// action's outputs. Descendant cancellation and fail-fast/continue
// semantics are resolved here.
func (s *Scheduler) runExec(ctx context.Context, g *graph, prepResults map[idtype.ActionID]action.PrepareResult, initResults map[idtype.ActionID]action.InitResult, subfeeds map[idtype.DataObjectID]subfeed.SubFeed, state *RunState) error {
	s.instr.enter("exec")
	defer s.instr.leave("exec")

	current := subfeeds
	var mu sync.Mutex
	var firstErr error
	cancelled := make(map[idtype.ActionID]bool)

	for _, level := range g.levels {
		if firstErr != nil && !s.ContinueOnFailure {
			for _, id := range level {
				if !cancelled[id] {
					markCancelled(state, id, "run aborted after prior failure")
					cancelled[id] = true
				}
			}
			continue
		}

		sem := make(chan struct{}, s.Parallelism)
		var wg sync.WaitGroup
		levelOutputs := make(map[idtype.DataObjectID]subfeed.SubFeed)

		for _, id := range level {
			if cancelled[id] {
				continue
			}
			n := g.nodes[id]
			init, ok := initResults[id]
			if !ok {
				continue
			}
			inputs := s.collectInputs(n.action, current)
			prep := prepResults[id]

			wg.Add(1)
			sem <- struct{}{}
			go func(n *node, init action.InitResult, prep action.PrepareResult, inputs map[idtype.DataObjectID]subfeed.SubFeed) {
				defer wg.Done()
				defer func() { <-sem }()

				mc := s.modeContext(n.action, inputs)
				st, outputs, err := s.Kernel.Exec(ctx, s.effectiveAction(n), prep, init, inputs, mc)

				mu.Lock()
				defer mu.Unlock()
				state.Actions[n.id] = st
				s.instr.terminal(string(st.State))
				if s.logf() != nil {
					s.logf().WithFields(map[string]any{"run_id": s.RunID, "attempt_id": s.AttemptID, "action_id": n.id.String()}).Info(fmt.Sprintf("action %s: %s", n.id, st.State))
				}
				s.save(ctx, *state)

				if err != nil {
					var stopErr *sdlberrors.NoDataToProcessStop
					if errors.As(err, &stopErr) {
						return
					}
					if firstErr == nil {
						firstErr = err
					}
					if s.ContinueOnFailure {
						s.cancelDescendants(g, n.id, state, cancelled)
					}
					return
				}
				for id, sf := range outputs {
					levelOutputs[id] = sf
				}
			}(n, init, prep, inputs)
		}
		wg.Wait()

		for id, sf := range levelOutputs {
			current[id] = sf
		}
	}

	return firstErr
}

// effectiveAction returns the action to hand to the kernel for this node:
// unchanged, unless a recovery attempt already selected partition values
// for it and it has not yet succeeded, in which case its mode is replaced
// by a ReplayMode that reproduces that same selection instead of letting
// the real mode recompute it.
func (s *Scheduler) effectiveAction(n *node) *action.Action {
	if s.recoveredModeResults == nil {
		return n.action
	}
	if _, done := s.recoveredSucceeded[n.id]; done {
		return n.action
	}
	result, ok := s.recoveredModeResults[n.id]
	if !ok || n.action.Mode == nil {
		return n.action
	}
	replay := *n.action
	replay.Mode = executionmode.ReplayMode{Result: result}
	return &replay
}

func (s *Scheduler) collectInputs(a *action.Action, current map[idtype.DataObjectID]subfeed.SubFeed) map[idtype.DataObjectID]subfeed.SubFeed {
	inputs := make(map[idtype.DataObjectID]subfeed.SubFeed, len(a.Inputs))
	for _, id := range a.Inputs {
		if sf, ok := current[id]; ok {
			inputs[id] = sf
			continue
		}
		sf := subfeed.New(id)
		sf.IsDAGStart = true
		inputs[id] = sf
	}
	return inputs
}

func (s *Scheduler) modeContext(a *action.Action, inputs map[idtype.DataObjectID]subfeed.SubFeed) action.ModeContext {
	ctxInputs := make(map[string]condition.InputState, len(inputs))
	inputPartitions := make(map[string][]partition.Values, len(inputs))
	for id, sf := range inputs {
		ctxInputs[id.String()] = condition.InputState{IsDAGStart: sf.IsDAGStart, IsSkipped: sf.IsSkipped}
		inputPartitions[id.String()] = sf.PartitionValues
	}
	exprCtx := condition.Context{
		RunID:                s.RunID,
		AttemptID:            s.AttemptID,
		Feed:                 a.Feed,
		Inputs:               ctxInputs,
		InputPartitionValues: inputPartitions,
	}
	return action.ModeContext{
		ExprContext:      exprCtx,
		CompareColumnMax: s.CompareColumnMax,
	}
}

func (s *Scheduler) cancelRemaining(state *RunState, cause string) {
	for id, st := range state.Actions {
		if st.State == action.StatePending || st.State == action.StatePrepared || st.State == action.StateInitialised {
			markCancelled(state, id, cause)
		}
	}
}

func (s *Scheduler) cancelDescendants(g *graph, failed idtype.ActionID, state *RunState, cancelled map[idtype.ActionID]bool) {
	var visit func(id idtype.ActionID)
	visit = func(id idtype.ActionID) {
		n, ok := g.nodes[id]
		if !ok {
			return
		}
		for _, dep := range n.dependents {
			if cancelled[dep] {
				continue
			}
			cancelled[dep] = true
			markCancelled(state, dep, fmt.Sprintf("ancestor action %s failed", failed))
			visit(dep)
		}
	}
	visit(failed)
}

func markFailed(state *RunState, id idtype.ActionID, kind action.FailureKind, message string) {
	st := state.Actions[id]
	st.ActionID = id
	st.State = action.StateFailed
	st.FailureKind = kind
	st.Message = message
	st.EndTime = time.Now()
	state.Actions[id] = st
}

func markCancelled(state *RunState, id idtype.ActionID, cause string) {
	st := state.Actions[id]
	st.ActionID = id
	st.State = action.StateCancelled
	st.Message = cause
	st.EndTime = time.Now()
	state.Actions[id] = st
}

func classify(err error) action.FailureKind {
	var cfg *sdlberrors.ConfigurationError
	var pre *sdlberrors.PreconditionError
	var task *sdlberrors.TaskFailed
	switch {
	case errors.As(err, &cfg):
		return action.FailureKindConfiguration
	case errors.As(err, &pre):
		return action.FailureKindPrecondition
	case errors.As(err, &task):
		return action.FailureKindTaskFailed
	default:
		return action.FailureKindTaskFailed
	}
}

