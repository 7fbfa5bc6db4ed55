package main

import (
	"context"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/config"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/logger"
	"github.com/daotlresearch/smart-data-lake-builder/internal/metrics"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/scheduler"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
	"github.com/daotlresearch/smart-data-lake-builder/internal/statestore"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// Graph is a resolved object graph: a populated data-object registry,
// every action available to select from, and the connections those
// actions' backends depend on.
type Graph struct {
	Registry    *dataobject.Registry
	Actions     []*action.Action
	Connections []dataobject.Connection
}

// GraphLoader turns the configured paths into a resolved Graph. Parsing
// configuration sources into that graph (HOCON documents, an instance
// registry, concrete backend construction) is an external collaborator
// the core does not implement; a real deployment supplies its own loader
// here instead of defaultGraphLoader.
type GraphLoader func(paths []string) (Graph, error)

func defaultGraphLoader(paths []string) (Graph, error) {
	return Graph{}, sdlberrors.NewConfigurationError("config", fmt.Sprintf("no graph loader wired for paths %v: this build does not parse configuration sources itself", paths), nil)
}

func newRunCmd() *cobra.Command {
	return newRunCmdWithLoader(defaultGraphLoader)
}

func newRunCmdWithLoader(load GraphLoader) *cobra.Command {
	req := config.RunRequest{Parallelism: 1}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Select and execute actions matching a feed selector",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := execute(cmd.Context(), req, load)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&req.FeedSelector, "feed-sel", "f", "", "regex selecting actions by feed")
	flags.StringVarP(&req.AppName, "name", "n", "", "application name, the state-store key (default: feed-sel)")
	flags.StringSliceVarP(&req.ConfigPaths, "config", "c", nil, "configuration files or directories")
	flags.StringVar(&req.PartitionValuesFlag, "partition-values", "", "single-column partition filter, COL=V[,V...]")
	flags.StringVar(&req.MultiPartitionValuesFlag, "multi-partition-values", "", "multi-column partition filter, COL1=V,COL2=V[;...]")
	flags.IntVar(&req.Parallelism, "parallelism", 1, "scheduler worker count")
	flags.StringVar(&req.StatePath, "state-path", "", "enables recovery when set")
	flags.StringVar(&req.TestMode, "test", "", "stop after Prepare (config) or Init (dry-run)")
	_ = cmd.MarkFlagRequired("feed-sel")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

// execute runs the full driver loop against an already-built request: it
// is the unit the run command's RunE delegates to, kept separate so
// tests can drive it without a process exit.
func execute(ctx context.Context, req config.RunRequest, load GraphLoader) (scheduler.RunState, error) {
	if err := req.Validate(); err != nil {
		return scheduler.RunState{}, err
	}

	graph, err := load(req.ConfigPaths)
	if err != nil {
		return scheduler.RunState{}, err
	}

	selected, err := selectActions(req.FeedSelector, graph.Actions)
	if err != nil {
		return scheduler.RunState{}, err
	}

	dagStartValues, err := partitionSeedValues(req)
	if err != nil {
		return scheduler.RunState{}, sdlberrors.NewConfigurationError("partition-values", err.Error(), err)
	}

	log, err := logger.New(logger.Options{Component: "sdlb"})
	if err != nil {
		return scheduler.RunState{}, fmt.Errorf("sdlb: creating logger: %w", err)
	}

	appName := idtype.AppName(req.EffectiveAppName())
	sched := &scheduler.Scheduler{
		Actions:           selected,
		Kernel:            &action.Kernel{Registry: graph.Registry, Metrics: metrics.New(), Logger: log},
		Parallelism:       req.Parallelism,
		ContinueOnFailure: false,
		Logger:            log,
		AppName:           appName,
		RunID:             1,
		AttemptID:         1,
		DAGStartSubFeeds:  dagStartSubFeeds(selected, dagStartValues),
		Connections:       graph.Connections,
	}

	switch req.TestMode {
	case "config":
		sched.StopAfter = scheduler.PhasePrepare
	case "dry-run":
		sched.StopAfter = scheduler.PhaseInit
	}

	if req.StatePath != "" {
		store, err := statestore.New(req.StatePath, statestore.RetentionPolicy{})
		if err != nil {
			return scheduler.RunState{}, fmt.Errorf("sdlb: opening state store: %w", err)
		}
		sched.StateStore = store

		if prior, found, err := store.GetLatestState(appName); err != nil {
			return scheduler.RunState{}, fmt.Errorf("sdlb: reading prior state: %w", err)
		} else if found {
			sched.RunID, sched.AttemptID = statestore.NextAttempt(prior)
			sched.Recovery = &scheduler.Recovery{PriorState: prior}
		}
	}

	return sched.Run(ctx)
}

// selectActions returns the actions whose Feed matches sel, erroring if
// the selector is not a valid regex or matches nothing.
func selectActions(sel string, all []*action.Action) ([]*action.Action, error) {
	re, err := regexp.Compile(sel)
	if err != nil {
		return nil, sdlberrors.NewConfigurationError("feed-sel", fmt.Sprintf("invalid regex %q: %v", sel, err), err)
	}
	var out []*action.Action
	for _, a := range all {
		if re.MatchString(a.Feed) {
			out = append(out, a)
		}
	}
	if len(out) == 0 {
		return nil, sdlberrors.NewConfigurationError("feed-sel", fmt.Sprintf("no actions match feed selector %q", sel), nil)
	}
	return out, nil
}

// partitionSeedValues combines the two partition-value flags into one
// list; specifying both is a configuration error since they describe
// the same DAG-start filter in incompatible shapes.
func partitionSeedValues(req config.RunRequest) ([]partition.Values, error) {
	single, err := config.ParsePartitionValues(req.PartitionValuesFlag)
	if err != nil {
		return nil, err
	}
	multi, err := config.ParseMultiPartitionValues(req.MultiPartitionValuesFlag)
	if err != nil {
		return nil, err
	}
	if len(single) > 0 && len(multi) > 0 {
		return nil, fmt.Errorf("--partition-values and --multi-partition-values are mutually exclusive")
	}
	if len(single) > 0 {
		return single, nil
	}
	return multi, nil
}

// dagStartSubFeeds seeds every data object that is an input somewhere in
// selected but never an output of any selected action (a true DAG start)
// with the partition values parsed from the CLI flags, when any were given.
func dagStartSubFeeds(selected []*action.Action, seedValues []partition.Values) map[idtype.DataObjectID]subfeed.SubFeed {
	produced := make(map[idtype.DataObjectID]bool)
	for _, a := range selected {
		for _, out := range a.Outputs {
			produced[out] = true
		}
	}

	out := make(map[idtype.DataObjectID]subfeed.SubFeed)
	for _, a := range selected {
		for _, in := range a.Inputs {
			if produced[in] {
				continue
			}
			sf := subfeed.New(in)
			sf.IsDAGStart = true
			if len(seedValues) > 0 {
				sf.PartitionValues = seedValues
			}
			out[in] = sf
		}
	}
	return out
}
