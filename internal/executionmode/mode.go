// Package executionmode implements the execution-mode framework: a family
// of pure strategies that compute, per action, the partition values and
// row filter to apply. Modes are encoded as a tagged union (Kind +
// interface) rather than a class hierarchy; the action kernel calls Apply
// and PostExec through the Mode interface.
package executionmode

import (
	"context"

	"github.com/daotlresearch/smart-data-lake-builder/internal/condition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/dataobject"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// Kind discriminates the execution-mode tagged union.
type Kind string

const (
	KindFixedPartitionValues    Kind = "FixedPartitionValues"
	KindPartitionDiff           Kind = "PartitionDiffMode"
	KindSparkIncremental        Kind = "SparkIncrementalMode"
	KindSparkStreamingOnce      Kind = "SparkStreamingOnceMode"
	KindFailIfNoPartitionValues Kind = "FailIfNoPartitionValuesMode"
	KindProcessAll              Kind = "ProcessAllMode"
	KindCustomPartition         Kind = "CustomPartitionMode"
	KindReplay                  Kind = "ReplayMode"
)

// Request bundles everything a mode needs to compute a ModeResult: the
// main input/output data objects, the inbound subfeed, a partition-column
// rename transform, the expression context used by
// applyCondition/failCondition, and an engine callback for modes (like
// SparkIncrementalMode) that need a single scalar read from the output.
type Request struct {
	ActionID            idtype.ActionID
	MainInput           dataobject.DataObject
	MainOutput          dataobject.DataObject
	AlternativeOutput    dataobject.DataObject
	MainInputSubFeed    subfeed.SubFeed
	PartitionTransform  func(partition.Values) partition.Values
	ExprContext         condition.Context
	// CompareColumnMax reads the current maximum value of a comparable
	// column from a data object; used by SparkIncrementalMode. The
	// compute engine, not the core, knows how to evaluate this.
	CompareColumnMax func(ctx context.Context, obj dataobject.DataObject, column string) (string, bool, error)
}

// Mode is the execution-mode tagged union.
type Mode interface {
	Kind() Kind
	// Apply computes the ModeResult for one action. A returned
	// sdlberrors.NoDataToProcessDontStop/Stop signals the soft no-data
	// path; any other error (a ConfigurationError, a FailCondition, or an
	// error from reading a data object or a custom function) fails the action.
	Apply(ctx context.Context, req Request) (subfeed.ModeResult, error)
	// PostExec is the only mode hook that sees both the input and output
	// subfeed after writing, used to advance checkpoint/high-water-mark
	// state. Call ordering across actions' PostExec calls is unspecified,
	// so implementations must be safe under any ordering.
	PostExec(ctx context.Context, req Request, input, output subfeed.SubFeed) error
}

// noopPostExec is embedded by modes with nothing to do after exec.
type noopPostExec struct{}

func (noopPostExec) PostExec(ctx context.Context, req Request, input, output subfeed.SubFeed) error {
	return nil
}
