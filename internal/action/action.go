package action

import (
	"time"

	"github.com/daotlresearch/smart-data-lake-builder/internal/executionmode"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/transform"
)

// SaveMode selects how an action's outputs are written.
type SaveMode string

const (
	SaveModeOverwrite SaveMode = "Overwrite"
	SaveModeAppend    SaveMode = "Append"
	SaveModeMerge     SaveMode = "Merge"
)

// Action is a node in the execution graph: it reads Inputs, writes
// Outputs, and optionally runs a transformation chain between them.
type Action struct {
	ID   idtype.ActionID
	Feed string

	Inputs          []idtype.DataObjectID
	Outputs         []idtype.DataObjectID
	RecursiveInputs []idtype.DataObjectID

	MainInputID  *idtype.DataObjectID
	MainOutputID *idtype.DataObjectID

	// AlternativeOutputID, when set, is the data object PartitionDiffMode
	// diffs the main input's partitions against instead of the main
	// output — for actions where partitions already written to the main
	// output should not be treated as "done" (e.g. a staging output that
	// gets truncated between runs).
	AlternativeOutputID *idtype.DataObjectID

	Mode executionmode.Mode

	// Transform holds the chain to run between reading inputs and writing
	// outputs. When HasTransform is false the chain is not run and the
	// action does an identity copy: exactly one input is copied verbatim to
	// exactly one output.
	Transform    transform.Chain
	HasTransform bool

	// PartitionTransform renames/rewrites the main input's partition
	// values before they seed each output subfeed (e.g. mapping a source
	// partition column name to a differently named target column).
	PartitionTransform func(partition.Values) partition.Values

	ExecutionCondition string
	FailCondition      string

	InputIDsToIgnoreFilter map[idtype.DataObjectID]bool

	SaveMode SaveMode

	// StaticOptions are option values handed to the transform chain after
	// substitution: every "%{name}" token is replaced by the matching
	// runtime field (runId, attemptId, feed) or by another StaticOptions
	// entry, via transform.SubstituteOptions.
	StaticOptions map[string]string
}

// State is a position in the per-action state machine.
type State string

const (
	StatePending     State = "PENDING"
	StatePrepared    State = "PREPARED"
	StateInitialised State = "INITIALISED"
	StateSucceeded   State = "SUCCEEDED"
	StateFailed      State = "FAILED"
	StateSkipped     State = "SKIPPED"
	StateCancelled   State = "CANCELLED"
)

// FailureKind classifies why an action transitioned to FAILED, mirroring
// the error taxonomy of internal/sdlberrors.
type FailureKind string

const (
	FailureKindNone            FailureKind = ""
	FailureKindConfiguration   FailureKind = "ConfigurationError"
	FailureKindPrecondition    FailureKind = "PreconditionError"
	FailureKindTaskFailed      FailureKind = "TaskFailed"
	FailureKindLateInputMissing FailureKind = "LateInputMissing"
)

// ActionState is the outcome of one action in one attempt.
type ActionState struct {
	ActionID    idtype.ActionID
	State       State
	StartTime   time.Time
	EndTime     time.Time
	FailureKind FailureKind
	Message     string
	Metrics     map[string]float64
}
