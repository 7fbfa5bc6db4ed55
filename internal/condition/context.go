// Package condition implements the boolean expression context and
// evaluator used by applyCondition, failCondition, executionCondition,
// and runtime option substitution.
package condition

import (
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
)

// InputState captures the per-input fields the expression context exposes.
type InputState struct {
	IsDAGStart bool
	IsSkipped  bool
}

// Context is the typed record evaluated against boolean expressions and
// used to substitute %{name} tokens in runtime options.
type Context struct {
	RunID                  int
	AttemptID              int
	Feed                   string
	Inputs                 map[string]InputState
	InputPartitionValues   map[string][]partition.Values
	OutputPartitionValues  map[string][]partition.Values
	SelectedPartitionValues []partition.Values
}

// Field resolves a field reference used by the evaluator, e.g.
// "runId", "attemptId", "feed", "isDAGStart", "isSkipped",
// "outputPartitionCount", "selectedPartitionCount".
func (c Context) Field(name string) (any, bool) {
	switch name {
	case "runId":
		return c.RunID, true
	case "attemptId":
		return c.AttemptID, true
	case "feed":
		return c.Feed, true
	case "isDAGStart":
		return c.anyInputTrue(func(s InputState) bool { return s.IsDAGStart }), true
	case "isSkipped":
		return c.anyInputTrue(func(s InputState) bool { return s.IsSkipped }), true
	case "outputPartitionCount":
		return float64(c.totalPartitionValues(c.OutputPartitionValues)), true
	case "selectedPartitionCount":
		return float64(len(c.SelectedPartitionValues)), true
	default:
		return nil, false
	}
}

func (c Context) totalPartitionValues(m map[string][]partition.Values) int {
	n := 0
	for _, v := range m {
		n += len(v)
	}
	return n
}

// WithPartitionValues returns a copy of c with the input/output partition
// maps and the selected partition values populated, keyed by data object
// ID. PartitionDiffMode uses this once it has listed both sides of the
// diff, so failCondition/applyCondition can reference the counts the
// comparison operators support.
func (c Context) WithPartitionValues(inputID idtype.DataObjectID, inputValues []partition.Values, outputID idtype.DataObjectID, outputValues []partition.Values, selected []partition.Values) Context {
	out := c
	out.InputPartitionValues = cloneAndSet(c.InputPartitionValues, inputID.String(), inputValues)
	out.OutputPartitionValues = cloneAndSet(c.OutputPartitionValues, outputID.String(), outputValues)
	out.SelectedPartitionValues = selected
	return out
}

func cloneAndSet(m map[string][]partition.Values, key string, values []partition.Values) map[string][]partition.Values {
	out := make(map[string][]partition.Values, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = values
	return out
}

func (c Context) anyInputTrue(pred func(InputState) bool) bool {
	for _, s := range c.Inputs {
		if pred(s) {
			return true
		}
	}
	return false
}
