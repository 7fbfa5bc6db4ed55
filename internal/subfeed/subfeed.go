// Package subfeed implements the typed message exchanged between actions
// along a DAG edge. A SubFeed is immutable from the perspective of its
// recipients: every transformation returns a new value rather than
// mutating in place.
package subfeed

import (
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
)

// Payload is an opaque, engine-specific handle (a dataframe, a stream
// cursor, ...). The core never looks inside it; it is forwarded verbatim
// by the action kernel between Init and Exec.
type Payload any

// SubFeed describes what to process for one data object along one DAG edge.
type SubFeed struct {
	DataObjectID    idtype.DataObjectID
	PartitionValues []partition.Values
	IsDAGStart      bool
	IsSkipped       bool
	Filter          *string
	BreakLineage    bool
	Payload         Payload
}

// New constructs a SubFeed for a data object with no partition values set.
func New(dataObjectID idtype.DataObjectID) SubFeed {
	return SubFeed{DataObjectID: dataObjectID}
}

// Project drops partition-value keys not present in columns. If the
// resulting partition-value record becomes empty, the returned SubFeed is
// not itself "partitioned" any further; the caller (the action kernel)
// decides whether that means "no filter" for a partitioned data object.
func (s SubFeed) Project(columns []string) SubFeed {
	out := s
	projected := make([]partition.Values, len(s.PartitionValues))
	for i, v := range s.PartitionValues {
		projected[i] = v.Project(columns)
	}
	out.PartitionValues = projected
	return out
}

// ModeResult is what an execution mode returns: the partition values to
// process, an optional row filter, and whether lineage must break.
type ModeResult struct {
	PartitionValues  []partition.Values
	Filter           *string
	BreakLineageHint bool
	// Payload, when non-nil, replaces the subfeed's payload outright —
	// used by modes (SparkStreamingOnceMode) that materialise their own
	// engine-specific handle rather than just narrowing partitions/filter.
	// Never persisted: it is an opaque, run-local engine handle.
	Payload Payload `yaml:"-"`
}

// ApplyExecutionModeResult replaces partition values and filter with those
// selected by the mode and sets BreakLineage when the mode requests it.
func (s SubFeed) ApplyExecutionModeResult(result ModeResult) SubFeed {
	out := s
	out.PartitionValues = result.PartitionValues
	out.Filter = result.Filter
	if result.Payload != nil {
		out.Payload = result.Payload
	}
	if result.BreakLineageHint {
		out = out.BreakLineageFeed()
	}
	return out
}

// BreakLineageFeed forces the downstream action to re-materialise from the
// data object rather than chaining engine-level plans.
func (s SubFeed) BreakLineageFeed() SubFeed {
	out := s
	out.BreakLineage = true
	return out
}

// WithSkipped returns a copy marked skipped, with empty partition values,
// so skip status propagates to downstream actions without a filter.
func (s SubFeed) WithSkipped() SubFeed {
	out := s
	out.IsSkipped = true
	out.PartitionValues = nil
	out.Filter = nil
	return out
}

// WithPayload returns a copy carrying the given engine-specific payload.
func (s SubFeed) WithPayload(payload Payload) SubFeed {
	out := s
	out.Payload = payload
	return out
}

// HasPartitionValues reports whether any partition value is set.
func (s SubFeed) HasPartitionValues() bool {
	return len(s.PartitionValues) > 0
}
