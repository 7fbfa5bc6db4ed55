// Package dataobject defines the capability interfaces: the contracts the
// core requires from concrete data-object and connection backends.
// Capability interfaces replace deep inheritance: an action declares the
// capability set it requires, and the registry (registry.go) rejects
// configurations where a referenced data object lacks a required one.
package dataobject

import (
	"context"

	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// DataObject is the minimal contract every data object satisfies.
type DataObject interface {
	ID() idtype.DataObjectID
}

// Readable data objects can be read from by the compute engine.
type Readable interface {
	DataObject
	// Read hands back an opaque payload (a plan during Init, materialised
	// data during Exec) the core never inspects. values restricts the read
	// to the given partition values when non-empty (the selection an
	// execution mode computed); filter is an additional engine-specific row
	// predicate, orthogonal to partition selection.
	Read(ctx context.Context, values []partition.Values, filter *string) (subfeed.Payload, error)
}

// Writable data objects can be written to.
type Writable interface {
	DataObject
	Write(ctx context.Context, payload subfeed.Payload) error
}

// Partitioned data objects expose a partition-column schema and can
// enumerate existing partitions.
type Partitioned interface {
	DataObject
	PartitionColumns() []string
	ListPartitions(ctx context.Context) ([]partition.Values, error)
}

// Mergeable data objects support an upsert/merge write mode keyed by a
// primary key.
type Mergeable interface {
	DataObject
	PrimaryKey() []string
	Merge(ctx context.Context, payload subfeed.Payload) error
}

// Transactional data objects stage writes and commit/rollback atomically.
type Transactional interface {
	DataObject
	BeginTransaction(ctx context.Context) (Transaction, error)
}

// Transaction is the handle returned by Transactional.BeginTransaction.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Streamable data objects can produce a streaming dataframe checkpointed
// at a location, required by SparkStreamingOnceMode.
type Streamable interface {
	DataObject
	CreateStreamingDataFrame(ctx context.Context, checkpointLocation string) (subfeed.Payload, error)
}

// Capability names used by the registry to validate an action's declared
// requirements against what a registered data object actually implements.
type Capability string

const (
	CapabilityRead        Capability = "read"
	CapabilityWrite       Capability = "write"
	CapabilityPartitioned Capability = "partitioned"
	CapabilityMergeable   Capability = "mergeable"
	CapabilityTransactional Capability = "transactional"
	CapabilityStreamable  Capability = "streamable"
)

// Capabilities reports every capability a DataObject implements.
func Capabilities(obj DataObject) map[Capability]bool {
	caps := make(map[Capability]bool)
	if _, ok := obj.(Readable); ok {
		caps[CapabilityRead] = true
	}
	if _, ok := obj.(Writable); ok {
		caps[CapabilityWrite] = true
	}
	if _, ok := obj.(Partitioned); ok {
		caps[CapabilityPartitioned] = true
	}
	if _, ok := obj.(Mergeable); ok {
		caps[CapabilityMergeable] = true
	}
	if _, ok := obj.(Transactional); ok {
		caps[CapabilityTransactional] = true
	}
	if _, ok := obj.(Streamable); ok {
		caps[CapabilityStreamable] = true
	}
	return caps
}

// HasCapability reports whether obj implements the given capability.
func HasCapability(obj DataObject, cap Capability) bool {
	return Capabilities(obj)[cap]
}
