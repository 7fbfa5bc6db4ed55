// Package dataobjecttest provides in-memory DataObject fakes for tests,
// standing in for the compute-engine-backed data objects the core treats
// as opaque external collaborators.
package dataobjecttest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// Row is a single logical record, keyed by partition and an arbitrary payload.
type Row struct {
	Partitions partition.Values
	Data       map[string]any
}

// FakeDataObject is an in-memory table supporting read/write/partition
// listing/merge, enough to drive scheduler and action-kernel tests
// end-to-end without a real compute engine.
type FakeDataObject struct {
	mu         sync.Mutex
	id         idtype.DataObjectID
	columns    []string
	primaryKey []string
	rows       []Row
}

// New constructs a fake data object with the given partition columns.
func New(id idtype.DataObjectID, columns []string) *FakeDataObject {
	return &FakeDataObject{id: id, columns: columns}
}

// WithPrimaryKey enables Mergeable behaviour keyed by the given fields.
func (f *FakeDataObject) WithPrimaryKey(fields ...string) *FakeDataObject {
	f.primaryKey = fields
	return f
}

func (f *FakeDataObject) ID() idtype.DataObjectID { return f.id }

func (f *FakeDataObject) PartitionColumns() []string { return f.columns }

func (f *FakeDataObject) ListPartitions(ctx context.Context) ([]partition.Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]partition.Values)
	for _, r := range f.rows {
		seen[r.Partitions.String()] = r.Partitions
	}
	out := make([]partition.Values, 0, len(seen))
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, seen[k])
	}
	return out, nil
}

func (f *FakeDataObject) Read(ctx context.Context, values []partition.Values, filter *string) (subfeed.Payload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(values) == 0 {
		return append([]Row(nil), f.rows...), nil
	}
	out := make([]Row, 0, len(f.rows))
	for _, r := range f.rows {
		for _, v := range values {
			if r.Partitions.Equal(v) {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (f *FakeDataObject) Write(ctx context.Context, payload subfeed.Payload) error {
	rows, ok := payload.([]Row)
	if !ok {
		return fmt.Errorf("fakeDataObject: unsupported payload type %T", payload)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows = append(f.rows, rows...)
	return nil
}

func (f *FakeDataObject) PrimaryKey() []string { return f.primaryKey }

func (f *FakeDataObject) Merge(ctx context.Context, payload subfeed.Payload) error {
	rows, ok := payload.([]Row)
	if !ok {
		return fmt.Errorf("fakeDataObject: unsupported payload type %T", payload)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, incoming := range rows {
		key := f.keyOf(incoming)
		replaced := false
		for i, existing := range f.rows {
			if f.keyOf(existing) == key {
				f.rows[i] = incoming
				replaced = true
				break
			}
		}
		if !replaced {
			f.rows = append(f.rows, incoming)
		}
	}
	return nil
}

func (f *FakeDataObject) keyOf(r Row) string {
	parts := make([]string, 0, len(f.primaryKey))
	for _, field := range f.primaryKey {
		parts = append(parts, fmt.Sprint(r.Data[field]))
	}
	return fmt.Sprint(parts)
}

// Rows returns a snapshot of the current rows, for test assertions.
func (f *FakeDataObject) Rows() []Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Row(nil), f.rows...)
}

// Len reports the current row count.
func (f *FakeDataObject) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}
