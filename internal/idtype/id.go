// Package idtype defines the opaque identifier types shared across the
// orchestrator core. Each kind is a distinct string-backed type so the
// compiler rejects accidental cross-kind mix-ups (passing a ConnectionID
// where an ActionID is expected, for example).
package idtype

// DataObjectID uniquely identifies a data object within a run.
type DataObjectID string

// ActionID uniquely identifies an action within a run.
type ActionID string

// ConnectionID uniquely identifies a connection within a run.
type ConnectionID string

// AppName identifies the application across runs; it is the state-store key.
type AppName string

func (id DataObjectID) String() string { return string(id) }
func (id ActionID) String() string     { return string(id) }
func (id ConnectionID) String() string { return string(id) }
func (n AppName) String() string       { return string(n) }
