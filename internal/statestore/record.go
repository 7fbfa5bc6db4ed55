package statestore

import (
	"time"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/scheduler"
	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// currentSchemaVersion is bumped whenever a field is added or removed in a
// way that would not round-trip through record's Extra map.
const currentSchemaVersion = 1

// record is the on-disk shape of one run attempt. Extra collects any
// top-level keys this version of the store does not recognise when a file
// is decoded; toRunState does not carry them into the RunState, so a
// state that is read and saved again loses its unknown fields.
type record struct {
	SchemaVersion int                                     `yaml:"schemaVersion"`
	AppName       idtype.AppName                          `yaml:"appName"`
	RunID         int                                     `yaml:"runId"`
	AttemptID     int                                     `yaml:"attemptId"`
	StartTime     time.Time                               `yaml:"startTime"`
	EndTime       time.Time                               `yaml:"endTime"`
	Actions       map[idtype.ActionID]action.ActionState   `yaml:"actions"`
	ModeResults   map[idtype.ActionID]subfeed.ModeResult   `yaml:"modeResults,omitempty"`
	Extra         map[string]any                           `yaml:",inline"`
}

func toRecord(state scheduler.RunState) record {
	return record{
		SchemaVersion: currentSchemaVersion,
		AppName:       state.AppName,
		RunID:         state.RunID,
		AttemptID:     state.AttemptID,
		StartTime:     state.StartTime,
		EndTime:       state.EndTime,
		Actions:       state.Actions,
		ModeResults:   state.ModeResults,
	}
}

func (r record) toRunState() scheduler.RunState {
	return scheduler.RunState{
		AppName:     r.AppName,
		RunID:       r.RunID,
		AttemptID:   r.AttemptID,
		StartTime:   r.StartTime,
		EndTime:     r.EndTime,
		Actions:     r.Actions,
		ModeResults: r.ModeResults,
	}
}
