// Package statestore implements the durable, file-per-attempt run-state
// store: one YAML record per attempt under a configured root directory,
// enough to report a completed run or recover a failed one.
package statestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/daotlresearch/smart-data-lake-builder/internal/action"
	"github.com/daotlresearch/smart-data-lake-builder/internal/idtype"
	"github.com/daotlresearch/smart-data-lake-builder/internal/scheduler"
)

// RetentionPolicy bounds how many attempt files a Store keeps per
// appName, by count and/or age. Zero fields disable that bound. The file
// just written by Save is never pruned, even if it alone exceeds the
// policy.
type RetentionPolicy struct {
	MaxAttempts int
	MaxAge      time.Duration
}

// Store is a file-per-attempt implementation of scheduler.StateStore.
type Store struct {
	Root      string
	Retention RetentionPolicy
}

// New constructs a Store rooted at dir, creating it if necessary.
func New(dir string, retention RetentionPolicy) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: creating root %s: %w", dir, err)
	}
	return &Store{Root: dir, Retention: retention}, nil
}

var filenamePattern = regexp.MustCompile(`^(.+)__(\d{6})__(\d{6})__(\d+)\.yaml$`)

func attemptFilename(appName idtype.AppName, runID, attemptID int, ts time.Time) string {
	return fmt.Sprintf("%s__%06d__%06d__%d.yaml", appName, runID, attemptID, ts.UnixNano())
}

// Save writes state to its attempt's file and applies the retention
// policy to appName's other files. The file name is derived from the
// attempt's start time, so the repeated saves the scheduler makes on each
// action-state change overwrite the same attempt file — "current" always
// means the highest-(runId,attemptId) file for an appName.
func (s *Store) Save(ctx context.Context, state scheduler.RunState) error {
	rec := toRecord(state)
	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("statestore: marshalling state: %w", err)
	}

	ts := state.StartTime
	if ts.IsZero() {
		ts = time.Now()
	}
	name := attemptFilename(state.AppName, state.RunID, state.AttemptID, ts)
	path := filepath.Join(s.Root, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("statestore: writing %s: %w", path, err)
	}

	s.applyRetention(state.AppName, path)
	return nil
}

// GetLatestState returns the highest-(runId,attemptId) attempt recorded
// for appName.
func (s *Store) GetLatestState(appName idtype.AppName) (scheduler.RunState, bool, error) {
	files, err := s.listFiles(appName)
	if err != nil {
		return scheduler.RunState{}, false, err
	}
	if len(files) == 0 {
		return scheduler.RunState{}, false, nil
	}
	latest := files[len(files)-1]
	state, err := s.RecoverRunState(latest.path)
	if err != nil {
		return scheduler.RunState{}, false, err
	}
	return state, true, nil
}

// RecoverRunState reads and decodes a single attempt file at path.
func (s *Store) RecoverRunState(path string) (scheduler.RunState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return scheduler.RunState{}, fmt.Errorf("statestore: reading %s: %w", path, err)
	}
	var rec record
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return scheduler.RunState{}, fmt.Errorf("statestore: decoding %s: %w", path, err)
	}
	return rec.toRunState(), nil
}

// ListStates returns every attempt recorded for appName, oldest first.
func (s *Store) ListStates(appName idtype.AppName) ([]scheduler.RunState, error) {
	files, err := s.listFiles(appName)
	if err != nil {
		return nil, err
	}
	out := make([]scheduler.RunState, 0, len(files))
	for _, f := range files {
		state, err := s.RecoverRunState(f.path)
		if err != nil {
			return nil, err
		}
		out = append(out, state)
	}
	return out, nil
}

type attemptFile struct {
	path      string
	runID     int
	attemptID int
	unixNano  int64
}

// listFiles enumerates appName's attempt files, sorted ascending by
// (runId, attemptId, timestamp).
func (s *Store) listFiles(appName idtype.AppName) ([]attemptFile, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		return nil, fmt.Errorf("statestore: reading root %s: %w", s.Root, err)
	}

	var out []attemptFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		m := filenamePattern.FindStringSubmatch(e.Name())
		if m == nil || idtype.AppName(m[1]) != appName {
			continue
		}
		runID, _ := strconv.Atoi(m[2])
		attemptID, _ := strconv.Atoi(m[3])
		ts, _ := strconv.ParseInt(m[4], 10, 64)
		out = append(out, attemptFile{
			path:      filepath.Join(s.Root, e.Name()),
			runID:     runID,
			attemptID: attemptID,
			unixNano:  ts,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].runID != out[j].runID {
			return out[i].runID < out[j].runID
		}
		if out[i].attemptID != out[j].attemptID {
			return out[i].attemptID < out[j].attemptID
		}
		return out[i].unixNano < out[j].unixNano
	})
	return out, nil
}

// applyRetention prunes appName's attempt files beyond the configured
// count/age bound, always keeping current (the file just written at
// currentPath) and the files newer than it.
func (s *Store) applyRetention(appName idtype.AppName, currentPath string) {
	if s.Retention.MaxAttempts <= 0 && s.Retention.MaxAge <= 0 {
		return
	}
	files, err := s.listFiles(appName)
	if err != nil {
		return
	}

	cutoff := time.Time{}
	if s.Retention.MaxAge > 0 {
		cutoff = time.Now().Add(-s.Retention.MaxAge)
	}

	keepFromCount := 0
	if s.Retention.MaxAttempts > 0 && len(files) > s.Retention.MaxAttempts {
		keepFromCount = len(files) - s.Retention.MaxAttempts
	}

	for i, f := range files {
		if f.path == currentPath {
			continue
		}
		prune := i < keepFromCount
		if !cutoff.IsZero() && time.Unix(0, f.unixNano).Before(cutoff) {
			prune = true
		}
		if prune {
			_ = os.Remove(f.path)
		}
	}
}

// NextAttempt computes the (runId, attemptId) for a new invocation given
// the previous attempt's recorded state, per the recovery algorithm: an
// attempt containing any FAILED action is retried under the same runId
// with attemptId+1; anything else (fully succeeded, or stopped/cancelled
// with no hard failure) starts a fresh run at attemptId 1.
func NextAttempt(prior scheduler.RunState) (runID, attemptID int) {
	for _, st := range prior.Actions {
		if st.State == action.StateFailed {
			return prior.RunID, prior.AttemptID + 1
		}
	}
	return prior.RunID + 1, 1
}
