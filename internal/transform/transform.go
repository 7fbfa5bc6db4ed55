// Package transform defines the function shapes a user transformation can
// take, and the chain that composes several named one-to-one functions
// into the single many-to-many function the action kernel invokes.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/daotlresearch/smart-data-lake-builder/internal/subfeed"
)

// OneToOne maps a single input payload to a single output payload (e.g. a
// SQL expression or a row-level Go function applied to one data object).
type OneToOne func(options map[string]string, input subfeed.Payload) (subfeed.Payload, error)

// ManyToMany maps a named set of input payloads to a named set of output
// payloads, letting a single transformation join or fan out across
// multiple data objects at once.
type ManyToMany func(options map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error)

// NamedOneToOne pairs a one-to-one function with the single output name
// it produces, for lifting into a Chain alongside genuine many-to-many steps.
type NamedOneToOne struct {
	OutputName string
	Fn         OneToOne
}

// Chain runs a sequence of transformations — one-to-one functions lifted
// to operate on a single named output, or genuine many-to-many functions —
// in order, threading each step's output set into the next step's input
// set, and verifies the final output names match exactly what the action
// declares.
type Chain struct {
	steps          []ManyToMany
	expectedOutputs []string
}

// NewChain builds a Chain from many-to-many steps run in sequence.
func NewChain(expectedOutputs []string, steps ...ManyToMany) Chain {
	return Chain{steps: steps, expectedOutputs: append([]string(nil), expectedOutputs...)}
}

// LiftOneToOne wraps a one-to-one function as a many-to-many step that
// reads a single named input and writes a single named output.
func LiftOneToOne(inputName string, n NamedOneToOne, options map[string]string) ManyToMany {
	return func(opts map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error) {
		in, ok := inputs[inputName]
		if !ok {
			return nil, fmt.Errorf("transform: input %q not found for one-to-one step producing %q", inputName, n.OutputName)
		}
		merged := mergeOptions(options, opts)
		out, err := n.Fn(merged, in)
		if err != nil {
			return nil, fmt.Errorf("transform: step producing %q: %w", n.OutputName, err)
		}
		return map[string]subfeed.Payload{n.OutputName: out}, nil
	}
}

func mergeOptions(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// Run executes every step in order, starting from inputs, and returns the
// final output set. It returns an error if the final set of output names
// does not exactly match the names the action declared.
func (c Chain) Run(options map[string]string, inputs map[string]subfeed.Payload) (map[string]subfeed.Payload, error) {
	current := inputs
	for i, step := range c.steps {
		out, err := step(options, current)
		if err != nil {
			return nil, fmt.Errorf("transform: chain step %d: %w", i, err)
		}
		current = out
	}

	if len(c.expectedOutputs) > 0 {
		if err := verifyOutputNames(c.expectedOutputs, current); err != nil {
			return nil, err
		}
	}
	return current, nil
}

func verifyOutputNames(expected []string, actual map[string]subfeed.Payload) error {
	got := make([]string, 0, len(actual))
	for k := range actual {
		got = append(got, k)
	}
	sort.Strings(got)
	want := append([]string(nil), expected...)
	sort.Strings(want)

	missing := diffNames(want, got)
	extra := diffNames(got, want)
	if len(missing) > 0 || len(extra) > 0 {
		var msg strings.Builder
		msg.WriteString("transform: output name mismatch")
		if len(missing) > 0 {
			fmt.Fprintf(&msg, "; missing %v", missing)
		}
		if len(extra) > 0 {
			fmt.Fprintf(&msg, "; unexpected %v", extra)
		}
		return fmt.Errorf("%s", msg.String())
	}
	return nil
}

func diffNames(a, b []string) []string {
	inB := make(map[string]struct{}, len(b))
	for _, n := range b {
		inB[n] = struct{}{}
	}
	var out []string
	for _, n := range a {
		if _, ok := inB[n]; !ok {
			out = append(out, n)
		}
	}
	return out
}
