// Package config holds the driver-facing request shape and flag-value
// parsing the CLI needs. Turning configuration sources into a resolved
// object graph (data objects, connections, actions) is an external
// collaborator the core does not implement; see cmd/sdlb's GraphLoader.
package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/daotlresearch/smart-data-lake-builder/internal/partition"
	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
)

// RunRequest is the parsed, not-yet-validated form of the `sdlb run` CLI
// flags, one field per entry in the flags table.
type RunRequest struct {
	FeedSelector             string `validate:"required"`
	AppName                  string
	ConfigPaths              []string `validate:"required,min=1"`
	PartitionValuesFlag      string
	MultiPartitionValuesFlag string
	Parallelism              int    `validate:"min=1"`
	StatePath                string
	TestMode                 string `validate:"omitempty,oneof=config dry-run"`
}

var (
	validateOnce sync.Once
	validateInst *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() { validateInst = validator.New() })
	return validateInst
}

// Validate checks structural constraints on req, wrapping the first
// failure as a ConfigurationError so the driver's exit-code mapping
// treats it the same as any other misconfiguration.
func (req RunRequest) Validate() error {
	if err := validatorInstance().Struct(req); err != nil {
		return sdlberrors.NewConfigurationError("run request", err.Error(), err)
	}
	return nil
}

// EffectiveAppName returns AppName, defaulting to FeedSelector when unset,
// per the CLI table's documented default.
func (req RunRequest) EffectiveAppName() string {
	if req.AppName != "" {
		return req.AppName
	}
	return req.FeedSelector
}

// ParsePartitionValues parses a `--partition-values COL=V[,V...]` flag
// value into one partition.Values per comma-separated value, each holding
// only that single column.
func ParsePartitionValues(spec string) ([]partition.Values, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	col, rest, ok := strings.Cut(spec, "=")
	if !ok {
		return nil, fmt.Errorf("config: --partition-values must be COL=V[,V...], got %q", spec)
	}
	col = strings.TrimSpace(col)
	var out []partition.Values
	for _, v := range strings.Split(rest, ",") {
		out = append(out, partition.New(map[string]string{col: strings.TrimSpace(v)}))
	}
	return out, nil
}

// ParseMultiPartitionValues parses a `--multi-partition-values
// COL1=V,COL2=V[;...]` flag value into one partition.Values per
// semicolon-separated group, each holding every comma-separated
// column=value pair in that group.
func ParseMultiPartitionValues(spec string) ([]partition.Values, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	var out []partition.Values
	for _, group := range strings.Split(spec, ";") {
		elements := make(map[string]string)
		for _, pair := range strings.Split(group, ",") {
			col, val, ok := strings.Cut(pair, "=")
			if !ok {
				return nil, fmt.Errorf("config: --multi-partition-values group %q must be COL=V[,COL=V...]", group)
			}
			elements[strings.TrimSpace(col)] = strings.TrimSpace(val)
		}
		out = append(out, partition.New(elements))
	}
	return out, nil
}
