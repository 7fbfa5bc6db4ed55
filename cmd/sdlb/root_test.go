package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daotlresearch/smart-data-lake-builder/internal/sdlberrors"
)

func TestExitCodeSuccess(t *testing.T) {
	require.Equal(t, 0, exitCode(nil))
}

func TestExitCodeConfigurationErrorIsOne(t *testing.T) {
	err := sdlberrors.NewConfigurationError("subject", "bad config", nil)
	require.Equal(t, 1, exitCode(err))
}

func TestExitCodeOtherFailureIsTwo(t *testing.T) {
	err := sdlberrors.NewTaskFailed("action1", errors.New("boom"))
	require.Equal(t, 2, exitCode(err))
}

func TestRootCommandHasRunAndVersionSubcommands(t *testing.T) {
	root := newRootCmd()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	require.True(t, names["run"])
	require.True(t, names["version"])
}
