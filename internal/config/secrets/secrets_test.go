package secrets_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daotlresearch/smart-data-lake-builder/internal/config/secrets"
)

func TestResolveClearReturnsKeyVerbatim(t *testing.T) {
	secrets.Reset()

	val, err := secrets.Resolve("CLEAR#hello")
	require.NoError(t, err)
	require.Equal(t, "hello", val)
}

func TestResolveWithNoProviderPrefixReturnsInputUnchanged(t *testing.T) {
	secrets.Reset()

	val, err := secrets.Resolve("plain-value")
	require.NoError(t, err)
	require.Equal(t, "plain-value", val)
}

func TestResolveEnvReadsProcessEnvironment(t *testing.T) {
	secrets.Reset()
	t.Setenv("SDLB_TEST_SECRET", "s3cr3t")

	val, err := secrets.Resolve("ENV#SDLB_TEST_SECRET")
	require.NoError(t, err)
	require.Equal(t, "s3cr3t", val)
}

func TestResolveEnvMissingVariableErrors(t *testing.T) {
	secrets.Reset()

	_, err := secrets.Resolve("ENV#SDLB_TEST_SECRET_NOT_SET")
	require.Error(t, err)
}

func TestResolveUnknownProviderErrors(t *testing.T) {
	secrets.Reset()

	_, err := secrets.Resolve("VAULT#some/path")
	require.Error(t, err)
}

func TestRegisterAddsACustomProvider(t *testing.T) {
	secrets.Reset()
	t.Cleanup(secrets.Reset)

	secrets.Register("STATIC", secrets.ProviderFunc(func(key string) (string, error) {
		return "static-" + key, nil
	}))

	val, err := secrets.Resolve("STATIC#db-password")
	require.NoError(t, err)
	require.Equal(t, "static-db-password", val)
}
