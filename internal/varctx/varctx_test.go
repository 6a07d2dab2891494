package varctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blackcoderx/falcon-runner/internal/rvalue"
)

func TestScopePrecedenceRuntimeOverridesGlobal(t *testing.T) {
	registry := NewRegistry()
	global := map[string]rvalue.Value{"name": rvalue.String("global-value")}
	vc := New("suite-a", global, registry)

	v, err := vc.Resolve(context.Background(), "name")
	require.NoError(t, err)
	s, _ := v.String()
	assert.Equal(t, "global-value", s)

	vc.SetRuntime("name", rvalue.String("runtime-value"))
	v, err = vc.Resolve(context.Background(), "name")
	require.NoError(t, err)
	s, _ = v.String()
	assert.Equal(t, "runtime-value", s)
}

func TestInterpolateFalsyScalarsRenderLiterally(t *testing.T) {
	vc := New("suite-a", map[string]rvalue.Value{}, NewRegistry())
	vc.SetRuntime("count", rvalue.Number(0))
	vc.SetRuntime("flag", rvalue.Bool(false))

	out := vc.Interpolate(context.Background(), rvalue.String("{{count}}"), false)
	s, _ := out.String()
	assert.Equal(t, "0", s)

	out = vc.Interpolate(context.Background(), rvalue.String("{{flag}}"), false)
	s, _ = out.String()
	assert.Equal(t, "false", s)
}

func TestInterpolateUnresolvedNamePreservedVerbatim(t *testing.T) {
	vc := New("suite-a", map[string]rvalue.Value{}, NewRegistry())
	var warned []string
	vc.Warn = func(name string) { warned = append(warned, name) }

	out := vc.Interpolate(context.Background(), rvalue.String("{{missing_var}}"), false)
	s, _ := out.String()
	assert.Equal(t, "{{missing_var}}", s)
	assert.Equal(t, []string{"missing_var"}, warned)
}

func TestInterpolateSuppressWarnings(t *testing.T) {
	vc := New("suite-a", map[string]rvalue.Value{}, NewRegistry())
	var warned []string
	vc.Warn = func(name string) { warned = append(warned, name) }

	vc.Interpolate(context.Background(), rvalue.String("{{missing}}"), true)
	assert.Empty(t, warned)
}

func TestCrossSuiteRegistryLookup(t *testing.T) {
	registry := NewRegistry()
	registry.Export("auth-suite", "token", rvalue.String("tok-abc"))

	vc := New("consumer-suite", map[string]rvalue.Value{}, registry)
	v, err := vc.Resolve(context.Background(), "auth-suite.token")
	require.NoError(t, err)
	s, _ := v.String()
	assert.Equal(t, "tok-abc", s)
}

func TestExportRequiresLocalVariable(t *testing.T) {
	registry := NewRegistry()
	vc := New("suite-a", map[string]rvalue.Value{}, registry)

	err := vc.Export("never_set")
	assert.Error(t, err)

	vc.SetSuite("token", rvalue.String("xyz"))
	err = vc.Export("token")
	require.NoError(t, err)

	v, ok := registry.Lookup("suite-a", "token")
	require.True(t, ok)
	s, _ := v.String()
	assert.Equal(t, "xyz", s)
}

func TestClearNonGlobalPreservesGlobalAndEnvironment(t *testing.T) {
	global := map[string]rvalue.Value{"g": rvalue.String("kept")}
	vc := New("suite-a", global, NewRegistry())
	vc.SetRuntime("r", rvalue.String("gone"))
	vc.SetSuite("s", rvalue.String("gone-too"))

	vc.ClearNonGlobal()

	_, ok := vc.Get("r")
	assert.False(t, ok)
	_, ok = vc.Get("s")
	assert.False(t, ok)
	v, ok := vc.Get("g")
	require.True(t, ok)
	s, _ := v.String()
	assert.Equal(t, "kept", s)
}

func TestEnvScopeResolution(t *testing.T) {
	t.Setenv("FALCON_RUNNER_TEST_VAR", "from-env")
	vc := New("suite-a", map[string]rvalue.Value{}, NewRegistry())

	v, err := vc.Resolve(context.Background(), "$env.FALCON_RUNNER_TEST_VAR")
	require.NoError(t, err)
	s, _ := v.String()
	assert.Equal(t, "from-env", s)
}

func TestDottedPathWalksObjectValue(t *testing.T) {
	vc := New("suite-a", map[string]rvalue.Value{}, NewRegistry())
	vc.SetRuntime("user", rvalue.Object().Set("profile", rvalue.Object().Set("id", rvalue.Number(7)).Build()).Build())

	v, err := vc.Resolve(context.Background(), "user.profile.id")
	require.NoError(t, err)
	n, ok := v.Number()
	require.True(t, ok)
	assert.Equal(t, float64(7), n)
}
