package identity

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolgated/pkg/models"
)

func newFixtureRegistry() (Lookup, func(*models.ToolDescriptor)) {
	descriptors := map[string]*models.ToolDescriptor{}
	lookup := func(id string) (*models.ToolDescriptor, bool) {
		d, ok := descriptors[id]
		return d, ok
	}
	put := func(d *models.ToolDescriptor) { descriptors[d.RegistryID] = d }
	return lookup, put
}

func TestResolverDeterminism(t *testing.T) {
	lookup, put := newFixtureRegistry()
	put(&models.ToolDescriptor{RegistryID: "microsandbox-server-v2", Enabled: true})
	r := New(lookup)
	r.SetAlias("sandbox", "microsandbox-server-v2")

	id1, ok1 := r.Resolve("sandbox")
	id2, ok2 := r.Resolve("sandbox")
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, id1, id2)
	require.Equal(t, "microsandbox-server-v2", id1)
}

func TestResolverDirectMatchWinsOverAlias(t *testing.T) {
	lookup, put := newFixtureRegistry()
	put(&models.ToolDescriptor{RegistryID: "echo", Enabled: true})
	r := New(lookup)
	// "echo" is both a registry id and (pathologically) an alias to something else.
	r.SetAlias("echo", "other-tool")

	id, ok := r.Resolve("echo")
	require.True(t, ok)
	require.Equal(t, "echo", id, "direct registry match must win the tie-break")
}

func TestValidateSuccess(t *testing.T) {
	lookup, put := newFixtureRegistry()
	put(&models.ToolDescriptor{
		RegistryID: "echo",
		Enabled:    true,
		Capabilities: []models.Capability{
			{
				Name: "run",
				Parameters: map[string]models.ParamSchema{
					"text": {Type: "string", Required: true},
				},
			},
		},
	})
	r := New(lookup)

	registryID, action, params, kind, err := r.Validate("echo", "run", map[string]any{"text": "hello"})
	require.NoError(t, err)
	require.Empty(t, kind)
	require.Equal(t, "echo", registryID)
	require.Equal(t, "run", action)
	require.Equal(t, "hello", params["text"])
}

func TestValidateToolNotFound(t *testing.T) {
	lookup, _ := newFixtureRegistry()
	r := New(lookup)

	_, _, _, kind, err := r.Validate("missing", "run", nil)
	require.Error(t, err)
	require.Equal(t, models.ErrorToolNotFound, kind)
}

func TestValidateActionNotSupported(t *testing.T) {
	lookup, put := newFixtureRegistry()
	put(&models.ToolDescriptor{RegistryID: "echo", Enabled: true})
	r := New(lookup)

	_, _, _, kind, err := r.Validate("echo", "run", nil)
	require.Error(t, err)
	require.Equal(t, models.ErrorActionNotSupported, kind)
}

func TestValidateMissingRequiredParam(t *testing.T) {
	lookup, put := newFixtureRegistry()
	put(&models.ToolDescriptor{
		RegistryID: "echo",
		Enabled:    true,
		Capabilities: []models.Capability{
			{Name: "run", Parameters: map[string]models.ParamSchema{"text": {Type: "string", Required: true}}},
		},
	})
	r := New(lookup)

	_, _, _, kind, err := r.Validate("echo", "run", map[string]any{})
	require.Error(t, err)
	require.Equal(t, models.ErrorInvalidArgument, kind)
}

func TestParseCanonical(t *testing.T) {
	cases := []struct {
		in   string
		want CanonicalName
	}{
		{"core.browser", CanonicalName{Source: SourceCore, Name: "browser"}},
		{"mcp:filesystem.read_file", CanonicalName{Source: SourceMCP, Namespace: "filesystem", Name: "read_file"}},
		{"edge:macbook.camera_snap", CanonicalName{Source: SourceEdge, Namespace: "macbook", Name: "camera_snap"}},
		{"legacy_name", CanonicalName{Source: SourceCore, Name: "legacy_name"}},
	}
	for _, tc := range cases {
		got, err := ParseCanonical(tc.in)
		require.NoError(t, err)
		require.Equal(t, tc.want, got)
		require.Equal(t, tc.in == "legacy_name" || tc.in == "core.browser" || tc.in == "mcp:filesystem.read_file" || tc.in == "edge:macbook.camera_snap", true)
	}
}

func TestCanonicalNameMatches(t *testing.T) {
	n := CanonicalName{Source: SourceMCP, Namespace: "filesystem", Name: "read_file"}
	require.True(t, n.Matches("*"))
	require.True(t, n.Matches("mcp:*"))
	require.True(t, n.Matches("mcp:filesystem.*"))
	require.False(t, n.Matches("mcp:other.*"))
	require.True(t, n.Matches("mcp:filesystem.read_file"))
}
