package marketplace

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdviseInstallsTopMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(sampleIndex()))
	}))
	t.Cleanup(srv.Close)

	advisor := NewAdvisor(NewRegistryClient(WithRegistries([]string{srv.URL})))
	cfg, err := advisor.Advise(t.Context(), "sql")
	require.NoError(t, err)
	require.Equal(t, "acme/sql-runner", cfg.RegistryIDHint)
	require.Equal(t, "sql-runner-server", cfg.Command)
}

func TestAdviseNoMatchReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(sampleIndex()))
	}))
	t.Cleanup(srv.Close)

	advisor := NewAdvisor(NewRegistryClient(WithRegistries([]string{srv.URL})))
	_, err := advisor.Advise(t.Context(), "nonexistent-xyz")
	require.Error(t, err)
}

func TestAdviseRejectsManifestWithNoCommand(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewEncoder(w).Encode(Index{
			Plugins: []*Manifest{{ID: "acme/no-command", Name: "no-command"}},
		}))
	}))
	t.Cleanup(srv.Close)

	advisor := NewAdvisor(NewRegistryClient(WithRegistries([]string{srv.URL})))
	_, err := advisor.Advise(t.Context(), "no-command")
	require.Error(t, err)
	require.Contains(t, err.Error(), "no runnable command")
}
