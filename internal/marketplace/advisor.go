package marketplace

import (
	"context"
	"fmt"

	"github.com/haasonsaas/toolgated/internal/procrunner"
)

// Advisor implements supervisor.InstallAdvisor over a RegistryClient: it
// searches every configured registry for the free-text query and installs
// the top-scoring, non-deprecated match.
type Advisor struct {
	client *RegistryClient
}

// NewAdvisor wraps an already-configured RegistryClient as an
// InstallAdvisor.
func NewAdvisor(client *RegistryClient) *Advisor {
	return &Advisor{client: client}
}

// Advise searches the registries for query and translates the winning
// result's manifest into an InstallConfig. It fails if the search comes up
// empty or the winning manifest has no runnable command.
func (a *Advisor) Advise(ctx context.Context, query string) (procrunner.InstallConfig, error) {
	results, err := a.client.Search(ctx, query)
	if err != nil {
		return procrunner.InstallConfig{}, fmt.Errorf("search registries for %q: %w", query, err)
	}
	if len(results) == 0 {
		return procrunner.InstallConfig{}, fmt.Errorf("no registry match for query %q", query)
	}

	plugin := results[0].Manifest
	if plugin.Command == "" {
		return procrunner.InstallConfig{}, fmt.Errorf("registry match %q has no runnable command", plugin.ID)
	}

	return procrunner.InstallConfig{
		RegistryIDHint: plugin.ID,
		Command:        plugin.Command,
		Args:           plugin.Args,
		Env:            plugin.Env,
	}, nil
}
