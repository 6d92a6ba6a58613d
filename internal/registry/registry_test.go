package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/haasonsaas/toolgated/pkg/models"
)

func fixtureDescriptor(id string) *models.ToolDescriptor {
	return &models.ToolDescriptor{
		RegistryID:     id,
		DisplayName:    id,
		Kind:           models.KindLocalFunction,
		HandlerLocator: "noop",
		Enabled:        true,
		Capabilities: []models.Capability{
			{Name: "run"},
		},
	}
}

func TestRegisterLookupEnumerate(t *testing.T) {
	r := New(nil)

	outcome, err := r.Register(fixtureDescriptor("echo"))
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome)

	got, ok := r.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "echo", got.RegistryID)

	all := r.Enumerate(Filter{})
	require.Len(t, all, 1)
}

func TestRegisterDuplicateIdenticalDescriptorIsNoop(t *testing.T) {
	r := New(nil)
	_, err := r.Register(fixtureDescriptor("echo"))
	require.NoError(t, err)

	outcome, err := r.Register(fixtureDescriptor("echo"))
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome)

	all := r.Enumerate(Filter{})
	require.Len(t, all, 1)
}

func TestRegisterDuplicateDifferentDescriptorReplacesAndEmitsUpdated(t *testing.T) {
	var events []models.RegistryEvent
	r := New(PublisherFunc(func(e models.RegistryEvent) { events = append(events, e) }))

	_, err := r.Register(fixtureDescriptor("echo"))
	require.NoError(t, err)

	changed := fixtureDescriptor("echo")
	changed.DisplayName = "echo-v2"
	outcome, err := r.Register(changed)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome)

	got, ok := r.Lookup("echo")
	require.True(t, ok)
	require.Equal(t, "echo-v2", got.DisplayName)

	require.Len(t, events, 2)
	require.Equal(t, models.EventAdded, events[0].Kind)
	require.Equal(t, models.EventUpdated, events[1].Kind)
}

func TestUnregisterNotFound(t *testing.T) {
	r := New(nil)
	outcome, err := r.Unregister("missing")
	require.Error(t, err)
	require.Equal(t, OutcomeNotFound, outcome)
}

func TestSetEnabledIdempotent(t *testing.T) {
	r := New(nil)
	_, err := r.Register(fixtureDescriptor("echo"))
	require.NoError(t, err)

	outcome, err := r.SetEnabled("echo", false)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome)

	got, _ := r.Lookup("echo")
	require.False(t, got.Enabled)

	// Same value again should be a no-op success, not an error.
	outcome, err = r.SetEnabled("echo", false)
	require.NoError(t, err)
	require.Equal(t, OutcomeOK, outcome)
}

func TestLookupReturnsClonesNotAliases(t *testing.T) {
	r := New(nil)
	_, err := r.Register(fixtureDescriptor("echo"))
	require.NoError(t, err)

	got, _ := r.Lookup("echo")
	got.DisplayName = "mutated"

	again, _ := r.Lookup("echo")
	require.Equal(t, "echo", again.DisplayName, "mutating a returned snapshot must not affect registry state")
}

func TestEventsEmittedInOrder(t *testing.T) {
	var mu sync.Mutex
	var kinds []models.EventKind
	pub := PublisherFunc(func(e models.RegistryEvent) {
		mu.Lock()
		kinds = append(kinds, e.Kind)
		mu.Unlock()
	})
	r := New(pub)

	_, _ = r.Register(fixtureDescriptor("a"))
	_, _ = r.SetEnabled("a", false)
	_, _ = r.Unregister("a")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []models.EventKind{models.EventAdded, models.EventUpdated, models.EventRemoved}, kinds)
}

func TestEnumerateFilters(t *testing.T) {
	r := New(nil)
	enabled := fixtureDescriptor("enabled-tool")
	enabled.Tags = []string{"sandbox"}
	disabled := fixtureDescriptor("disabled-tool")
	disabled.Enabled = false

	_, _ = r.Register(enabled)
	_, _ = r.Register(disabled)

	onlyEnabled := r.Enumerate(Filter{EnabledOnly: true})
	require.Len(t, onlyEnabled, 1)
	require.Equal(t, "enabled-tool", onlyEnabled[0].RegistryID)

	byTag := r.Enumerate(Filter{Tag: "sandbox"})
	require.Len(t, byTag, 1)

	byPrefix := r.Enumerate(Filter{NamePattern: "disabled*"})
	require.Len(t, byPrefix, 1)
	require.Equal(t, "disabled-tool", byPrefix[0].RegistryID)
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := New(nil)
	bad := &models.ToolDescriptor{RegistryID: "no-handler", Kind: models.KindLocalFunction}
	outcome, err := r.Register(bad)
	require.Error(t, err)
	require.Equal(t, OutcomeInvalid, outcome)
}
