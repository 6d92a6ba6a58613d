// Package identity implements the Identifier Resolver (C1): canonicalizing
// agent-facing tool identifiers, legacy aliases, and registry IDs into a
// single namespace, and validating an invocation triple before it reaches
// the dispatcher.
package identity

import (
	"fmt"
	"strings"
	"sync"

	"github.com/haasonsaas/toolgated/pkg/models"
)

// Lookup reads a descriptor snapshot from the Tool Registry (C2). The
// resolver never owns registry state; it only consults it through this
// narrow seam to keep C1 testable without a live C2.
type Lookup func(registryID string) (*models.ToolDescriptor, bool)

// Resolver holds the finite alias table mapping agent-facing IDs to
// registry IDs, plus the reverse lookup used for diagnostics.
type Resolver struct {
	mu      sync.RWMutex
	alias   map[string]string // agent-facing (normalized) -> registry_id
	reverse map[string][]string // registry_id -> agent-facing ids that resolve to it
	lookup  Lookup
}

// New creates a Resolver backed by the given registry lookup function.
func New(lookup Lookup) *Resolver {
	return &Resolver{
		alias:   make(map[string]string),
		reverse: make(map[string][]string),
		lookup:  lookup,
	}
}

// canonicalize applies the scheme-permitted normalization: trim whitespace
// and lowercase. Canonical-name forms (core./mcp:/edge:) are left
// case-sensitive past their prefix since server/tool IDs may be
// case-significant; see naming.go.
func canonicalize(input string) string {
	trimmed := strings.TrimSpace(input)
	if isCanonicalForm(trimmed) {
		return trimmed
	}
	return strings.ToLower(trimmed)
}

// SetAlias registers (or replaces) an alias mapping. An empty alias or
// registryID is a no-op.
func (r *Resolver) SetAlias(agentFacingID, registryID string) {
	agentFacingID = canonicalize(agentFacingID)
	registryID = strings.TrimSpace(registryID)
	if agentFacingID == "" || registryID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.alias[agentFacingID]; ok {
		r.removeReverseLocked(prev, agentFacingID)
	}
	r.alias[agentFacingID] = registryID
	r.reverse[registryID] = append(r.reverse[registryID], agentFacingID)
}

// RemoveAlias deletes an alias mapping if present.
func (r *Resolver) RemoveAlias(agentFacingID string) {
	agentFacingID = canonicalize(agentFacingID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if target, ok := r.alias[agentFacingID]; ok {
		delete(r.alias, agentFacingID)
		r.removeReverseLocked(target, agentFacingID)
	}
}

func (r *Resolver) removeReverseLocked(registryID, agentFacingID string) {
	ids := r.reverse[registryID]
	for i, id := range ids {
		if id == agentFacingID {
			r.reverse[registryID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.reverse[registryID]) == 0 {
		delete(r.reverse, registryID)
	}
}

// AliasesFor returns the agent-facing IDs that currently resolve to
// registryID, for diagnostics.
func (r *Resolver) AliasesFor(registryID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.reverse[registryID]))
	copy(out, r.reverse[registryID])
	return out
}

// Resolve canonicalizes input and returns the registry_id it maps to.
//
// Resolution is deterministic: (1) canonicalize; (2) a direct registry match
// on the canonicalized input wins over an alias match (the tie-break policy
// in §4.1); (3) otherwise consult the alias table; (4) otherwise fail.
func (r *Resolver) Resolve(input string) (string, bool) {
	canonical := canonicalize(input)

	if r.lookup != nil {
		if _, ok := r.lookup(canonical); ok {
			return canonical, true
		}
	}

	r.mu.RLock()
	registryID, ok := r.alias[canonical]
	r.mu.RUnlock()
	if ok {
		return registryID, true
	}

	return "", false
}

// Validate resolves tool to a registry_id, then checks that action is one of
// its capabilities and that parameters satisfy the capability's ParamSchema.
// On success it returns the normalized (registryID, action, parameters)
// ready for dispatch.
func (r *Resolver) Validate(tool, action string, parameters map[string]any) (string, string, map[string]any, models.ErrorKind, error) {
	registryID, ok := r.Resolve(tool)
	if !ok {
		return "", "", nil, models.ErrorToolNotFound, fmt.Errorf("no tool registered for %q", tool)
	}

	var descriptor *models.ToolDescriptor
	if r.lookup != nil {
		descriptor, ok = r.lookup(registryID)
	}
	if !ok || descriptor == nil {
		return "", "", nil, models.ErrorToolNotFound, fmt.Errorf("no tool registered for %q", tool)
	}

	capability, ok := descriptor.Capability(action)
	if !ok {
		return "", "", nil, models.ErrorActionNotSupported, fmt.Errorf("tool %q has no action %q", registryID, action)
	}

	normalized, err := validateParameters(capability, parameters)
	if err != nil {
		return "", "", nil, models.ErrorInvalidArgument, err
	}

	return registryID, action, normalized, "", nil
}
