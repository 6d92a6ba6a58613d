// Package models defines the wire- and registry-level data types shared by
// every gateway component: tool descriptors, invocations, results, process
// records and the persisted manifest.
package models

import (
	"reflect"
	"time"
)

// Kind discriminates the two provider shapes the registry can hold, replacing
// the source system's runtime polymorphism over "tool type" with an explicit
// tagged variant.
type Kind string

const (
	KindLocalFunction Kind = "local_function"
	KindRemoteServer  Kind = "remote_server"
)

// Provenance records whether the gateway spawned a RemoteServer itself or the
// provider was pre-existing and registered from the outside.
type Provenance string

const (
	ProvenanceSpawned  Provenance = "spawned"
	ProvenanceExternal Provenance = "external"
)

// ParamSchema describes one capability parameter: a type tag, whether it is
// required, and an optional default. This is the validated replacement for
// the source's duck-typed parameter dicts.
type ParamSchema struct {
	Type        string `json:"type" yaml:"type"`
	Required    bool   `json:"required" yaml:"required"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Capability is one named action a tool exposes.
type Capability struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Parameters  map[string]ParamSchema `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Examples    []map[string]any       `json:"examples,omitempty" yaml:"examples,omitempty"`
}

// ConnectParams configures a RemoteServer connector's timeout and retry
// behavior; see internal/connector for how these are applied.
type ConnectParams struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MaxRetries     int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
}

// ToolDescriptor is the canonical registry entry owned exclusively by the
// Tool Registry (C2). A descriptor is immutable once built; updates replace
// it wholesale rather than mutating fields in place.
type ToolDescriptor struct {
	RegistryID  string       `json:"registry_id" yaml:"registry_id"`
	DisplayName string       `json:"display_name" yaml:"display_name"`
	Description string       `json:"description,omitempty" yaml:"description,omitempty"`
	Kind        Kind         `json:"kind" yaml:"kind"`
	Capabilities []Capability `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Tags        []string     `json:"tags,omitempty" yaml:"tags,omitempty"`
	Enabled     bool         `json:"enabled" yaml:"enabled"`

	// RemoteServer fields.
	Endpoint      string        `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	ConnectParams ConnectParams `json:"connect_params,omitempty" yaml:"connect_params,omitempty"`
	Provenance    Provenance    `json:"provenance,omitempty" yaml:"provenance,omitempty"`

	// LocalFunction field: a key into the in-process handler table.
	HandlerLocator string `json:"handler_locator,omitempty" yaml:"handler_locator,omitempty"`

	RegisteredAt time.Time `json:"registered_at" yaml:"registered_at"`
}

// Capability looks up a capability by name, returning ok=false if the tool
// does not expose an action with that name.
func (d *ToolDescriptor) Capability(action string) (Capability, bool) {
	for _, c := range d.Capabilities {
		if c.Name == action {
			return c, true
		}
	}
	return Capability{}, false
}

// Clone returns a deep-enough copy for safe snapshot reads: callers may not
// observe a half-updated descriptor because every read hands out one of
// these instead of a pointer into the registry's live map.
func (d *ToolDescriptor) Clone() *ToolDescriptor {
	if d == nil {
		return nil
	}
	clone := *d
	if d.Capabilities != nil {
		clone.Capabilities = make([]Capability, len(d.Capabilities))
		copy(clone.Capabilities, d.Capabilities)
	}
	if d.Tags != nil {
		clone.Tags = append([]string(nil), d.Tags...)
	}
	return &clone
}

// Equal reports whether two descriptors describe the same tool, ignoring
// RegisteredAt: every register call stamps its own timestamp, so two
// otherwise-identical re-registrations would never compare equal if that
// field were included.
func (d *ToolDescriptor) Equal(other *ToolDescriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	a, b := d.Clone(), other.Clone()
	a.RegisteredAt = time.Time{}
	b.RegisteredAt = time.Time{}
	return reflect.DeepEqual(a, b)
}

// HasTag reports whether the descriptor carries the given tag.
func (d *ToolDescriptor) HasTag(tag string) bool {
	for _, t := range d.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
