package models

import "time"

// EventKind enumerates the registry change events C2 emits to C9.
type EventKind string

const (
	EventAdded   EventKind = "Added"
	EventRemoved EventKind = "Removed"
	EventUpdated EventKind = "Updated"
)

// RegistryEvent is the in-process change record. Descriptor is populated for
// Added/Updated and nil for Removed.
type RegistryEvent struct {
	Kind       EventKind       `json:"kind"`
	RegistryID string          `json:"registry_id"`
	Descriptor *ToolDescriptor `json:"descriptor,omitempty"`
	Sequence   uint64          `json:"sequence"`
	At         time.Time       `json:"at"`
}

// BusEventType is the wire-level event_type carried on the shared event-bus
// channel (tool_events), distinct from the in-process EventKind because the
// bus vocabulary predates the registry and keeps its own legacy spelling.
type BusEventType string

const (
	BusRegister      BusEventType = "register"
	BusUnregister    BusEventType = "unregister"
	BusToolAvailable BusEventType = "tool_available"
	BusToolRemoved   BusEventType = "tool_removed"
)

// BusEvent is the payload published on the tool_events channel.
type BusEvent struct {
	EventType BusEventType    `json:"event_type"`
	ToolID    string          `json:"tool_id"`
	ToolSpec  *ToolDescriptor `json:"tool_spec,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ToBusEvent maps an internal RegistryEvent onto the external bus vocabulary.
func ToBusEvent(e RegistryEvent) BusEvent {
	be := BusEvent{ToolID: e.RegistryID, Timestamp: e.At}
	switch e.Kind {
	case EventAdded:
		be.EventType = BusRegister
		be.ToolSpec = e.Descriptor
	case EventUpdated:
		be.EventType = BusToolAvailable
		be.ToolSpec = e.Descriptor
	case EventRemoved:
		be.EventType = BusUnregister
	}
	return be
}
