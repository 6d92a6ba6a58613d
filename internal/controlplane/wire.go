// Package controlplane implements the Control-Plane Server (C7): the single
// network-visible ingress for tool registration and invocation, reachable
// over a WebSocket listener and, for providers that prefer a long-lived
// bidirectional RPC stream, a hand-rolled gRPC ProviderStream. Both
// transports decode onto the same wire Frame and are handled by the same
// ControlPlaneSession core, so register_tool/execute_tool/execute_tool_action
// semantics never diverge between the two.
package controlplane

import (
	"github.com/haasonsaas/toolgated/pkg/models"
)

// Frame is the wire envelope for every control-plane message, covering both
// directions and every message type in the catalog (register_tool,
// list_tools, get_tool_by_id, execute_tool, execute_tool_action, ping,
// pong, error). Fields are tagged omitempty throughout because any given
// frame type only populates a handful of them.
type Frame struct {
	Type       string          `json:"type"`
	RequestID  string          `json:"request_id,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	ToolSpec   *WireDescriptor `json:"tool_spec,omitempty"`
	Action     string          `json:"action,omitempty"`
	Parameters map[string]any  `json:"parameters,omitempty"`

	Success    *bool            `json:"success,omitempty"`
	Error      string           `json:"error,omitempty"`
	ErrorType  string           `json:"error_type,omitempty"`
	Tool       *WireDescriptor  `json:"tool,omitempty"`
	Tools      []WireDescriptor `json:"tools,omitempty"`
	TotalCount int              `json:"total_count,omitempty"`
	Result     *WireResult      `json:"result,omitempty"`
}

// WireCapability is a descriptor's capability as it appears on the wire.
type WireCapability struct {
	Name        string                        `json:"name"`
	Description string                        `json:"description,omitempty"`
	Parameters  map[string]models.ParamSchema `json:"parameters,omitempty"`
	Examples    []map[string]any              `json:"examples,omitempty"`
}

// WireDescriptor is a ToolDescriptor as it appears on the wire: the field
// names and "function"/"mcp_server" type tag match §6's external contract,
// which is intentionally a shade looser and more stable than the internal
// models.ToolDescriptor so registry-internal renames don't break clients.
type WireDescriptor struct {
	ToolID           string                `json:"tool_id"`
	Name             string                `json:"name"`
	Description      string                `json:"description,omitempty"`
	ToolType         string                `json:"tool_type"`
	Capabilities     []WireCapability      `json:"capabilities,omitempty"`
	Tags             []string              `json:"tags,omitempty"`
	Endpoint         string                `json:"endpoint,omitempty"`
	ConnectionParams *models.ConnectParams `json:"connection_params,omitempty"`
}

const (
	WireTypeFunction  = "function"
	WireTypeMCPServer = "mcp_server"
)

// ToWireDescriptor converts a registry descriptor to its wire shape.
func ToWireDescriptor(d *models.ToolDescriptor) WireDescriptor {
	w := WireDescriptor{
		ToolID:      d.RegistryID,
		Name:        d.DisplayName,
		Description: d.Description,
		Tags:        d.Tags,
	}
	switch d.Kind {
	case models.KindRemoteServer:
		w.ToolType = WireTypeMCPServer
		w.Endpoint = d.Endpoint
		w.ConnectionParams = &d.ConnectParams
	default:
		w.ToolType = WireTypeFunction
	}
	if len(d.Capabilities) > 0 {
		w.Capabilities = make([]WireCapability, len(d.Capabilities))
		for i, c := range d.Capabilities {
			w.Capabilities[i] = WireCapability{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  c.Parameters,
				Examples:    c.Examples,
			}
		}
	}
	return w
}

// FromWireDescriptor converts a wire descriptor back into the internal
// registry shape. The caller still owns RegisteredAt and Enabled, which are
// not part of the wire contract.
func FromWireDescriptor(w WireDescriptor) (*models.ToolDescriptor, error) {
	if w.ToolID == "" {
		return nil, errMissingToolID
	}
	d := &models.ToolDescriptor{
		RegistryID:  w.ToolID,
		DisplayName: w.Name,
		Description: w.Description,
		Tags:        w.Tags,
	}
	switch w.ToolType {
	case WireTypeMCPServer:
		d.Kind = models.KindRemoteServer
		d.Endpoint = w.Endpoint
		if w.ConnectionParams != nil {
			d.ConnectParams = *w.ConnectionParams
		}
		d.Provenance = models.ProvenanceExternal
	case WireTypeFunction, "":
		d.Kind = models.KindLocalFunction
		d.HandlerLocator = w.ToolID
	default:
		return nil, errUnknownToolType
	}
	if len(w.Capabilities) > 0 {
		d.Capabilities = make([]models.Capability, len(w.Capabilities))
		for i, c := range w.Capabilities {
			d.Capabilities[i] = models.Capability{
				Name:        c.Name,
				Description: c.Description,
				Parameters:  c.Parameters,
				Examples:    c.Examples,
			}
		}
	}
	return d, nil
}

// WireResult is an InvocationResult as it appears on the wire, matching §6's
// execute_tool_action reply shape: {success, data, error_message, error_type}.
type WireResult struct {
	Success      bool   `json:"success"`
	Data         any    `json:"data,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	ErrorType    string `json:"error_type,omitempty"`
}

func ToWireResult(r models.InvocationResult) WireResult {
	return WireResult{
		Success:      r.Success,
		Data:         r.Data,
		ErrorMessage: r.ErrorMessage,
		ErrorType:    string(r.ErrorKind),
	}
}

func boolPtr(b bool) *bool { return &b }
