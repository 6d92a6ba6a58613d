package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/haasonsaas/toolgated/internal/registry"
	"github.com/haasonsaas/toolgated/pkg/models"
)

var (
	errMissingToolID     = errors.New("tool_id is required")
	errUnknownToolType   = errors.New("unknown tool_type")
	errMissingToolSpec   = errors.New("tool_spec is required")
	errNotMainGateway    = errors.New("register_tool is only honored by the main gateway role")
	errNotProviderMode   = errors.New("execute_tool_action is only honored by a provider-mode server")
	errMissingAction     = errors.New("action is required")
	errUnknownFrameType  = errors.New("unknown frame type")
)

// Role discriminates the two postures a controlplane.Server can run with.
// A gateway accepts register_tool; a provider accepts the inbound
// execute_tool_action variant by dispatching to its own ActionHandler,
// matching §4.7's "non-gateway mode" description of this same server code.
type Role string

const (
	RoleGateway  Role = "gateway"
	RoleProvider Role = "provider"
)

// ActionHandler is the pre-registered callback a provider-mode server
// dispatches execute_tool_action requests to.
type ActionHandler func(ctx context.Context, action string, parameters map[string]any) models.InvocationResult

// ControlPlaneSession is the transport-agnostic handling core shared by the
// WebSocket listener and the gRPC ProviderStream ingress: both decode onto
// a Frame and call Handle, so register_tool/list_tools/execute_tool/
// execute_tool_action semantics are defined exactly once.
type ControlPlaneSession struct {
	srv *Server
}

// Handle processes one request Frame and returns the reply Frame to send
// back, or nil when no reply is required (a bare "pong" needs none since it
// is itself a reply). Handle never returns an error: every failure mode is
// encoded as an error-typed reply frame, per §7's "a failed dispatch never
// kills the client connection" contract.
func (s *ControlPlaneSession) Handle(ctx context.Context, frame *Frame) *Frame {
	switch frame.Type {
	case "register_tool":
		return s.handleRegisterTool(frame)
	case "list_tools":
		return s.handleListTools(frame)
	case "get_tool_by_id":
		return s.handleGetToolByID(frame)
	case "execute_tool":
		return s.handleExecuteTool(ctx, frame)
	case "execute_tool_action":
		return s.handleExecuteToolAction(ctx, frame)
	case "ping":
		return &Frame{Type: "pong", RequestID: frame.RequestID}
	case "pong":
		return nil
	default:
		return errorFrame(frame.RequestID, fmt.Sprintf("%s: %q", errUnknownFrameType, frame.Type), "unknown_type")
	}
}

func errorFrame(requestID, message, errorType string) *Frame {
	return &Frame{
		Type:      "error",
		RequestID: requestID,
		Success:   boolPtr(false),
		Error:     message,
		ErrorType: errorType,
	}
}

func (s *ControlPlaneSession) handleRegisterTool(frame *Frame) *Frame {
	if s.srv.role != RoleGateway {
		return errorFrame(frame.RequestID, errNotMainGateway.Error(), "forbidden")
	}
	if frame.ToolSpec == nil {
		return errorFrame(frame.RequestID, errMissingToolSpec.Error(), "invalid_argument")
	}
	descriptor, err := FromWireDescriptor(*frame.ToolSpec)
	if err != nil {
		return errorFrame(frame.RequestID, err.Error(), "invalid_argument")
	}
	descriptor.Enabled = true
	descriptor.RegisteredAt = s.srv.now()

	outcome, err := s.srv.registry.Register(descriptor)
	if err != nil {
		errType := "invalid_argument"
		if outcome == registry.OutcomeAlreadyExists {
			errType = "already_exists"
		}
		return errorFrame(frame.RequestID, err.Error(), errType)
	}

	return &Frame{
		Type:      "register_tool",
		RequestID: frame.RequestID,
		Success:   boolPtr(true),
		ToolID:    descriptor.RegistryID,
	}
}

func (s *ControlPlaneSession) handleListTools(frame *Frame) *Frame {
	descriptors := s.srv.registry.Enumerate(registry.Filter{})
	tools := make([]WireDescriptor, len(descriptors))
	for i, d := range descriptors {
		tools[i] = ToWireDescriptor(d)
	}
	return &Frame{
		Type:       "list_tools",
		RequestID:  frame.RequestID,
		Success:    boolPtr(true),
		Tools:      tools,
		TotalCount: len(tools),
	}
}

func (s *ControlPlaneSession) handleGetToolByID(frame *Frame) *Frame {
	if frame.ToolID == "" {
		return errorFrame(frame.RequestID, errMissingToolID.Error(), "invalid_argument")
	}
	d, ok := s.srv.registry.Lookup(frame.ToolID)
	if !ok {
		return errorFrame(frame.RequestID, fmt.Sprintf("tool %q not found", frame.ToolID), "not_found")
	}
	wire := ToWireDescriptor(d)
	return &Frame{
		Type:      "get_tool_by_id",
		RequestID: frame.RequestID,
		Success:   boolPtr(true),
		Tool:      &wire,
	}
}

// handleExecuteTool implements the branch that distinguishes C7 from C4: a
// LocalFunction target is dispatched in-process through the Dispatcher, but
// a RemoteServer target is forwarded over a fresh outbound client
// connection opened by C7 itself rather than routed through C4's own
// connector pool, so the gateway's single network-visible ingress is this
// control plane, not the dispatcher.
func (s *ControlPlaneSession) handleExecuteTool(ctx context.Context, frame *Frame) *Frame {
	if frame.ToolID == "" {
		return errorFrame(frame.RequestID, errMissingToolID.Error(), "invalid_argument")
	}
	d, ok := s.srv.registry.Lookup(frame.ToolID)
	if !ok {
		return s.executeToolReply(frame.RequestID, models.Fail(models.ErrorToolNotFound, fmt.Sprintf("tool %q not found", frame.ToolID), s.srv.now()))
	}

	var result models.InvocationResult
	switch d.Kind {
	case models.KindRemoteServer:
		result = s.forwardExecuteToolAction(ctx, d, frame.Action, frame.Parameters)
	default:
		result = s.srv.dispatcher.Dispatch(ctx, frame.ToolID, frame.Action, frame.Parameters)
	}
	return s.executeToolReply(frame.RequestID, result)
}

func (s *ControlPlaneSession) executeToolReply(requestID string, result models.InvocationResult) *Frame {
	wire := ToWireResult(result)
	return &Frame{
		Type:      "execute_tool",
		RequestID: requestID,
		Success:   boolPtr(result.Success),
		Error:     result.ErrorMessage,
		ErrorType: string(result.ErrorKind),
		Result:    &wire,
	}
}

// forwardExecuteToolAction opens an outbound connection to d's endpoint and
// sends an execute_tool_action Frame, the literal forwarding §4.7 describes.
// It reuses C3's Dialer/Conn transport primitives (the same framed-JSON
// WebSocket shape a provider already speaks) without going through C3's
// Connector Pool, since this connection is transient and owned by C7 alone.
func (s *ControlPlaneSession) forwardExecuteToolAction(ctx context.Context, d *models.ToolDescriptor, action string, parameters map[string]any) models.InvocationResult {
	start := s.srv.now()
	conn, err := s.srv.dialer.Dial(ctx, d.Endpoint)
	if err != nil {
		return models.Fail(models.ErrorProviderUnavailable, fmt.Sprintf("dial %s: %v", d.Endpoint, err), start)
	}
	defer conn.Close()

	request := Frame{
		Type:       "execute_tool_action",
		RequestID:  s.srv.newRequestID(),
		ToolID:     d.RegistryID,
		Action:     action,
		Parameters: parameters,
	}
	if err := conn.WriteJSON(request); err != nil {
		return models.Fail(models.ErrorProviderUnavailable, fmt.Sprintf("write request: %v", err), start)
	}

	type readOutcome struct {
		frame Frame
		err   error
	}
	replies := make(chan readOutcome, 1)
	go func() {
		var reply Frame
		err := conn.ReadJSON(&reply)
		replies <- readOutcome{frame: reply, err: err}
	}()

	select {
	case outcome := <-replies:
		if outcome.err != nil {
			return models.Fail(models.ErrorProviderUnavailable, fmt.Sprintf("read reply: %v", outcome.err), start)
		}
		if outcome.frame.Result == nil {
			return models.Fail(models.ErrorProviderError, "provider sent empty result", start)
		}
		r := outcome.frame.Result
		return models.InvocationResult{
			Success:      r.Success,
			Data:         r.Data,
			ErrorKind:    models.ErrorKind(r.ErrorType),
			ErrorMessage: r.ErrorMessage,
			ElapsedNS:    int64(0),
		}
	case <-s.srv.dialTimeoutChan():
		return models.Fail(models.ErrorTimeout, "no reply from provider before timeout", start)
	case <-ctx.Done():
		return models.Fail(models.ErrorTimeout, ctx.Err().Error(), start)
	}
}

// handleExecuteToolAction is the inbound variant used when this server code
// runs in provider mode: it dispatches to the pre-registered ActionHandler
// instead of looking anything up in a registry (a provider-mode server
// typically has no registry of its own).
func (s *ControlPlaneSession) handleExecuteToolAction(ctx context.Context, frame *Frame) *Frame {
	if s.srv.role != RoleProvider || s.srv.actionHandler == nil {
		return errorFrame(frame.RequestID, errNotProviderMode.Error(), "forbidden")
	}
	if frame.Action == "" {
		return errorFrame(frame.RequestID, errMissingAction.Error(), "invalid_argument")
	}
	result := s.srv.actionHandler(ctx, frame.Action, frame.Parameters)
	wire := ToWireResult(result)
	return &Frame{
		Type:      "execute_tool_action",
		RequestID: frame.RequestID,
		Success:   boolPtr(result.Success),
		Result:    &wire,
	}
}
