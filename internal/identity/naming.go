package identity

import (
	"fmt"
	"strings"
)

// CanonicalSource groups a canonical name by where the tool comes from, used
// for admin-side diagnostics and filtering (e.g. "show me every mcp: tool").
// This is additive structure over the registry_id namespace, not a second
// resolution path: Resolve always operates on the flat registry_id space.
type CanonicalSource string

const (
	SourceCore CanonicalSource = "core"
	SourceMCP  CanonicalSource = "mcp"
	SourceEdge CanonicalSource = "edge"
)

// CanonicalName is a parsed core./mcp:/edge: identifier.
type CanonicalName struct {
	Source    CanonicalSource
	Namespace string // server/edge id; empty for core
	Name      string
}

func isCanonicalForm(s string) bool {
	return strings.HasPrefix(s, "core.") || strings.HasPrefix(s, "mcp:") || strings.HasPrefix(s, "edge:")
}

// ParseCanonical parses a core./mcp:/edge: identifier. Inputs with no
// recognized prefix are treated as bare core tool names.
func ParseCanonical(s string) (CanonicalName, error) {
	switch {
	case strings.HasPrefix(s, "core."):
		name := strings.TrimPrefix(s, "core.")
		if name == "" {
			return CanonicalName{}, fmt.Errorf("invalid core tool name: %q", s)
		}
		return CanonicalName{Source: SourceCore, Name: name}, nil

	case strings.HasPrefix(s, "mcp:"):
		rest := strings.TrimPrefix(s, "mcp:")
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return CanonicalName{}, fmt.Errorf("invalid mcp tool name: %q", s)
		}
		return CanonicalName{Source: SourceMCP, Namespace: parts[0], Name: parts[1]}, nil

	case strings.HasPrefix(s, "edge:"):
		rest := strings.TrimPrefix(s, "edge:")
		parts := strings.SplitN(rest, ".", 2)
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return CanonicalName{}, fmt.Errorf("invalid edge tool name: %q", s)
		}
		return CanonicalName{Source: SourceEdge, Namespace: parts[0], Name: parts[1]}, nil

	default:
		return CanonicalName{Source: SourceCore, Name: s}, nil
	}
}

// String renders the canonical form back to its wire spelling.
func (c CanonicalName) String() string {
	switch c.Source {
	case SourceMCP:
		return fmt.Sprintf("mcp:%s.%s", c.Namespace, c.Name)
	case SourceEdge:
		return fmt.Sprintf("edge:%s.%s", c.Namespace, c.Name)
	default:
		return fmt.Sprintf("core.%s", c.Name)
	}
}

// Matches reports whether this canonical name satisfies a glob-style filter
// pattern: "*" (everything), "core.*"/"mcp:*"/"edge:*" (source wildcard), or
// "mcp:server.*" (namespace wildcard), in addition to an exact match.
func (c CanonicalName) Matches(pattern string) bool {
	if pattern == "*" {
		return true
	}
	full := c.String()
	if pattern == full {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		prefix := strings.TrimSuffix(pattern, "*")
		return strings.HasPrefix(full, prefix)
	}
	return false
}
