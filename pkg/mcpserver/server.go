// Package mcpserver exports agent tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Server serves agent tools to MCP clients. Every call goes through agent.SafeInvoke.
type Server struct {
	srv      *mcp.Server
	allowed  map[string]bool
	validate agent.ValidateFunc
	names    []string
}

type Option func(*Server)

// WithAllowedPermissions restricts the permissions exported tools may require.
func WithAllowedPermissions(allowed map[string]bool) Option {
	return func(s *Server) { s.allowed = allowed }
}

// WithValidator replaces the JSON schema validator.
func WithValidator(v agent.ValidateFunc) Option {
	return func(s *Server) { s.validate = v }
}

// New creates a server that announces itself as name/version.
func New(name, version string, opts ...Option) *Server {
	s := &Server{
		srv:      mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, nil),
		validate: agent.JSONSchemaValidator,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tools lists the exported tool names in registration order.
func (s *Server) Tools() []string { return append([]string(nil), s.names...) }

// AddTools exports tools. A tool whose input schema is not a JSON object schema is rejected
// with a configuration error.
func (s *Server) AddTools(tools ...agent.Tool) error {
	for _, t := range tools {
		d := agent.DescribeTool(t)
		if d.Name == "" {
			return errmodel.Configuration("unnamed_tool", "tool name is empty", nil)
		}
		var in jsonschema.Schema
		if err := json.Unmarshal(d.Spec().Parameters, &in); err != nil {
			return errmodel.Configuration("invalid_tool_schema", "tool input schema is not valid JSON schema", map[string]any{"tool": d.Name, "error": err.Error()})
		}
		if in.Type != "object" {
			return errmodel.Configuration("invalid_tool_schema", "tool input schema must describe an object", map[string]any{"tool": d.Name, "type": in.Type})
		}
		s.srv.AddTool(&mcp.Tool{Name: d.Name, Description: d.Description, InputSchema: &in}, s.handler(t))
		s.names = append(s.names, d.Name)
	}
	return nil
}

// AddRegistered exports every tool in the process-wide registry.
func (s *Server) AddRegistered() error {
	for _, name := range agent.RegisteredTools() {
		t, _ := agent.ResolveTool(name)
		if err := s.AddTools(t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handler(t agent.Tool) mcp.ToolHandler {
	name := t.Describe().Name
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		log := klog.FromContext(ctx)
		args := map[string]any{}
		if raw := req.Params.Arguments; len(raw) > 0 && string(raw) != "null" {
			if err := json.Unmarshal(raw, &args); err != nil {
				return errorResult(errmodel.Schema("malformed_arguments", "tool arguments are not a JSON object", map[string]any{"tool": name}, err)), nil
			}
		}
		out, err := agent.SafeInvoke(ctx, t, args, s.allowed, s.validate)
		if err != nil {
			log.V(2).Info("mcp tool call failed", "tool", name, "err", err)
			return errorResult(errmodel.From(err)), nil
		}
		b, err := json.Marshal(out)
		if err != nil {
			return nil, err
		}
		log.V(2).Info("mcp tool call", "tool", name)
		return &mcp.CallToolResult{
			Content:           []mcp.Content{&mcp.TextContent{Text: string(b)}},
			StructuredContent: out,
		}, nil
	}
}

func errorResult(e *errmodel.Error) *mcp.CallToolResult {
	b, _ := json.Marshal(e)
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(b)}}, IsError: true}
}

// Connect serves one session over t until the peer disconnects.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.srv.Connect(ctx, t, nil)
}

// ServeStdio serves a single client over stdin/stdout until ctx is done or the client leaves.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.srv.Run(ctx, &mcp.StdioTransport{})
}

// Handler serves the streamable HTTP transport.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}
