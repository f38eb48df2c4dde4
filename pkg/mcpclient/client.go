// Package mcpclient exposes the tools of a remote MCP server as agent tools.
package mcpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
)

// Implementation is how this client announces itself to servers.
var Implementation = &mcp.Implementation{Name: "toolagent", Version: "v0"}

// Client is a connected MCP session.
type Client struct {
	session *mcp.ClientSession
}

// Connect opens a session over t.
func Connect(ctx context.Context, t mcp.Transport) (*Client, error) {
	c := mcp.NewClient(Implementation, nil)
	session, err := c.Connect(ctx, t, nil)
	if err != nil {
		return nil, errmodel.Tool("mcp_connect", "cannot connect to MCP server", nil, err)
	}
	return &Client{session: session}, nil
}

// ConnectCommand starts name as a subprocess and speaks MCP over its stdin/stdout.
func ConnectCommand(ctx context.Context, name string, args ...string) (*Client, error) {
	return Connect(ctx, &mcp.CommandTransport{Command: exec.Command(name, args...)})
}

// ConnectHTTP connects to a streamable HTTP endpoint.
func ConnectHTTP(ctx context.Context, endpoint string) (*Client, error) {
	return Connect(ctx, &mcp.StreamableClientTransport{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	})
}

// Close ends the session.
func (c *Client) Close() error { return c.session.Close() }

// Tools lists every tool the server offers, following pagination.
func (c *Client) Tools(ctx context.Context) ([]agent.Tool, error) {
	var (
		out    []agent.Tool
		cursor string
	)
	for {
		res, err := c.session.ListTools(ctx, &mcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, errmodel.Tool("mcp_list_tools", "cannot list MCP tools", nil, err)
		}
		for _, t := range res.Tools {
			rt, err := newRemoteTool(c.session, t)
			if err != nil {
				return nil, err
			}
			out = append(out, rt)
		}
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
	}
	klog.FromContext(ctx).V(2).Info("listed mcp tools", "count", len(out))
	return out, nil
}

type remoteTool struct {
	session *mcp.ClientSession
	desc    agent.ToolDescriptor
}

func newRemoteTool(session *mcp.ClientSession, t *mcp.Tool) (*remoteTool, error) {
	d := agent.ToolDescriptor{Name: t.Name, Description: t.Description}
	if t.InputSchema != nil {
		b, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, errmodel.Schema("mcp_tool_schema", "cannot encode MCP tool input schema", map[string]any{"tool": t.Name}, err)
		}
		d.InputSchema = b
	}
	if t.OutputSchema != nil {
		b, err := json.Marshal(t.OutputSchema)
		if err != nil {
			return nil, errmodel.Schema("mcp_tool_schema", "cannot encode MCP tool output schema", map[string]any{"tool": t.Name}, err)
		}
		d.OutputSchema = b
	}
	return &remoteTool{session: session, desc: d}, nil
}

func (t *remoteTool) Describe() agent.ToolDescriptor { return t.desc }

// Invoke calls the remote tool. Structured content is returned as is; text content is decoded
// when it holds a JSON object and returned under "text" otherwise.
func (t *remoteTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	res, err := t.session.CallTool(ctx, &mcp.CallToolParams{Name: t.desc.Name, Arguments: args})
	if err != nil {
		return nil, err
	}
	text := contentText(res.Content)
	if res.IsError {
		return nil, errmodel.Tool("mcp_tool_error", "remote tool reported an error", map[string]any{"tool": t.desc.Name, "detail": text}, nil)
	}
	if res.StructuredContent != nil {
		b, err := json.Marshal(res.StructuredContent)
		if err != nil {
			return nil, err
		}
		var out map[string]any
		if err := json.Unmarshal(b, &out); err == nil && out != nil {
			return out, nil
		}
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(text), &out); err == nil && out != nil {
		return out, nil
	}
	return map[string]any{"text": text}, nil
}

func contentText(content []mcp.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
