package main

import (
	"context"
	"errors"
	"os"
	"slices"
	"strings"

	"k8s.io/klog/v2"

	"github.com/wilhg/toolagent/pkg/adapters/embedding"
	_ "github.com/wilhg/toolagent/pkg/adapters/embedding/fake"
	_ "github.com/wilhg/toolagent/pkg/adapters/embedding/gemini"
	_ "github.com/wilhg/toolagent/pkg/adapters/embedding/openai"
	_ "github.com/wilhg/toolagent/pkg/adapters/llm/gemini"
	"github.com/wilhg/toolagent/pkg/adapters/vectorstore"
	_ "github.com/wilhg/toolagent/pkg/adapters/vectorstore/chromadb"
	_ "github.com/wilhg/toolagent/pkg/adapters/vectorstore/memory"
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/agent/tools"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/fnagent"
	"github.com/wilhg/toolagent/pkg/instrumentation"
	"github.com/wilhg/toolagent/pkg/mcpclient"
	"github.com/wilhg/toolagent/pkg/store"
	"github.com/wilhg/toolagent/pkg/toolindex"
)

// agentFactory builds an agent for a session. With a store the session's transcript is
// restored and kept; without one every agent starts empty.
type agentFactory func(ctx context.Context, sessionID string) (*fnagent.Agent, error)

// backend is what the commands share: the agent factory and, when configured, the store.
type backend struct {
	newAgent agentFactory
	store    *store.Store
	close    func()
}

// newBackend resolves the tools and opens the store once. close disconnects the MCP servers
// and closes the store.
func newBackend(ctx context.Context, opt Options) (*backend, error) {
	ts, closeTools, err := loadTools(ctx, opt)
	if err != nil {
		return nil, err
	}
	b := &backend{close: closeTools}
	if opt.DatabaseURL != "" {
		st, err := store.Open(ctx, opt.DatabaseURL)
		if err != nil {
			closeTools()
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			closeTools()
			return nil, err
		}
		b.store = st
		b.close = func() {
			closeTools()
			_ = st.Close()
		}
	}
	var retriever agent.ToolRetriever
	if opt.ToolTopK > 0 {
		if retriever, err = buildRetriever(ctx, opt, ts); err != nil {
			b.close()
			return nil, err
		}
	}
	d := instrumentation.NewDispatcher(instrumentation.LogSink{Level: 2}, instrumentation.SpanSink{})
	opts := opt.agentOptions(ts, retriever, d)
	b.newAgent = func(ctx context.Context, sessionID string) (*fnagent.Agent, error) {
		if b.store == nil {
			return fnagent.FromDefaults(ctx, opts...)
		}
		return fnagent.FromDefaults(ctx, append(slices.Clip(opts), fnagent.WithTranscript(b.store, sessionID))...)
	}
	return b, nil
}

// buildRetriever indexes ts for similarity lookup.
func buildRetriever(ctx context.Context, o Options, ts []agent.Tool) (agent.ToolRetriever, error) {
	ef, ok := embedding.Resolve(o.Embedder)
	if !ok {
		return nil, errmodel.Configuration("unknown_embedder", "no embedding provider registered under this name", map[string]any{"embedder": o.Embedder, "known": embedding.Names()})
	}
	emb, err := ef(ctx, map[string]any{})
	if err != nil {
		return nil, err
	}
	vf, ok := vectorstore.Resolve(o.VectorStore)
	if !ok {
		return nil, errmodel.Configuration("unknown_vector_store", "no vector store registered under this name", map[string]any{"vector_store": o.VectorStore})
	}
	vs, err := vf(ctx, map[string]any{})
	if err != nil {
		return nil, err
	}
	ix := toolindex.New(emb, vs, toolindex.WithNamespace("toolagent"), toolindex.WithTopK(o.ToolTopK))
	if err := ix.Add(ctx, ts...); err != nil {
		return nil, err
	}
	return ix, nil
}

func (o Options) agentOptions(ts []agent.Tool, retriever agent.ToolRetriever, d *instrumentation.Dispatcher) []fnagent.Option {
	cfg := map[string]any{}
	if o.Model != "" {
		cfg["model"] = o.Model
	}
	if o.BaseURL != "" {
		cfg["base_url"] = o.BaseURL
	}
	opts := []fnagent.Option{
		fnagent.WithProvider(o.Provider, cfg),
		fnagent.WithMaxFunctionCalls(o.MaxFunctionCalls),
		fnagent.WithVerbose(o.Verbose),
		fnagent.WithDispatcher(d),
	}
	if retriever != nil {
		opts = append(opts, fnagent.WithToolRetriever(retriever))
	} else {
		opts = append(opts, fnagent.WithTools(ts...))
	}
	if o.SystemPrompt != "" {
		opts = append(opts, fnagent.WithSystemPrompt(o.SystemPrompt))
	}
	if len(o.Permissions) > 0 {
		opts = append(opts, fnagent.WithAllowedPermissions(o.Permissions...))
	}
	return opts
}

// loadTools returns the selected built-in tools followed by the tools of every MCP server.
func loadTools(ctx context.Context, o Options) ([]agent.Tool, func(), error) {
	ts, err := tools.Select(os.DirFS(o.Workspace), o.Tools...)
	if err != nil {
		return nil, nil, err
	}
	var clients []*mcpclient.Client
	closeAll := func() {
		for _, c := range clients {
			if err := c.Close(); err != nil {
				klog.FromContext(ctx).V(2).Info("closing mcp session", "err", err)
			}
		}
	}
	for _, line := range o.MCPServers {
		fields := strings.Fields(line)
		if len(fields) == 0 {
			closeAll()
			return nil, nil, errmodel.Configuration("empty_mcp_server", "MCP server command is empty", nil)
		}
		c, err := mcpclient.ConnectCommand(ctx, fields[0], fields[1:]...)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		clients = append(clients, c)
		remote, err := c.Tools(ctx)
		if err != nil {
			closeAll()
			return nil, nil, errors.Join(errmodel.Configuration("mcp_tools", "cannot list tools of MCP server", map[string]any{"command": line}), err)
		}
		ts = append(ts, remote...)
	}
	return ts, closeAll, nil
}
