package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/wilhg/toolagent/pkg/fnagent"
)

// Options is the CLI configuration. Values come from defaults, then the YAML config files,
// then flags.
type Options struct {
	Provider     string `json:"provider,omitempty"`
	Model        string `json:"model,omitempty"`
	BaseURL      string `json:"baseURL,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty"`
	// Tools lists the built-in tools offered to the model, e.g. fs.read, http.get.
	Tools []string `json:"tools,omitempty"`
	// Workspace is the sandbox root of fs.read.
	Workspace string `json:"workspace,omitempty"`
	// Permissions granted to tools; empty grants every permission.
	Permissions []string `json:"permissions,omitempty"`
	// ToolTopK > 0 offers only the ToolTopK tools most similar to each message, found with
	// Embedder over VectorStore, instead of every tool.
	ToolTopK    int    `json:"toolTopK,omitempty"`
	Embedder    string `json:"embedder,omitempty"`
	VectorStore string `json:"vectorStore,omitempty"`
	// MCPServers are commands started as MCP servers whose tools are offered too.
	MCPServers       []string `json:"mcpServers,omitempty"`
	MaxFunctionCalls int      `json:"maxFunctionCalls,omitempty"`
	Verbose          bool     `json:"verbose,omitempty"`
	Addr             string   `json:"addr,omitempty"`
	// DatabaseURL persists chat sessions when set; see store.Open for the accepted forms.
	DatabaseURL string `json:"databaseURL,omitempty"`
	TraceStdout      bool     `json:"traceStdout,omitempty"`
}

var defaultConfigPaths = []string{
	filepath.Join("{CONFIG}", "toolagent", "config.yaml"),
	filepath.Join("{HOME}", ".config", "toolagent", "config.yaml"),
}

func (o *Options) InitDefaults() {
	o.Provider = "openai"
	o.Tools = []string{}
	o.Workspace = "."
	o.MaxFunctionCalls = fnagent.DefaultMaxFunctionCalls
	o.Embedder = "openai"
	o.VectorStore = "memory"
	o.Addr = getEnv("TOOLAGENT_ADDR", ":8080")
	o.DatabaseURL = getEnv("DATABASE_URL", "")
}

func (o *Options) LoadConfiguration(b []byte) error {
	if err := yaml.Unmarshal(b, o); err != nil {
		return fmt.Errorf("parsing configuration: %w", err)
	}
	return nil
}

// LoadConfigurationFile applies every config file that exists; missing files are skipped.
func (o *Options) LoadConfigurationFile() error {
	for _, p := range defaultConfigPaths {
		if strings.Contains(p, "{CONFIG}") {
			dir, err := os.UserConfigDir()
			if err != nil {
				continue
			}
			p = strings.ReplaceAll(p, "{CONFIG}", dir)
		}
		if strings.Contains(p, "{HOME}") {
			dir, err := os.UserHomeDir()
			if err != nil {
				continue
			}
			p = strings.ReplaceAll(p, "{HOME}", dir)
		}
		b, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "warning: could not load defaults from %q: %v\n", p, err)
			}
			continue
		}
		if len(b) == 0 {
			continue
		}
		if err := o.LoadConfiguration(b); err != nil {
			fmt.Fprintf(os.Stderr, "warning: error loading configuration from %q: %v\n", p, err)
		}
	}
	return nil
}

func (o *Options) bindAgentFlags(f *pflag.FlagSet) {
	f.StringVar(&o.Provider, "llm-provider", o.Provider, "language model provider (openai, gemini)")
	f.StringVar(&o.Model, "model", o.Model, "language model name; empty uses the provider default")
	f.StringVar(&o.BaseURL, "base-url", o.BaseURL, "override the provider API endpoint")
	f.StringVar(&o.SystemPrompt, "system-prompt", o.SystemPrompt, "system prompt prepended to every model call")
	f.StringSliceVar(&o.Tools, "tools", o.Tools, "built-in tools to offer (fs.read, http.get)")
	f.StringVar(&o.Workspace, "workspace", o.Workspace, "sandbox root for fs.read")
	f.StringSliceVar(&o.Permissions, "allow", o.Permissions, "permissions granted to tools; empty grants all")
	f.StringArrayVar(&o.MCPServers, "mcp-server", o.MCPServers, "command line of an MCP server whose tools are offered (repeatable)")
	f.IntVar(&o.ToolTopK, "tool-top-k", o.ToolTopK, "offer only the k tools most similar to the message; 0 offers all")
	f.StringVar(&o.Embedder, "embedder", o.Embedder, "embedding provider for tool retrieval (openai, gemini, fake)")
	f.StringVar(&o.VectorStore, "vector-store", o.VectorStore, "vector store for tool retrieval (memory, chromadb)")
	f.IntVar(&o.MaxFunctionCalls, "max-function-calls", o.MaxFunctionCalls, "maximum tool calls per user turn")
	f.BoolVar(&o.Verbose, "verbose", o.Verbose, "log every tool call")
	f.StringVar(&o.DatabaseURL, "database-url", o.DatabaseURL, "postgres:// or sqlite: URL where chat sessions are kept")
	f.BoolVar(&o.TraceStdout, "trace-stdout", o.TraceStdout, "export traces to stdout")
}

func getEnv(key string, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
