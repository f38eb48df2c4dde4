package fnagent

import (
	"context"
	"maps"

	"github.com/wilhg/toolagent/pkg/adapters/llm"
	_ "github.com/wilhg/toolagent/pkg/adapters/llm/openai" // default provider
	"github.com/wilhg/toolagent/pkg/agent"
	"github.com/wilhg/toolagent/pkg/errmodel"
	"github.com/wilhg/toolagent/pkg/instrumentation"
	"github.com/wilhg/toolagent/pkg/memory"
)

type options struct {
	cfg          Config
	provider     string
	providerCfg  map[string]any
	history      []llm.Message
	systemPrompt string
	systemSet    bool
	prefixSet    bool
	transcript   memory.Transcript
	session      string
}

// Option configures FromDefaults.
type Option func(*options)

// WithLLM sets the model directly.
func WithLLM(m llm.LLM) Option { return func(o *options) { o.cfg.LLM = m } }

// WithProvider resolves the model from a registered provider factory, e.g. "openai" or "gemini".
func WithProvider(name string, cfg map[string]any) Option {
	return func(o *options) { o.provider, o.providerCfg = name, cfg }
}

// WithTools sets the tools offered on every turn.
func WithTools(tools ...agent.Tool) Option {
	return func(o *options) { o.cfg.Tools = append(o.cfg.Tools, tools...) }
}

// WithToolRetriever selects tools per turn instead of a fixed list.
func WithToolRetriever(r agent.ToolRetriever) Option {
	return func(o *options) { o.cfg.ToolRetriever = r }
}

// WithChatHistory seeds the default memory. Ignored when WithMemory is also given.
func WithChatHistory(history []llm.Message) Option {
	return func(o *options) { o.history = llm.CloneMessages(history) }
}

// WithMemory replaces the default token-windowed buffer.
func WithMemory(m agent.Memory) Option { return func(o *options) { o.cfg.Memory = m } }

// WithTranscript persists the default memory under sessionID, restoring whatever the
// transcript already holds. Ignored when WithMemory is also given.
func WithTranscript(t memory.Transcript, sessionID string) Option {
	return func(o *options) { o.transcript, o.session = t, sessionID }
}

// WithVerbose logs every step at the default klog level instead of V(2).
func WithVerbose(v bool) Option { return func(o *options) { o.cfg.Verbose = v } }

// WithMaxFunctionCalls sets the per-turn tool call budget.
func WithMaxFunctionCalls(n int) Option { return func(o *options) { o.cfg.MaxFunctionCalls = n } }

// WithSystemPrompt primes every call with one system message. Conflicts with WithPrefixMessages.
func WithSystemPrompt(s string) Option {
	return func(o *options) {
		o.systemPrompt = s
		o.systemSet = true
	}
}

// WithPrefixMessages primes every call with msgs. Conflicts with WithSystemPrompt.
func WithPrefixMessages(msgs ...llm.Message) Option {
	return func(o *options) {
		o.cfg.PrefixMessages = llm.CloneMessages(msgs)
		o.prefixSet = true
	}
}

// WithDispatcher publishes instrumentation events for every model call to d.
func WithDispatcher(d *instrumentation.Dispatcher) Option {
	return func(o *options) { o.cfg.Dispatcher = d }
}

// WithAllowedPermissions restricts the permissions tools may require.
func WithAllowedPermissions(perms ...string) Option {
	return func(o *options) {
		o.cfg.AllowedPermissions = make(map[string]bool, len(perms))
		for _, p := range perms {
			o.cfg.AllowedPermissions[p] = true
		}
	}
}

// WithMaxSteps caps worker steps per turn.
func WithMaxSteps(n int) Option { return func(o *options) { o.cfg.MaxSteps = n } }

// FromDefaults builds an agent, filling in what the options leave out: the openai provider
// with DefaultModelName, a token-windowed buffer sized for the model, and
// DefaultMaxFunctionCalls.
func FromDefaults(ctx context.Context, opts ...Option) (*Agent, error) {
	o := options{cfg: Config{MaxFunctionCalls: DefaultMaxFunctionCalls}}
	for _, opt := range opts {
		opt(&o)
	}

	if o.systemSet && o.prefixSet {
		return nil, errmodel.Configuration("conflicting_prefix", "a system prompt and prefix messages cannot both be set", nil)
	}
	if o.systemPrompt != "" {
		o.cfg.PrefixMessages = []llm.Message{{Role: llm.RoleSystem, Content: o.systemPrompt}}
	}

	if o.cfg.LLM == nil {
		name, cfg := o.provider, o.providerCfg
		if name == "" {
			name = "openai"
		}
		cfg = maps.Clone(cfg)
		if cfg == nil {
			cfg = map[string]any{}
		}
		if name == "openai" {
			if _, ok := cfg["model"]; !ok {
				cfg["model"] = DefaultModelName
			}
		}
		factory, ok := llm.Resolve(name)
		if !ok {
			return nil, errmodel.Configuration("unknown_provider", "no LLM provider registered under this name", map[string]any{"provider": name})
		}
		m, err := factory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		o.cfg.LLM = m
	}

	if o.cfg.Memory == nil {
		buf := memory.ForModel(o.cfg.LLM.Metadata(), o.history)
		o.cfg.Memory = buf
		if o.transcript != nil {
			d, err := memory.NewDurable(ctx, buf, o.transcript, o.session)
			if err != nil {
				return nil, err
			}
			o.cfg.Memory = d
		}
	}
	return New(o.cfg)
}
