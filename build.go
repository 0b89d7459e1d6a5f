package agentexec

import (
	"fmt"
	"io"
	"os"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/redis/go-redis/v9"

	"github.com/hupe1980/agentexec/agent"
	"github.com/hupe1980/agentexec/cache"
	"github.com/hupe1980/agentexec/config"
	"github.com/hupe1980/agentexec/embedding"
	"github.com/hupe1980/agentexec/engine"
	"github.com/hupe1980/agentexec/execution"
	"github.com/hupe1980/agentexec/logging"
	"github.com/hupe1980/agentexec/memory"
	"github.com/hupe1980/agentexec/model"
	"github.com/hupe1980/agentexec/model/anthropic"
	"github.com/hupe1980/agentexec/model/openai"
	"github.com/hupe1980/agentexec/session"
	"github.com/hupe1980/agentexec/stream"
	"github.com/hupe1980/agentexec/tool"
	"github.com/hupe1980/agentexec/vectorstore"
)

// DefaultAgentID is the agent registered when no agents file is configured.
const DefaultAgentID = "assistant"

// ScriptedReply is the answer of the "scripted" LLM provider.
const ScriptedReply = "I am running without a language model. Configure llm.provider to get real answers."

// NewLogger builds the RunLogger described by cfg.
func NewLogger(cfg config.LogConfig, out io.Writer) (*logging.RunLogger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	return logging.New(&logging.Config{Level: level, Format: cfg.Format, Output: out, Component: "agentexec"}), nil
}

// NewGateway builds the LLM gateway selected by cfg.
func NewGateway(cfg config.LLMConfig) (model.Gateway, error) {
	switch cfg.Provider {
	case "openai":
		return openai.NewModel(func(o *openai.Options) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.Temperature = cfg.Temperature
			o.MaxCompletionTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
			o.BaseURL = cfg.BaseURL
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			if cfg.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Model)
			}
			o.Temperature = cfg.Temperature
			o.MaxTokens = cfg.MaxTokens
			o.APIKey = cfg.APIKey
		}), nil
	case "scripted":
		return model.NewScriptedModel(model.Turn{Text: ScriptedReply}).RepeatLast(), nil
	}
	return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
}

// NewEmbedder builds the embedder selected by cfg.
func NewEmbedder(cfg config.EmbeddingConfig) (embedding.Embedder, error) {
	switch cfg.Provider {
	case "openai":
		return embedding.NewOpenAIEmbedder(func(o *embedding.OpenAIOptions) {
			if cfg.Model != "" {
				o.Model = cfg.Model
			}
			o.APIKey = cfg.APIKey
		}), nil
	case "hash":
		return embedding.NewHashEmbedder(cfg.Dimensions), nil
	}
	return nil, fmt.Errorf("unsupported embedding provider %q", cfg.Provider)
}

// LoadAgents reads the agents file, or returns the default assistant when
// path is empty. Agents without a system prompt get defaultPrompt.
func LoadAgents(path, defaultPrompt string) (*agent.Registry, error) {
	cfgs := []*agent.Config{{ID: DefaultAgentID, Name: "Assistant"}}
	if path != "" {
		loaded, err := agent.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfgs = loaded
	}
	for _, c := range cfgs {
		if c.SystemPrompt == "" && c.Instruction.IsZero() {
			c.SystemPrompt = defaultPrompt
		}
	}
	return agent.NewRegistry(cfgs...)
}

// NewFromConfig builds every component from cfg. optFns run after the
// config-derived options, so callers can still replace collaborators; set
// Metrics there to enable Prometheus instrumentation.
func NewFromConfig(cfg *config.Config, optFns ...func(o *Options)) (ax *AgentExec, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg.Log, nil)
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
		}
	}()

	var rdb redis.UniversalClient
	if cfg.UsesRedis() {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		closers = append(closers, rdb)
	}

	gateway, err := NewGateway(cfg.LLM)
	if err != nil {
		return nil, err
	}
	embedder, err := NewEmbedder(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	agents, err := LoadAgents(cfg.AgentsFile, cfg.Engine.DefaultSystemPrompt)
	if err != nil {
		return nil, fmt.Errorf("load agents: %w", err)
	}
	parser, err := engine.ParserByName(cfg.Engine.ToolCallParser)
	if err != nil {
		return nil, err
	}

	var vectors vectorstore.Store = vectorstore.NewInMemoryStore()
	if cfg.VectorStore.Driver == "sqlite" {
		s, err := vectorstore.OpenSQLite(cfg.VectorStore.DSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, s)
		vectors = s
	}

	var sessions session.Store = session.NewInMemoryStore()
	if cfg.Session.Driver == "sqlite" {
		s, err := session.OpenSQLite(cfg.Session.DSN)
		if err != nil {
			return nil, err
		}
		closers = append(closers, s)
		sessions = s
	}

	var (
		c      cache.Cache         = cache.NewInMemoryCache()
		recent memory.RecentWindow = memory.NewInMemoryRecentWindow(cfg.Memory.RecentWindow)
	)
	if cfg.Cache.Driver == "redis" {
		c = cache.NewRedisCache(rdb)
		recent = memory.NewRedisRecentWindow(rdb, cfg.Memory.RecentWindow, cfg.Memory.RecentTTL)
	}

	mc := cfg.Memory
	longTerm := memory.NewLongTerm(vectors, embedder, c, func(o *memory.LongTermOptions) {
		o.BatchSize = mc.BatchSize
		o.MaxEntries = mc.MaxEntries
		o.MaxTextLength = mc.MaxTextLength
		o.MaxSearchResults = mc.MaxSearchResults
		o.DefaultTopK = mc.DefaultTopK
		o.MinSimilarity = mc.MinSimilarity
		o.SearchTTL = mc.SearchTTL
		o.StatsTTL = mc.StatsTTL
	})

	opts := Options{Logger: logger, Parser: parser, Sessions: sessions}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Memory == nil {
		opts.Memory = memory.NewManager(recent, longTerm, func(o *memory.Options) {
			o.Policy = memory.Policy{
				EmbedEvery:      mc.EmbedEvery,
				VectorThreshold: mc.VectorThreshold,
				RecentThreshold: mc.RecentThreshold,
			}
			o.RestoreWindow = mc.RecentWindow
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
		})
	}
	if opts.Documents == nil {
		opts.Documents = tool.NewDocumentIndex(vectors, embedder)
	}
	if opts.Tracker == nil {
		opts.Tracker = execution.NewTracker(func(o *execution.Options) { o.Logger = opts.Logger })
	}
	if opts.Streams == nil {
		sc := cfg.Stream
		opts.Streams = stream.NewManager(func(o *stream.Options) {
			o.CompleteRetention = sc.CompleteRetention
			o.ErrorRetention = sc.ErrorRetention
			o.SubscriberBuffer = sc.Buffer
			o.Logger = opts.Logger
			o.Metrics = opts.Metrics
			if sc.Store == "redis" {
				o.Store = stream.NewRedisSessionStore(rdb)
				o.Sinks = append(o.Sinks, stream.NewRedisSink(rdb, opts.Logger))
			}
		})
	}
	opts.BuiltinOptions = append([]func(o *tool.BuiltinOptions){func(o *tool.BuiltinOptions) {
		o.DefaultTimezone = cfg.Tools.DefaultTimezone
	}}, opts.BuiltinOptions...)
	if opts.MaxIterations == 0 {
		opts.MaxIterations = cfg.Engine.MaxIterations
	}
	if opts.MaxPriorTurns == 0 {
		opts.MaxPriorTurns = cfg.Engine.MaxPriorTurns
	}
	opts.Closers = append(closers, opts.Closers...)

	return New(gateway, agents, func(o *Options) { *o = opts })
}
