// Package config loads the harness's configuration surface: model
// connection details, the workspace root tools are confined to, the
// listen port, the context budget, and operator-supplied prompt files.
// Everything not named here (transport wiring, persistence backend
// selection, individual tool credentials beyond the web-search key) is a
// bootstrap concern left to cmd/agentcpd.
package config

import "time"

// Config is the harness's top-level configuration structure.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Server    ServerConfig    `yaml:"server"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Context   ContextConfig   `yaml:"context"`
	Prompts   PromptsConfig   `yaml:"prompts"`
	Tools     ToolsConfig     `yaml:"tools"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ModelConfig points at the OpenAI-compatible chat-completions endpoint the
// runtime streams turns from.
type ModelConfig struct {
	// Endpoint is the base URL of the chat-completions endpoint.
	Endpoint string `yaml:"endpoint"`

	// Name is the model identifier passed on every request.
	Name string `yaml:"name"`

	// APIKey authenticates against Endpoint. Empty is valid for local
	// OpenAI-compatible servers (Ollama, llama.cpp) that don't check it.
	APIKey string `yaml:"api_key"`

	// MaxTokens bounds the length of a single completion.
	MaxTokens int `yaml:"max_tokens"`

	// RequestTimeout bounds a single streaming call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ServerConfig configures the control-plane's own listen port. The HTTP/
// WebSocket gateway built on top of it is a bootstrap concern; this just
// reserves the port operators put in front of it.
type ServerConfig struct {
	ListenPort int `yaml:"listen_port"`
}

// WorkspaceConfig names the filesystem root the file and shell tools are
// confined to, and the parent directory of the durable store.
type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

// ContextConfig sizes the token budget the context manager classifies
// pressure against.
type ContextConfig struct {
	Size int `yaml:"size"`
}

// PromptsConfig names operator-supplied prompt files. Either may be left
// empty to fall back to the harness's built-in defaults.
type PromptsConfig struct {
	SystemPromptPath     string `yaml:"system_prompt_path"`
	AutonomousPromptPath string `yaml:"autonomous_prompt_path"`
}

// ToolsConfig configures optional tool capabilities that need credentials
// or external services.
type ToolsConfig struct {
	// SearchAPIKey enables the web-search tool when set.
	SearchAPIKey string `yaml:"search_api_key"`

	// Background names tool-name patterns dispatched in background mode.
	Background []string `yaml:"background"`

	// Timed names tool-name patterns dispatched with an automatic deadline.
	Timed []string `yaml:"timed"`

	// TimedDeadline bounds a timed tool call before it's backgrounded.
	TimedDeadline time.Duration `yaml:"timed_deadline"`
}

// LoggingConfig configures the structured logger cmd/agentcpd installs
// before constructing any other collaborator.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Default returns a Config populated with the same fallbacks the harness
// uses when an option is absent from the loaded file.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Endpoint:       "http://localhost:11434/v1",
			Name:           "llama3",
			MaxTokens:      4096,
			RequestTimeout: 2 * time.Minute,
		},
		Server: ServerConfig{ListenPort: 8080},
		Workspace: WorkspaceConfig{
			Path: "./workspace",
		},
		Context: ContextConfig{Size: 32000},
		Tools: ToolsConfig{
			Background:    []string{"background_*"},
			Timed:         []string{"terminal"},
			TimedDeadline: 5 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}
