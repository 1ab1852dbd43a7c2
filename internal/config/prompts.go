package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

const defaultSystemPrompt = `You are an autonomous agent operating inside a long-running control plane.
You have tools for the filesystem, shell, and web search within your workspace.
Use them deliberately and keep your responses focused.`

const defaultAutonomousPrompt = `Continue your current objective. If nothing is in flight, review your
recent notables and decide what to work on next.`

// PromptVars carries the substitution values prompt files may reference via
// {{var}}. Every field here is a recognised variable name.
type PromptVars struct {
	Port           int
	Workspace      string
	OllamaEndpoint string
	OllamaModel    string
	ContextSize    int
}

func (v PromptVars) asMap() map[string]string {
	return map[string]string{
		"port":            strconv.Itoa(v.Port),
		"workspace":       v.Workspace,
		"ollama_endpoint": v.OllamaEndpoint,
		"ollama_model":    v.OllamaModel,
		"context_size":    strconv.Itoa(v.ContextSize),
	}
}

// varPattern matches a bare {{name}} reference, deliberately not the
// dot-prefixed {{.name}} form text/template normally expects -- prompt
// files use the flatter syntax operators actually write by hand.
var varPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// RenderPrompt substitutes {{var}} references in text against vars,
// leaving unrecognised references untouched rather than erroring: a typo'd
// variable name in an operator-supplied prompt shouldn't crash the harness.
func RenderPrompt(text string, vars PromptVars) string {
	values := vars.asMap()
	return varPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := values[name]; ok {
			return v
		}
		return match
	})
}

// LoadSystemPrompt reads the system prompt from path if set, substituting
// vars, and falls back to the built-in default when path is empty or
// unreadable.
func LoadSystemPrompt(path string, vars PromptVars) (string, error) {
	return loadPrompt(path, defaultSystemPrompt, vars)
}

// LoadAutonomousPrompt is LoadSystemPrompt's counterpart for the nudge
// prompt used to kick off an autonomous_tick with nothing queued.
func LoadAutonomousPrompt(path string, vars PromptVars) (string, error) {
	return loadPrompt(path, defaultAutonomousPrompt, vars)
}

func loadPrompt(path, fallback string, vars PromptVars) (string, error) {
	if path == "" {
		return RenderPrompt(fallback, vars), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read prompt %s: %w", path, err)
	}
	return RenderPrompt(string(data), vars), nil
}
