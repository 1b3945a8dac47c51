package tools

import (
	"fmt"
	"log/slog"

	"github.com/marvijo-code/ultimate-llm-arena/internal/domain"
)

// Entry pairs a tool definition with the strategy that runs it
type Entry struct {
	Tool    domain.CodingTool
	Invoker Invoker
}

// Registry is an immutable id to tool table
type Registry struct {
	entries []Entry
	byID    map[string]int
}

// NewRegistry builds a registry from explicit entries. Later entries with
// a duplicate id replace earlier ones.
func NewRegistry(entries ...Entry) *Registry {
	r := &Registry{byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if i, ok := r.byID[e.Tool.ID]; ok {
			r.entries[i] = e
			continue
		}
		r.byID[e.Tool.ID] = len(r.entries)
		r.entries = append(r.entries, e)
	}
	return r
}

// Deps are the collaborators shared by the built invokers
type Deps struct {
	Credentials CredentialSource
	Completer   Completer
	Direct      DirectSettings
	// ProviderBaseURL is exported as OPENAI_API_BASE for OpenAI compatible tools
	ProviderBaseURL string
	Logger          *slog.Logger
}

// Build maps each definition to its strategy: an empty command template
// gets a DirectInvoker, everything else a CommandInvoker.
func Build(defs []domain.CodingTool, deps Deps) (*Registry, error) {
	entries := make([]Entry, 0, len(defs))
	for _, def := range defs {
		var inv Invoker
		if def.IsDirect() {
			if deps.Completer == nil {
				return nil, fmt.Errorf("tool %q needs an LLM client", def.ID)
			}
			inv = NewDirectInvoker(def, deps.Completer, deps.Credentials, deps.Direct, deps.Logger)
		} else {
			inv = NewCommandInvoker(def, deps.Credentials, deps.ProviderBaseURL, deps.Logger)
		}
		entries = append(entries, Entry{Tool: def, Invoker: inv})
	}
	return NewRegistry(entries...), nil
}

// List returns the tool definitions in registration order
func (r *Registry) List() []domain.CodingTool {
	out := make([]domain.CodingTool, len(r.entries))
	for i, e := range r.entries {
		out[i] = e.Tool
	}
	return out
}

// Lookup returns the entry registered under id
func (r *Registry) Lookup(id string) (Entry, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Entry{}, false
	}
	return r.entries[i], true
}
