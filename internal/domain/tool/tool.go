// Package tool defines the tool registry consulted by the dispatcher and
// the handler contract for tool implementations.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Context carries the caller identity into a handler.
type Context struct {
	Tenant  string
	Subject string
}

// Result is the MCP-shaped outcome of a tool call.
type Result struct {
	Content           []Content      `json:"content"`
	StructuredContent map[string]any `json:"structuredContent,omitempty"`
	IsError           bool           `json:"isError,omitempty"`
}

// Content is one MCP content block.
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Text builds a single-text-block result.
func Text(msg string) *Result {
	return &Result{Content: []Content{{Type: "text", Text: msg}}}
}

// Errorf builds a single-text-block error result.
func Errorf(format string, args ...any) *Result {
	r := Text(fmt.Sprintf(format, args...))
	r.IsError = true
	return r
}

// Handler executes a tool call. Returned errors surface as tool errors to
// the caller, not as transport failures.
type Handler func(ctx context.Context, args map[string]any, tc Context) (*Result, error)

// Descriptor is the tools/list entry for one tool.
type Descriptor struct {
	Name         string         `json:"name"`
	Title        string         `json:"title,omitempty"`
	Description  string         `json:"description,omitempty"`
	InputSchema  map[string]any `json:"inputSchema"`
	OutputSchema map[string]any `json:"outputSchema,omitempty"`
}

// UnknownToolError is returned when no handler is registered for a name.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}

// Registry is a static name to handler mapping, safe for concurrent reads.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]registration
}

type registration struct {
	desc    Descriptor
	handler Handler
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]registration)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(desc Descriptor, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[desc.Name] = registration{desc: desc, handler: h}
}

// List returns descriptors sorted by name, suitable for tools/list.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.tools))
	for _, reg := range r.tools {
		out = append(out, reg.desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the handler for name or an UnknownToolError.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.tools[name]
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return reg.handler, nil
}
