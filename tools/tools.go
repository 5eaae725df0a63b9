// Package tools defines the boundary to the data-tool handlers. The
// handlers themselves (search, lookup, detail calls against the upstream
// data API) live outside the auth core; the gateway only guarantees that
// every invocation arrives with a resolved identity.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	gateway "github.com/agile6/mcp-auth-gateway"
)

// Request is one tool invocation from an authenticated caller.
type Request struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Response is the tool's payload back to the caller.
type Response struct {
	Content json.RawMessage `json:"content"`
}

// Handler receives invocations that passed authentication. The auth
// result is always non-nil.
type Handler interface {
	Handle(ctx context.Context, auth *gateway.AuthResult, req *Request) (*Response, error)
}

// Func is a single tool implementation.
type Func func(ctx context.Context, auth *gateway.AuthResult, args json.RawMessage) (json.RawMessage, error)

// Registry dispatches invocations by tool name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Func
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Func)}
}

// Register binds a tool name to its implementation, replacing any
// previous binding.
func (r *Registry) Register(name string, fn Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Handle implements Handler.
func (r *Registry) Handle(ctx context.Context, auth *gateway.AuthResult, req *Request) (*Response, error) {
	r.mu.RLock()
	fn, ok := r.handlers[req.Tool]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown tool %q", req.Tool)
	}
	content, err := fn(ctx, auth, req.Arguments)
	if err != nil {
		return nil, err
	}
	return &Response{Content: content}, nil
}

var _ Handler = (*Registry)(nil)
