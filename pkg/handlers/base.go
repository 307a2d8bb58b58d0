package handlers

import (
	"context"

	"github.com/avi3tal/graphengine/pkg/types"
)

// BaseHandler is a straightforward in-process function handler.
type BaseHandler struct {
	name     string
	fn       types.HandlerFunc
	metadata map[string]any
}

// NewSimpleHandler helper to create an inline handler
func NewSimpleHandler(name string, fn types.HandlerFunc, meta map[string]any) *BaseHandler {
	return &BaseHandler{name: name, fn: fn, metadata: meta}
}

func (h *BaseHandler) Name() string {
	return h.name
}

func (h *BaseHandler) Execute(ctx context.Context, ec *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	return h.fn(ctx, ec, in).WithMetadata("handler", h.name)
}

func (h *BaseHandler) Metadata() map[string]any {
	return h.metadata
}

// Passthrough returns its merged inputs unchanged.
func Passthrough() types.Handler {
	return types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		return types.Success(in.All())
	})
}

// Constant always succeeds with a copy of outputs.
func Constant(outputs map[string]any) types.Handler {
	return types.HandlerFunc(func(context.Context, *types.ExecutionContext, types.Inputs) types.NodeExecutionResult {
		out := make(map[string]any, len(outputs))
		for k, v := range outputs {
			out[k] = v
		}
		return types.Success(out)
	})
}
