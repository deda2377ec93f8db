package tools

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tulparlabs/agentrun/engine"
	"github.com/tulparlabs/agentrun/types"
)

// Handler executes invocations for one tool type.
type Handler interface {
	Execute(ctx context.Context, call *engine.ToolRequest) (map[string]any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, call *engine.ToolRequest) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, call *engine.ToolRequest) (map[string]any, error) {
	return f(ctx, call)
}

// Observer is notified after every invocation, successful or not.
// The metrics collector plugs in here.
type Observer func(toolType types.ToolType, success bool, elapsed time.Duration)

// Registry dispatches tool invocations to type handlers. It implements
// engine.ToolInvoker.
type Registry struct {
	mu       sync.RWMutex
	handlers map[types.ToolType]Handler
	observer Observer
	logger   *zap.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithObserver installs an invocation observer.
func WithObserver(obs Observer) RegistryOption {
	return func(r *Registry) { r.observer = obs }
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *zap.Logger, opts ...RegistryOption) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{
		handlers: make(map[types.ToolType]Handler),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds a handler to a tool type. Registering the same type
// twice is an error.
func (r *Registry) Register(toolType types.ToolType, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	toolType = toolType.Normalize()
	if _, exists := r.handlers[toolType]; exists {
		return types.Errorf(types.ErrConfig, "tool type %q already registered", toolType)
	}
	r.handlers[toolType] = h
	r.logger.Info("tool handler registered", zap.String("tool_type", string(toolType)))
	return nil
}

// Has reports whether a handler is registered for the tool type.
func (r *Registry) Has(toolType types.ToolType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[toolType.Normalize()]
	return ok
}

// Invoke sanitizes the call parameters and dispatches to the handler
// for the tool's type. Exactly one external call happens per Invoke; a
// second attempt only ever comes from the node executor's retry loop.
func (r *Registry) Invoke(ctx context.Context, call *engine.ToolRequest) (map[string]any, error) {
	if call == nil || call.Spec == nil {
		return nil, types.NewError(types.ErrValidation, "tool call has no spec")
	}

	toolType := call.Spec.Type.Normalize()
	r.mu.RLock()
	handler, ok := r.handlers[toolType]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrToolUnsupportedOp, "no handler for tool type %q", call.Spec.Type)
	}

	call.Params = SanitizeParams(call.Params)

	start := time.Now()
	r.logger.Debug("invoking tool",
		zap.String("tool_id", call.Spec.ToolID),
		zap.String("tool_type", string(toolType)),
		zap.String("user_id", call.UserID))

	result, err := handler.Execute(ctx, call)
	elapsed := time.Since(start)
	if r.observer != nil {
		r.observer(toolType, err == nil, elapsed)
	}

	if err != nil {
		r.logger.Warn("tool invocation failed",
			zap.String("tool_id", call.Spec.ToolID),
			zap.String("tool_type", string(toolType)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		if types.AsError(err) == nil {
			err = types.Errorf(types.ErrInternal, "tool %s failed", call.Spec.ToolID).WithCause(err)
		}
		return nil, err
	}

	r.logger.Debug("tool invocation completed",
		zap.String("tool_id", call.Spec.ToolID),
		zap.Duration("elapsed", elapsed))
	if result == nil {
		result = map[string]any{"success": true}
	}
	return result, nil
}

var _ engine.ToolInvoker = (*Registry)(nil)
