package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/avi3tal/graphengine/pkg/types"
)

// ErrNoRoute is returned by KeyRouter when a value has no route and no fallback.
var ErrNoRoute = errors.New("no route for value")

type approvalConfig struct {
	denyPort int
	kind     types.SuspensionKind
}

type ApprovalOption func(*approvalConfig)

// WithDenyPort emits denials on port instead of port 0. The node needs
// port+1 output ports.
func WithDenyPort(port int) ApprovalOption {
	return func(c *approvalConfig) {
		c.denyPort = port
	}
}

// WithSuspensionKind overrides the reported suspension kind.
func WithSuspensionKind(kind types.SuspensionKind) ApprovalOption {
	return func(c *approvalConfig) {
		c.kind = kind
	}
}

// Approval suspends the run for a human decision. When resumed it forwards its
// inputs with "approved" and "decision" set.
func Approval(message string, opts ...ApprovalOption) types.Handler {
	cfg := approvalConfig{kind: types.SuspensionApproval}
	for _, o := range opts {
		o(&cfg)
	}

	return types.HandlerFunc(func(_ context.Context, ec *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		res, ok := in.Resolution()
		if !ok {
			token := uuid.NewString()
			if ec != nil && ec.Logger != nil {
				ec.Logger.Info("approval requested", "token", token, "message", message)
			}
			return types.Suspend(token, message, cfg.kind)
		}

		out := in.All()
		out["approved"] = res.Approved
		out["decision"] = res.Decision
		if !res.Approved && cfg.denyPort != 0 {
			return types.SuccessOnPorts(out, cfg.denyPort)
		}
		return types.Success(out)
	})
}

// KeyRouter routes on the string value of one input. routes maps values to
// output ports; values without a route go to fallback, or fail when fallback
// is negative.
func KeyRouter(key string, routes map[string]int, fallback int) types.Handler {
	return types.HandlerFunc(func(_ context.Context, _ *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
		v, _ := in.Get(key)
		value := fmt.Sprint(v)
		port, ok := routes[value]
		if !ok {
			if fallback < 0 {
				return types.FatalFailure(fmt.Errorf("%w: %s=%q", ErrNoRoute, key, value))
			}
			port = fallback
		}
		return types.SuccessOnPorts(in.All(), port).WithMetadata("route", value)
	})
}
