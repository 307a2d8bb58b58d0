package types

import (
	"context"
	"log/slog"
	"sort"

	"github.com/avi3tal/graphengine/pkg/channels"
)

// Handler is the executable logic behind a node. Handlers may be invoked again
// after a transient failure and must tolerate that.
type Handler interface {
	Execute(ctx context.Context, ec *ExecutionContext, in Inputs) NodeExecutionResult
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, ec *ExecutionContext, in Inputs) NodeExecutionResult

func (f HandlerFunc) Execute(ctx context.Context, ec *ExecutionContext, in Inputs) NodeExecutionResult {
	return f(ctx, ec, in)
}

// HandlerResolver maps a node's HandlerName to a Handler.
type HandlerResolver interface {
	Resolve(name string) (Handler, bool)
}

// ExecutionContext is the per-invocation view of the run a handler executes in.
type ExecutionContext struct {
	RunID   string
	GraphID string
	NodeID  string
	// Attempt is 1 for the first invocation and grows with each retry.
	Attempt  int
	Channels *channels.Set
	Logger   *slog.Logger
}

// Inputs is the read-only set of values resolved for one invocation.
type Inputs struct {
	merged     map[string]any
	bySource   map[string]map[string]any
	byPort     map[int]map[string]any
	resolution *Resolution
}

// NewInputs returns Inputs holding only merged values.
func NewInputs(values map[string]any) Inputs {
	b := NewInputsBuilder()
	b.Add("", 0, values)
	return b.Build()
}

// Get returns a merged input value.
func (in Inputs) Get(key string) (any, bool) {
	v, ok := in.merged[key]
	return v, ok
}

// All returns a copy of the merged inputs. The values themselves are shared.
func (in Inputs) All() map[string]any {
	out := make(map[string]any, len(in.merged))
	for k, v := range in.merged {
		out[k] = v
	}
	return out
}

// Keys returns the merged input names in sorted order.
func (in Inputs) Keys() []string {
	keys := make([]string, 0, len(in.merged))
	for k := range in.merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (in Inputs) Len() int {
	return len(in.merged)
}

// From returns the values delivered by one predecessor node.
func (in Inputs) From(nodeID string) (map[string]any, bool) {
	v, ok := in.bySource[nodeID]
	return v, ok
}

// Sources returns the ids of the predecessors that delivered values, sorted.
func (in Inputs) Sources() []string {
	ids := make([]string, 0, len(in.bySource))
	for id := range in.bySource {
		if id != "" {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Port returns the values delivered on one input port.
func (in Inputs) Port(n int) (map[string]any, bool) {
	v, ok := in.byPort[n]
	return v, ok
}

// Resolution returns the resolution a resumed node was re-invoked with.
func (in Inputs) Resolution() (*Resolution, bool) {
	return in.resolution, in.resolution != nil
}

// WithResolution returns a copy of in carrying res, with res.Data merged over
// the existing values.
func (in Inputs) WithResolution(res *Resolution) Inputs {
	out := in
	out.merged = in.All()
	out.resolution = res
	if res != nil {
		for k, v := range res.Data {
			out.merged[k] = v
		}
	}
	return out
}

// InputsBuilder assembles Inputs. Values added later overwrite earlier ones in
// the merged view.
type InputsBuilder struct {
	in Inputs
}

func NewInputsBuilder() *InputsBuilder {
	return &InputsBuilder{in: Inputs{
		merged:   make(map[string]any),
		bySource: make(map[string]map[string]any),
		byPort:   make(map[int]map[string]any),
	}}
}

// Add records values delivered by source on input port.
func (b *InputsBuilder) Add(source string, port int, values map[string]any) *InputsBuilder {
	for k, v := range values {
		b.in.merged[k] = v
	}
	mergeInto(b.in.bySource, source, values)
	if b.in.byPort[port] == nil {
		b.in.byPort[port] = make(map[string]any, len(values))
	}
	for k, v := range values {
		b.in.byPort[port][k] = v
	}
	return b
}

// WithResolution attaches res and merges its Data into the merged view.
func (b *InputsBuilder) WithResolution(res *Resolution) *InputsBuilder {
	if res == nil {
		return b
	}
	b.in.resolution = res
	for k, v := range res.Data {
		b.in.merged[k] = v
	}
	return b
}

func (b *InputsBuilder) Build() Inputs {
	return b.in
}

func mergeInto(dst map[string]map[string]any, key string, values map[string]any) {
	m, ok := dst[key]
	if !ok {
		m = make(map[string]any, len(values))
		dst[key] = m
	}
	for k, v := range values {
		m[k] = v
	}
}
