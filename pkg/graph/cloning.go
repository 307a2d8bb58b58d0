package graph

import (
	"fmt"

	"github.com/mohae/deepcopy"
)

// CloningPolicy controls whether an output is copied before it is handed to a
// downstream consumer.
type CloningPolicy int

const (
	// CloneInherit on an edge defers to the graph policy; on a graph it means LazyClone.
	CloneInherit CloningPolicy = iota
	// LazyClone hands the original to the first consumer and copies for the rest.
	LazyClone
	// NeverClone hands the original to every consumer.
	NeverClone
	// AlwaysClone hands a deep copy to every consumer.
	AlwaysClone
)

func (p CloningPolicy) String() string {
	switch p {
	case CloneInherit:
		return "inherit"
	case LazyClone:
		return "lazy"
	case NeverClone:
		return "never"
	case AlwaysClone:
		return "always"
	default:
		return fmt.Sprintf("CloningPolicy(%d)", int(p))
	}
}

// Cloner lets a value provide its own deep copy.
type Cloner interface {
	Clone() any
}

// DeepCopy returns a deep copy of v, preferring the value's own Clone method.
// The entries of a map[string]any are copied one by one so Cloner values nested
// at the first level are honored.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case nil:
		return nil
	case Cloner:
		return val.Clone()
	case map[string]any:
		return CopyValues(val)
	}
	return deepcopy.Copy(v)
}

// CopyValues deep-copies a map of named values.
func CopyValues(values map[string]any) map[string]any {
	if values == nil {
		return nil
	}
	out := make(map[string]any, len(values))
	for k, v := range values {
		out[k] = DeepCopy(v)
	}
	return out
}
