package engine

import (
	"sync"

	"github.com/avi3tal/graphengine/pkg/types"
)

// broker hands resolutions to invocations that are actively waiting on a token.
type broker struct {
	mu      sync.Mutex
	waiters map[string]chan types.Resolution
}

func newBroker() *broker {
	return &broker{waiters: make(map[string]chan types.Resolution)}
}

// register starts waiting on token. The returned func stops waiting.
func (b *broker) register(token string) (<-chan types.Resolution, func()) {
	ch := make(chan types.Resolution, 1)

	b.mu.Lock()
	b.waiters[token] = ch
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.waiters[token] == ch {
			delete(b.waiters, token)
		}
	}
}

// resolve delivers res to the waiter on token and reports whether one existed.
func (b *broker) resolve(token string, res types.Resolution) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch, ok := b.waiters[token]
	if !ok {
		return false
	}
	delete(b.waiters, token)
	ch <- res
	return true
}

func (b *broker) waiting(token string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.waiters[token]
	return ok
}
