package channels

import (
	"sort"
	"sync"
)

// LastValue is a channel that only keeps the most recent value written to it.
type LastValue struct {
	mu   sync.RWMutex
	data any
	set  bool
}

func NewLastValue() *LastValue {
	return &LastValue{}
}

// Read returns the current value and whether anything was ever written.
func (l *LastValue) Read() (any, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.data, l.set
}

func (l *LastValue) Write(value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.data = value
	l.set = true
}

// Set is the collection of named channels belonging to a single graph run.
// Writers to the same name are serialized by that channel's lock; the index of
// names has its own lock so unrelated keys never contend.
type Set struct {
	mu       sync.RWMutex
	channels map[string]*LastValue
}

func NewSet() *Set {
	return &Set{
		channels: make(map[string]*LastValue),
	}
}

// channel returns the slot for name, creating it when create is true.
func (s *Set) channel(name string, create bool) *LastValue {
	s.mu.RLock()
	ch, ok := s.channels[name]
	s.mu.RUnlock()
	if ok || !create {
		return ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok = s.channels[name]; ok {
		return ch
	}
	ch = NewLastValue()
	s.channels[name] = ch
	return ch
}

// Get reads the latest value of the named channel.
func (s *Set) Get(name string) (any, bool) {
	ch := s.channel(name, false)
	if ch == nil {
		return nil, false
	}
	return ch.Read()
}

// Set overwrites the named channel with value.
func (s *Set) Set(name string, value any) {
	s.channel(name, true).Write(value)
}

func (s *Set) Contains(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[name]
	return ok
}

// Remove deletes the named channel and reports whether it existed.
func (s *Set) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[name]; !ok {
		return false
	}
	delete(s.channels, name)
	return true
}

func (s *Set) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = make(map[string]*LastValue)
}

// Names returns the live channel names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.channels))
	for name := range s.channels {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.channels)
}

// Snapshot copies every channel's current value into a plain map. Values are
// not deep-copied.
func (s *Set) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.channels))
	for name, ch := range s.channels {
		if v, ok := ch.Read(); ok {
			out[name] = v
		}
	}
	return out
}

// Restore replaces the contents of the set with values.
func (s *Set) Restore(values map[string]any) {
	fresh := make(map[string]*LastValue, len(values))
	for name, v := range values {
		ch := NewLastValue()
		ch.Write(v)
		fresh[name] = ch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = fresh
}
