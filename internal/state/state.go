// Package state implements the hierarchical variable store consulted by
// command nodes and the ${{...}} pattern population used on their arguments.
package state

import (
	"maps"
	"strings"
	"sync"
)

// Level identifies where a State sits in the hierarchy.
type Level string

const (
	LevelRun    Level = "RUN"
	LevelHost   Level = "HOST"
	LevelScript Level = "SCRIPT"
)

// SecretPrefix marks state names whose values are secrets.
const SecretPrefix = "_"

// SecretSink receives values that must be redacted from output.
type SecretSink interface {
	Add(values ...string)
}

// State is a key/value store with a parent chain. Lookups fall back to the
// parent; writes go to the current level unless the name carries a RUN. or
// HOST. prefix.
type State struct {
	parent  *State
	level   Level
	secrets SecretSink

	mu     sync.RWMutex
	values map[string]any
}

// New creates a run-level state.
func New(secrets SecretSink) *State {
	return &State{level: LevelRun, secrets: secrets, values: map[string]any{}}
}

// Child creates a nested state at the given level.
func (s *State) Child(level Level) *State {
	return &State{parent: s, level: level, secrets: s.secrets, values: map[string]any{}}
}

// Level returns the level of s.
func (s *State) Level() Level {
	return s.level
}

// Parent returns the enclosing state, nil at run level.
func (s *State) Parent() *State {
	return s.parent
}

// Set stores value under name. "RUN.x" and "HOST.x" address the enclosing
// run or host state.
func (s *State) Set(name string, value any) {
	value = Normalize(value)
	target, key := s.target(name)
	if strings.HasPrefix(key, SecretPrefix) && target.secrets != nil {
		if str, ok := value.(string); ok {
			target.secrets.Add(str)
		}
	}
	target.mu.Lock()
	target.values[key] = value
	target.mu.Unlock()
}

// Get returns the value for name, searching this level then its parents.
// Dotted names navigate into nested maps and lists.
func (s *State) Get(name string) (any, bool) {
	if target, key, ok := s.prefixed(name); ok {
		return target.getLocal(key)
	}
	for cur := s; cur != nil; cur = cur.parent {
		if v, ok := cur.getLocal(name); ok {
			return v, true
		}
	}
	return nil, false
}

// Has reports whether name resolves.
func (s *State) Has(name string) bool {
	_, ok := s.Get(name)
	return ok
}

// Delete removes name from the addressed level.
func (s *State) Delete(name string) {
	target, key := s.target(name)
	target.mu.Lock()
	delete(target.values, key)
	target.mu.Unlock()
}

// Snapshot merges the chain into one map, nearer levels overriding.
func (s *State) Snapshot() map[string]any {
	var chain []*State
	for cur := s; cur != nil; cur = cur.parent {
		chain = append(chain, cur)
	}
	out := map[string]any{}
	for i := len(chain) - 1; i >= 0; i-- {
		chain[i].mu.RLock()
		maps.Copy(out, chain[i].values)
		chain[i].mu.RUnlock()
	}
	return out
}

func (s *State) getLocal(name string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.values[name]; ok {
		return v, true
	}
	head, rest, ok := strings.Cut(name, ".")
	if !ok {
		return nil, false
	}
	v, ok := s.values[head]
	if !ok {
		return nil, false
	}
	return Navigate(v, rest)
}

func (s *State) target(name string) (*State, string) {
	if target, key, ok := s.prefixed(name); ok {
		return target, key
	}
	return s, name
}

func (s *State) prefixed(name string) (*State, string, bool) {
	for _, level := range []Level{LevelRun, LevelHost} {
		prefix := string(level) + "."
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		for cur := s; cur != nil; cur = cur.parent {
			if cur.level == level {
				return cur, strings.TrimPrefix(name, prefix), true
			}
		}
	}
	return nil, "", false
}
