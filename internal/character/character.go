// Package character holds the personas the bot can speak as and tracks which
// one is currently active.
package character

import (
	"sort"
	"sync"
	"sync/atomic"
)

// DefaultID is the reserved id of the baseline persona.
// Auto-rotation never selects it.
const DefaultID = "default"

// Character is a named persona bundling a target model and presentation metadata.
type Character struct {
	ID           string `yaml:"-" json:"id"`
	Name         string `yaml:"name" json:"name"`
	Model        string `yaml:"model" json:"model"`
	Avatar       string `yaml:"avatar" json:"avatar"`
	IntroMessage string `yaml:"intro_message" json:"intro_message"`
}

// IsZero reports whether c is the empty character.
func (c Character) IsZero() bool {
	return c == Character{}
}

// Roster is the fixed set of configured characters, keyed by id.
type Roster struct {
	byID map[string]Character
	ids  []string
}

// NewRoster builds a roster. Each character's ID is taken from its map key.
func NewRoster(chars map[string]Character) *Roster {
	r := &Roster{byID: make(map[string]Character, len(chars))}
	for id, c := range chars {
		c.ID = id
		r.byID[id] = c
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r
}

// Get looks up a character by id.
func (r *Roster) Get(id string) (Character, bool) {
	c, ok := r.byID[id]
	return c, ok
}

// IDs returns every id in sorted order.
func (r *Roster) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// All returns every character sorted by id.
func (r *Roster) All() []Character {
	out := make([]Character, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.byID[id])
	}
	return out
}

// Len returns the number of characters.
func (r *Roster) Len() int {
	return len(r.ids)
}

// Registry holds the current character. Reads are lock-free; writes swap
// the pointer atomically.
type Registry struct {
	current atomic.Pointer[Character]

	mu        sync.Mutex
	listeners []func(prev, next Character)
}

// NewRegistry creates a registry with initial as the current character.
func NewRegistry(initial Character) *Registry {
	r := &Registry{}
	r.current.Store(&initial)
	return r
}

// Current returns the active character.
func (r *Registry) Current() Character {
	return *r.current.Load()
}

// Set makes c the current character and notifies listeners.
// The zero character is ignored and Set returns false.
func (r *Registry) Set(c Character) bool {
	if c.IsZero() {
		return false
	}
	next := c
	prev := r.current.Swap(&next)

	r.mu.Lock()
	listeners := append([]func(prev, next Character){}, r.listeners...)
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(*prev, c)
	}
	return true
}

// OnChange registers fn to run after every successful Set.
func (r *Registry) OnChange(fn func(prev, next Character)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}
