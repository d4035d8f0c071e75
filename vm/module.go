package vm

import (
	"github.com/chazu/ember/pkg/term"
	"github.com/sasha-s/go-deadlock"
)

// Module is loaded code a process can run. Entry resolves an exported
// function to the address the interpreter starts at.
type Module interface {
	Name() term.Atom
	Entry(fn term.Atom, arity int) (int, bool)
}

// ModuleRegistry maps module names to loaded modules.
type ModuleRegistry struct {
	mu   deadlock.RWMutex
	mods map[term.Atom]Module
}

// NewModuleRegistry creates an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{mods: make(map[term.Atom]Module)}
}

// Load adds or replaces a module.
func (r *ModuleRegistry) Load(m Module) {
	r.mu.Lock()
	r.mods[m.Name()] = m
	r.mu.Unlock()
}

// Lookup returns the module registered under name.
func (r *ModuleRegistry) Lookup(name term.Atom) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.mods[name]
	return m, ok
}
