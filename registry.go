package queryz

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// SectionPrefix is prepended to a module name to form its config section.
const SectionPrefix = "module::"

// SectionSource resolves a named config section into Settings.
type SectionSource interface {
	Section(name string) Settings
}

// Registry holds every module known to a process, keyed by name.
// Modules keep their registration order for config loading and cleanup.
type Registry struct {
	byName  map[Name]Module
	order   []Module
	loaded  map[Name]bool
	cleaned bool
	mu      sync.Mutex
}

// NewRegistry registers modules in order. Two modules sharing a name make
// it fail with ErrDuplicateModule.
func NewRegistry(modules ...Module) (*Registry, error) {
	r := &Registry{
		byName: make(map[Name]Module, len(modules)),
		loaded: make(map[Name]bool),
	}
	for _, m := range modules {
		if _, dup := r.byName[m.Name()]; dup {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateModule, m.Name())
		}
		r.byName[m.Name()] = m
		r.order = append(r.order, m)
	}
	return r, nil
}

// Lookup returns the module registered under name.
func (r *Registry) Lookup(name Name) (Module, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []Module {
	out := make([]Module, len(r.order))
	copy(out, r.order)
	return out
}

// Names returns the registered names in registration order.
func (r *Registry) Names() []Name {
	names := make([]Name, len(r.order))
	for i, m := range r.order {
		names[i] = m.Name()
	}
	return names
}

// Order resolves a whitespace-separated list of module names. Unknown names
// fail with ErrUnknownModule; repeats are dropped, first occurrence wins.
func (r *Registry) Order(list string) ([]Module, error) {
	var (
		out  []Module
		seen = make(map[Name]bool)
	)
	for _, name := range strings.Fields(list) {
		m, ok := r.byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownModule, name)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, m)
	}
	return out, nil
}

// PreOrder resolves the pre-phase list. Every module must be a Processor.
func (r *Registry) PreOrder(list string) ([]Module, error) {
	return r.orderWith(list, CapProcess)
}

// PostOrder resolves the post-phase list. Every module must be a
// PostProcessor.
func (r *Registry) PostOrder(list string) ([]Module, error) {
	return r.orderWith(list, CapPostProcess)
}

func (r *Registry) orderWith(list string, need Capability) ([]Module, error) {
	mods, err := r.Order(list)
	if err != nil {
		return nil, err
	}
	for _, m := range mods {
		if !Capabilities(m).Has(need) {
			return nil, fmt.Errorf("%w: %q has no %s", ErrMissingCapability, m.Name(), need)
		}
	}
	return mods, nil
}

// LoadConfig calls LoadConfig on every configurable module that has not been
// configured yet, passing its module::<name> section. Non-fatal failures are
// logged and skipped; fatal ones (see IsFatal) are joined and returned.
func (r *Registry) LoadConfig(src SectionSource, logger zerolog.Logger) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, m := range r.order {
		c, ok := m.(Configurable)
		if !ok || r.loaded[m.Name()] {
			continue
		}
		r.loaded[m.Name()] = true

		section := SectionPrefix + m.Name()
		logger.Debug().Str("section", section).Msg("loading module config")
		if err := c.LoadConfig(src.Section(section)); err != nil {
			if IsFatal(err) {
				errs = append(errs, fmt.Errorf("module %q: %w", m.Name(), err))
				continue
			}
			logger.Warn().Err(err).Str("module", m.Name()).Msg("config loading failed")
		}
	}
	return errors.Join(errs...)
}

// Cleanup calls Cleanup on every module exactly once, in registration order.
func (r *Registry) Cleanup() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cleaned {
		return
	}
	r.cleaned = true
	for _, m := range r.order {
		if c, ok := m.(Cleaner); ok {
			c.Cleanup()
		}
	}
}
