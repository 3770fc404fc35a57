package command

import (
	"context"

	"github.com/sahilm/fuzzy"
)

// Descriptors lists every command the registry can dispatch: provider
// commands first, then built-ins in registration order followed by the
// subcommands of each family.
func (r *Registry) Descriptors(ctx context.Context) []Descriptor {
	var out []Descriptor

	for _, p := range r.Providers() {
		if d, ok := p.(Describer); ok {
			for _, desc := range d.Describe(ctx) {
				desc.Provider = p.Name()
				out = append(out, desc)
			}
			continue
		}
		for _, name := range p.FuncNames(ctx) {
			out = append(out, Descriptor{Name: name, Provider: p.Name(), Local: true})
		}
	}

	r.mu.RLock()
	builtins := make([]Builtin, 0, len(r.order))
	for _, name := range r.order {
		builtins = append(builtins, *r.builtins[name])
	}
	families := make(map[string]*Family, len(r.families))
	for name, f := range r.families {
		families[name] = f
	}
	r.mu.RUnlock()

	for _, b := range builtins {
		out = append(out, b.Descriptor)
		if f, ok := families[b.Name]; ok {
			out = append(out, f.Describe(ctx)...)
		}
	}
	return out
}

type descriptorSource []Descriptor

func (s descriptorSource) String(i int) string { return s[i].Name }

func (s descriptorSource) Len() int { return len(s) }

// Complete returns the descriptors whose names fuzzily match query, best
// match first. An empty query returns every descriptor.
func (r *Registry) Complete(ctx context.Context, query string) []Descriptor {
	all := r.Descriptors(ctx)
	if query == "" {
		return all
	}

	matches := fuzzy.FindFrom(query, descriptorSource(all))
	out := make([]Descriptor, 0, len(matches))
	for _, m := range matches {
		out = append(out, all[m.Index])
	}
	return out
}
