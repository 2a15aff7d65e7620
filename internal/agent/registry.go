// internal/agent/registry.go
package agent

import (
	"fmt"
	"strings"
)

// Registry holds the enabled agent descriptors in canonical order.
type Registry struct {
	order       []Name
	descriptors map[Name]Descriptor
	router      Name
}

// Overrides tweaks a descriptor at registry construction time.
type Overrides struct {
	Disabled bool
	// CLIPath replaces argv[0] of both command templates when set.
	CLIPath string
}

// NewRegistry builds a registry from the built-in descriptor set.
// overrides may be nil.
func NewRegistry(overrides map[Name]Overrides) (*Registry, error) {
	defaults := defaultDescriptors()
	r := &Registry{descriptors: make(map[Name]Descriptor)}

	for _, name := range All {
		d := defaults[name]
		if ov, ok := overrides[name]; ok {
			if ov.Disabled {
				continue
			}
			if ov.CLIPath != "" {
				d.CreateCommand = replaceArgv0(d.CreateCommand, ov.CLIPath)
				d.ResumeCommand = replaceArgv0(d.ResumeCommand, ov.CLIPath)
				d.ListCommand = replaceArgv0(d.ListCommand, ov.CLIPath)
			}
		}
		r.order = append(r.order, name)
		r.descriptors[name] = d
		if d.IsRouter && r.router == "" {
			r.router = name
		}
	}

	if len(r.order) == 0 {
		return nil, fmt.Errorf("no agents enabled")
	}
	if r.router == "" {
		// Fall back to the first enabled agent as classifier.
		r.router = r.order[0]
	}
	return r, nil
}

func replaceArgv0(cmd []string, path string) []string {
	if len(cmd) == 0 {
		return cmd
	}
	out := append([]string(nil), cmd...)
	out[0] = path
	return out
}

// Names returns the enabled agents in canonical order.
func (r *Registry) Names() []Name {
	return append([]Name(nil), r.order...)
}

// Get returns the descriptor for name and whether it is enabled.
func (r *Registry) Get(name Name) (Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Router returns the agent used as classifier fallback.
func (r *Registry) Router() Name {
	return r.router
}

// Count returns the number of enabled agents.
func (r *Registry) Count() int {
	return len(r.order)
}

// Resolve maps arbitrary user text (canonical name or alias, any case) to an
// agent name.
func (r *Registry) Resolve(s string) (Name, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, name := range r.order {
		if strings.ToLower(string(name)) == s {
			return name, true
		}
		for _, alias := range r.descriptors[name].Aliases {
			if alias == s {
				return name, true
			}
		}
	}
	return "", false
}
