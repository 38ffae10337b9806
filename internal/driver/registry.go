package driver

import "fmt"

// Registry maps an agent name (project settings' agent.name, spec §4.4's
// "the coordinator selects one by name") to its Driver implementation.
type Registry struct {
	drivers map[string]Driver
}

// NewRegistry creates an empty Registry; callers register drivers at
// startup (spec §4.4: "the set of drivers is registered at startup").
func NewRegistry() *Registry {
	return &Registry{drivers: make(map[string]Driver)}
}

// Register adds d under its own Name(), overwriting any prior registration
// with the same name.
func (r *Registry) Register(d Driver) {
	r.drivers[d.Name()] = d
}

// Resolve returns the Driver registered under name.
func (r *Registry) Resolve(name string) (Driver, error) {
	d, ok := r.drivers[name]
	if !ok {
		return nil, fmt.Errorf("driver %q is not registered", name)
	}
	return d, nil
}
