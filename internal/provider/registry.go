package provider

import (
	"sort"

	"github.com/relohq/relo/internal/errors"
	"github.com/relohq/relo/internal/release"
)

// Registry resolves provider names from release configs to registered
// implementations. It is assembled once at boot by the composition root;
// resolution of an unregistered name is an explicit error, never a
// silent no-op.
type Registry struct {
	scm    map[string]SCM
	cicd   map[release.CIRunType]CICD
	pm     map[string]ProjectMgmt
	test   map[string]TestMgmt
	notify map[string]Notifier
	store  map[release.Target]Store
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		scm:    make(map[string]SCM),
		cicd:   make(map[release.CIRunType]CICD),
		pm:     make(map[string]ProjectMgmt),
		test:   make(map[string]TestMgmt),
		notify: make(map[string]Notifier),
		store:  make(map[release.Target]Store),
	}
}

// RegisterSCM registers an SCM provider under its Name().
func (r *Registry) RegisterSCM(p SCM) {
	r.scm[p.Name()] = p
}

// RegisterCICD registers a CI provider under its Type().
func (r *Registry) RegisterCICD(p CICD) {
	r.cicd[p.Type()] = p
}

// RegisterProjectMgmt registers a project management provider under its Name().
func (r *Registry) RegisterProjectMgmt(p ProjectMgmt) {
	r.pm[p.Name()] = p
}

// RegisterTestMgmt registers a test management provider under its Name().
func (r *Registry) RegisterTestMgmt(p TestMgmt) {
	r.test[p.Name()] = p
}

// RegisterNotifier registers a notification provider under its Name().
func (r *Registry) RegisterNotifier(p Notifier) {
	r.notify[p.Name()] = p
}

// RegisterStore registers a store provider under its Target().
func (r *Registry) RegisterStore(p Store) {
	r.store[p.Target()] = p
}

// SCM resolves an SCM provider by name.
func (r *Registry) SCM(name string) (SCM, error) {
	p, ok := r.scm[name]
	if !ok {
		return nil, errors.ErrUnknownProvider("scm", name)
	}
	return p, nil
}

// CICD resolves a CI provider by run type.
func (r *Registry) CICD(t release.CIRunType) (CICD, error) {
	p, ok := r.cicd[t]
	if !ok {
		return nil, errors.ErrUnknownProvider("cicd", string(t))
	}
	return p, nil
}

// ProjectMgmt resolves a project management provider by name.
func (r *Registry) ProjectMgmt(name string) (ProjectMgmt, error) {
	p, ok := r.pm[name]
	if !ok {
		return nil, errors.ErrUnknownProvider("project management", name)
	}
	return p, nil
}

// TestMgmt resolves a test management provider by name.
func (r *Registry) TestMgmt(name string) (TestMgmt, error) {
	p, ok := r.test[name]
	if !ok {
		return nil, errors.ErrUnknownProvider("test management", name)
	}
	return p, nil
}

// Notifier resolves a notification provider by name.
func (r *Registry) Notifier(name string) (Notifier, error) {
	p, ok := r.notify[name]
	if !ok {
		return nil, errors.ErrUnknownProvider("notification", name)
	}
	return p, nil
}

// Store resolves a store provider by distribution target.
func (r *Registry) Store(t release.Target) (Store, error) {
	p, ok := r.store[t]
	if !ok {
		return nil, errors.ErrUnknownProvider("store", string(t))
	}
	return p, nil
}

// HasStore reports whether a store provider is registered for the target.
func (r *Registry) HasStore(t release.Target) bool {
	_, ok := r.store[t]
	return ok
}

// Registered lists every registered provider as "capability/name" keys,
// sorted. Used by 'relo providers' and boot logging.
func (r *Registry) Registered() []string {
	var keys []string
	for name := range r.scm {
		keys = append(keys, "scm/"+name)
	}
	for t := range r.cicd {
		keys = append(keys, "cicd/"+string(t))
	}
	for name := range r.pm {
		keys = append(keys, "pm/"+name)
	}
	for name := range r.test {
		keys = append(keys, "test/"+name)
	}
	for name := range r.notify {
		keys = append(keys, "notify/"+name)
	}
	for t := range r.store {
		keys = append(keys, "store/"+string(t))
	}
	sort.Strings(keys)
	return keys
}
