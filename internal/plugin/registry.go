package plugin

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

type Info struct {
	Name string
	// MaxParallel caps concurrent transfers of this plugin; 0 is unlimited.
	MaxParallel int
	Patterns    []string
	Aliases     []string
}

type entry struct {
	info     Info
	factory  Factory
	patterns []*regexp.Regexp
}

type Registry struct {
	mu      sync.RWMutex
	plugins map[string]entry
	aliases map[string]string
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]entry),
		aliases: make(map[string]string),
	}
}

// Register adds or replaces a plugin. Patterns are matched against URLs by
// Detect in registration order.
func (r *Registry) Register(info Info, factory Factory) error {
	e := entry{info: info, factory: factory}
	for _, p := range info.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return err
		}
		e.patterns = append(e.patterns, re)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[info.Name]; !exists {
		r.order = append(r.order, info.Name)
	}
	r.plugins[info.Name] = e
	for _, alias := range info.Aliases {
		r.aliases[strings.ToLower(alias)] = info.Name
	}
	return nil
}

func (r *Registry) Resolve(name string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[r.canonical(name)]
	if !ok {
		return nil, &ResolutionError{Name: name}
	}
	return e.factory, nil
}

func (r *Registry) Info(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[r.canonical(name)]
	return e.info, ok
}

// Normalize maps an alias to the registered plugin name.
func (r *Registry) Normalize(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	canonical := r.canonical(name)
	_, ok := r.plugins[canonical]
	return canonical, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect returns the first plugin whose patterns match the URL.
func (r *Registry) Detect(url string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range r.order {
		for _, re := range r.plugins[name].patterns {
			if re.MatchString(url) {
				return name, true
			}
		}
	}
	return "", false
}

func (r *Registry) canonical(name string) string {
	if _, ok := r.plugins[name]; ok {
		return name
	}
	if target, ok := r.aliases[strings.ToLower(name)]; ok {
		return target
	}
	return name
}
