package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultName is the name of the process-wide namespace.
const DefaultName = "pagebridgeUtilities"

// Feature is one named capability exposed through a namespace.
type Feature struct {
	Name         string    `json:"name"`
	Version      string    `json:"version,omitempty"`
	Value        any       `json:"-"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Stats summarises a namespace.
type Stats struct {
	Name     string `json:"name"`
	Features int    `json:"features"`
	Merges   int    `json:"merges"`
}

// Namespace is a single named registry of features. Loading more features
// merges them into the existing namespace instead of replacing it, so
// independently loaded components share one object.
type Namespace struct {
	name     string
	mu       sync.RWMutex
	features map[string]Feature
	merges   int
}

// New creates an empty namespace.
func New(name string) *Namespace {
	return &Namespace{
		name:     name,
		features: make(map[string]Feature),
	}
}

var (
	defaultOnce sync.Once
	defaultNS   *Namespace
)

// Default returns the process-wide namespace, creating it on first use.
func Default() *Namespace {
	defaultOnce.Do(func() {
		defaultNS = New(DefaultName)
	})
	return defaultNS
}

// Name returns the namespace name.
func (n *Namespace) Name() string { return n.name }

// Merge adds features. A feature whose name is already present replaces the
// earlier entry; everything else is kept.
func (n *Namespace) Merge(features ...Feature) error {
	for _, f := range features {
		if f.Name == "" {
			return fmt.Errorf("registry %s: feature name is required", n.name)
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now()
	for _, f := range features {
		if f.RegisteredAt.IsZero() {
			f.RegisteredAt = now
		}
		n.features[f.Name] = f
	}
	n.merges++
	return nil
}

// Migrate copies the features of other that n does not have yet. Features
// already in n win. other is left unchanged.
func (n *Namespace) Migrate(other *Namespace) error {
	if other == nil || other == n {
		return nil
	}
	var missing []Feature
	for _, f := range other.Features() {
		if !n.Exists(f.Name) {
			missing = append(missing, f)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return n.Merge(missing...)
}

// Lookup returns the feature registered under name.
func (n *Namespace) Lookup(name string) (Feature, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	f, ok := n.features[name]
	return f, ok
}

// Exists reports whether name is registered.
func (n *Namespace) Exists(name string) bool {
	_, ok := n.Lookup(name)
	return ok
}

// Delete removes name.
func (n *Namespace) Delete(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.features, name)
}

// Names returns the registered names, sorted.
func (n *Namespace) Names() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	names := make([]string, 0, len(n.features))
	for name := range n.features {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Features returns the registered features sorted by name.
func (n *Namespace) Features() []Feature {
	names := n.Names()
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]Feature, 0, len(names))
	for _, name := range names {
		if f, ok := n.features[name]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Stats returns counts for the namespace.
func (n *Namespace) Stats() Stats {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return Stats{Name: n.name, Features: len(n.features), Merges: n.merges}
}
