// Package kpi holds the catalog of named derived metrics. Formulas are
// parsed and checked against the concept registry when registered, so a
// metric that reaches the evaluator is always well formed and acyclic.
package kpi

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/finmetrics/grounding/internal/expr"
)

//go:embed metrics.yaml
var defaultCatalog []byte

// Metric is a named formula.
type Metric struct {
	Name     string `yaml:"name" json:"name"`
	Formula  string `yaml:"formula" json:"formula"`
	Output   string `yaml:"output" json:"output"`
	Category string `yaml:"category" json:"category,omitempty"`
	TTM      bool   `yaml:"ttm" json:"ttm"`

	tree *expr.Node
}

// Expr returns the parsed formula.
func (m Metric) Expr() *expr.Node {
	return m.tree
}

// ConceptSet is the subset of the concept registry the catalog needs.
type ConceptSet interface {
	Known(name string) bool
}

// Registry is safe for concurrent use.
type Registry struct {
	concepts ConceptSet

	mu      sync.RWMutex
	metrics map[string]Metric
}

// New returns an empty registry bound to concepts.
func New(concepts ConceptSet) *Registry {
	return &Registry{concepts: concepts, metrics: map[string]Metric{}}
}

// Load returns a registry holding the embedded catalog.
func Load(concepts ConceptSet) (*Registry, error) {
	var doc struct {
		Metrics []Metric `yaml:"metrics"`
	}
	if err := yaml.Unmarshal(defaultCatalog, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metric catalog: %w", err)
	}
	r := New(concepts)
	if err := r.RegisterAll(doc.Metrics); err != nil {
		return nil, err
	}
	return r, nil
}

// Register adds one metric.
func (r *Registry) Register(name, formula string, ttm bool) error {
	return r.RegisterAll([]Metric{{Name: name, Formula: formula, TTM: ttm}})
}

// RegisterAll adds a batch of metrics that may reference each other. The
// batch is applied only if every metric is valid.
func (r *Registry) RegisterAll(batch []Metric) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]Metric, len(r.metrics)+len(batch))
	for k, v := range r.metrics {
		next[k] = v
	}

	var errs []error
	var added []string
	for _, m := range batch {
		switch {
		case m.Name == "":
			errs = append(errs, errors.New("metric with empty name"))
			continue
		case r.concepts.Known(m.Name):
			errs = append(errs, fmt.Errorf("%s: name collides with a canonical concept", m.Name))
			continue
		}
		if _, dup := next[m.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: already registered", m.Name))
			continue
		}
		tree, err := expr.Parse(m.Formula)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", m.Name, err))
			continue
		}
		m.tree = tree
		if m.Output == "" {
			m.Output = "ratio"
		}
		next[m.Name] = m
		added = append(added, m.Name)
	}

	for _, name := range added {
		known := func(id string) bool {
			_, isMetric := next[id]
			return isMetric || r.concepts.Known(id)
		}
		if err := expr.Validate(next[name].tree, known); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if len(errs) == 0 {
		if err := checkCycles(next); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid metric definitions: %w", errors.Join(errs...))
	}
	r.metrics = next
	return nil
}

func checkCycles(metrics map[string]Metric) error {
	const (
		unvisited = iota
		visiting
		done
	)
	state := map[string]int{}
	var visit func(name string, path []string) error
	visit = func(name string, path []string) error {
		m, ok := metrics[name]
		if !ok {
			return nil
		}
		switch state[name] {
		case visiting:
			return fmt.Errorf("metric cycle: %v", append(path, name))
		case done:
			return nil
		}
		state[name] = visiting
		for _, id := range expr.Identifiers(m.tree) {
			if err := visit(id, append(path, name)); err != nil {
				return err
			}
		}
		state[name] = done
		return nil
	}

	names := make([]string, 0, len(metrics))
	for n := range metrics {
		names = append(names, n)
	}
	slices.Sort(names)
	for _, n := range names {
		if err := visit(n, nil); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns a metric by name.
func (r *Registry) Lookup(name string) (Metric, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.metrics[name]
	return m, ok
}

// Known reports whether name is a registered metric.
func (r *Registry) Known(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Metrics returns every metric sorted by name.
func (r *Registry) Metrics() []Metric {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Metric, 0, len(r.metrics))
	for _, m := range r.metrics {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Metric) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
	return out
}
