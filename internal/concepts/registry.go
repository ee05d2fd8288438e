// Package concepts maps taxonomy-specific filing tags onto canonical concept
// names. The table is closed and validated when loaded.
package concepts

import (
	_ "embed"
	"errors"
	"fmt"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

//go:embed concepts.yaml
var defaultTable []byte

// PeriodType says whether a concept measures a flow over a period or a
// balance at an instant.
type PeriodType string

const (
	PeriodDuration PeriodType = "duration"
	PeriodInstant  PeriodType = "instant"
)

// Mapping is one canonical concept and the tags that feed it.
type Mapping struct {
	Name             string         `yaml:"name" json:"name"`
	Kind             units.Kind     `yaml:"kind" json:"kind"`
	PeriodType       PeriodType     `yaml:"period_type" json:"period_type"`
	Description      string         `yaml:"description,omitempty" json:"description,omitempty"`
	GAAPTags         []string       `yaml:"gaap" json:"gaap_tags"`
	IFRSTags         []string       `yaml:"ifrs" json:"ifrs_tags"`
	TaxonomySpecific model.Taxonomy `yaml:"taxonomy_specific,omitempty" json:"taxonomy_specific,omitempty"`
}

// Tags returns the tags for one taxonomy in preference order.
func (m Mapping) Tags(tax model.Taxonomy) []string {
	switch tax {
	case model.TaxonomyGAAP:
		return m.GAAPTags
	case model.TaxonomyIFRS:
		return m.IFRSTags
	}
	return nil
}

type table struct {
	Concepts []Mapping `yaml:"concepts"`
}

// Registry is immutable after construction and safe for concurrent reads.
type Registry struct {
	byName map[string]Mapping
	byTag  map[string]string
	order  []string
}

// Load builds the registry from the embedded table.
func Load() (*Registry, error) {
	return Parse(defaultTable)
}

// Parse builds a registry from YAML.
func Parse(data []byte) (*Registry, error) {
	var t table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse concept table: %w", err)
	}
	return New(t.Concepts)
}

// New validates mappings and builds a registry. Every problem found is reported.
func New(mappings []Mapping) (*Registry, error) {
	r := &Registry{
		byName: make(map[string]Mapping, len(mappings)),
		byTag:  make(map[string]string),
	}
	var errs []error

	for _, m := range mappings {
		if m.Name == "" {
			errs = append(errs, errors.New("concept with empty name"))
			continue
		}
		if _, dup := r.byName[m.Name]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate concept", m.Name))
			continue
		}
		if !m.Kind.Valid() {
			errs = append(errs, fmt.Errorf("%s: invalid kind %q", m.Name, m.Kind))
		}
		if m.PeriodType != PeriodDuration && m.PeriodType != PeriodInstant {
			errs = append(errs, fmt.Errorf("%s: invalid period_type %q", m.Name, m.PeriodType))
		}

		switch m.TaxonomySpecific {
		case "":
			if len(m.GAAPTags) == 0 || len(m.IFRSTags) == 0 {
				errs = append(errs, fmt.Errorf("%s: needs gaap and ifrs tags or taxonomy_specific", m.Name))
			}
		case model.TaxonomyGAAP:
			if len(m.GAAPTags) == 0 || len(m.IFRSTags) != 0 {
				errs = append(errs, fmt.Errorf("%s: gaap-specific concept must list only gaap tags", m.Name))
			}
		case model.TaxonomyIFRS:
			if len(m.IFRSTags) == 0 || len(m.GAAPTags) != 0 {
				errs = append(errs, fmt.Errorf("%s: ifrs-specific concept must list only ifrs tags", m.Name))
			}
		default:
			errs = append(errs, fmt.Errorf("%s: unknown taxonomy_specific %q", m.Name, m.TaxonomySpecific))
		}

		for _, tax := range []model.Taxonomy{model.TaxonomyGAAP, model.TaxonomyIFRS} {
			for _, tag := range m.Tags(tax) {
				key := tagKey(tax, tag)
				if other, taken := r.byTag[key]; taken && other != m.Name {
					errs = append(errs, fmt.Errorf("%s: tag %s:%s already maps to %s", m.Name, tax, tag, other))
					continue
				}
				r.byTag[key] = m.Name
			}
		}

		r.byName[m.Name] = m
		r.order = append(r.order, m.Name)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid concept table: %w", errors.Join(errs...))
	}
	slices.Sort(r.order)
	return r, nil
}

func tagKey(tax model.Taxonomy, tag string) string {
	return string(tax) + ":" + strings.ToLower(tag)
}

// Lookup returns the mapping for a canonical name.
func (r *Registry) Lookup(name string) (Mapping, bool) {
	m, ok := r.byName[name]
	return m, ok
}

// Known reports whether name is a canonical concept.
func (r *Registry) Known(name string) bool {
	_, ok := r.byName[name]
	return ok
}

// Canonical maps a filed tag back to its canonical name.
func (r *Registry) Canonical(tax model.Taxonomy, tag string) (string, bool) {
	name, ok := r.byTag[tagKey(tax, tag)]
	return name, ok
}

// Supports reports whether the concept can be resolved for an issuer filing
// under tax.
func (r *Registry) Supports(name string, tax model.Taxonomy) bool {
	m, ok := r.byName[name]
	if !ok {
		return false
	}
	return len(m.Tags(tax)) > 0
}

// Names returns every canonical name, sorted.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// NamesFor returns the canonical names resolvable under tax, sorted.
func (r *Registry) NamesFor(tax model.Taxonomy) []string {
	var names []string
	for _, n := range r.order {
		if r.Supports(n, tax) {
			names = append(names, n)
		}
	}
	return names
}

// Mappings returns every mapping, sorted by name.
func (r *Registry) Mappings() []Mapping {
	out := make([]Mapping, 0, len(r.order))
	for _, n := range r.order {
		out = append(out, r.byName[n])
	}
	return out
}

// Require returns the mapping for name under tax, or concept_unavailable
// carrying the names that would have worked.
func (r *Registry) Require(name string, tax model.Taxonomy) (Mapping, error) {
	m, ok := r.byName[name]
	if !ok {
		return Mapping{}, apperrors.New(apperrors.KindConceptUnavailable,
			fmt.Sprintf("unknown concept %q", name)).
			With("concept", name).
			With("available_concepts", r.NamesFor(tax))
	}
	if !r.Supports(name, tax) {
		return Mapping{}, apperrors.New(apperrors.KindConceptUnavailable,
			fmt.Sprintf("concept %q has no %s mapping", name, tax)).
			With("concept", name).
			With("taxonomy", string(tax)).
			With("available_concepts", r.NamesFor(tax))
	}
	return m, nil
}
