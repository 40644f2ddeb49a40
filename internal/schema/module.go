// Package schema owns the target type system: declarative modules, their idempotent application to
// a keyspace and type resolution for writers.
package schema

import (
	"embed"
	"fmt"
	"path"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/adgraph/internal/graphstore"
)

//go:embed modules/*.yaml
var moduleFS embed.FS

const (
	SetBase     = "base"
	SetShopping = "shopping"
)

// moduleSets lists module names in application order; later modules extend earlier ones.
var moduleSets = map[string][]string{
	SetBase:     {"account"},
	SetShopping: {"account", "shopping"},
}

func SetNames() []string {
	out := make([]string, 0, len(moduleSets))
	for k := range moduleSets {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// Module is one named unit of type definitions.
type Module struct {
	Name       string
	Attributes []graphstore.TypeDef
	Entities   []graphstore.TypeDef
	Relations  []graphstore.TypeDef
	Rules      []graphstore.TypeDef
}

type descriptor struct {
	Name       string               `yaml:"name"`
	Attributes []graphstore.TypeDef `yaml:"attributes"`
	Entities   []graphstore.TypeDef `yaml:"entities"`
	Relations  []graphstore.TypeDef `yaml:"relations"`
	Rules      []graphstore.TypeDef `yaml:"rules"`
}

func ParseModule(raw []byte) (Module, error) {
	var d descriptor
	if err := yaml.Unmarshal(raw, &d); err != nil {
		return Module{}, fmt.Errorf("schema: parse module: %w", err)
	}
	if d.Name == "" {
		return Module{}, fmt.Errorf("schema: module name required")
	}
	m := Module{
		Name:       d.Name,
		Attributes: withKind(d.Attributes, graphstore.KindAttribute),
		Entities:   withKind(d.Entities, graphstore.KindEntity),
		Relations:  withKind(d.Relations, graphstore.KindRelation),
		Rules:      withKind(d.Rules, graphstore.KindRule),
	}
	for _, a := range m.Attributes {
		if a.DataType == "" {
			return Module{}, fmt.Errorf("schema: module %s: attribute %s has no datatype", m.Name, a.Label)
		}
	}
	return m, nil
}

func withKind(defs []graphstore.TypeDef, k graphstore.Kind) []graphstore.TypeDef {
	out := make([]graphstore.TypeDef, 0, len(defs))
	for _, d := range defs {
		d = d.Clone()
		d.Kind = k
		out = append(out, d)
	}
	return out
}

// Roles derives the role types declared by the module's relations, in first-seen order.
func (m Module) Roles() []graphstore.TypeDef {
	var out []graphstore.TypeDef
	seen := map[string]bool{}
	for _, r := range m.Relations {
		for _, role := range r.Relates {
			if seen[role] {
				continue
			}
			seen[role] = true
			out = append(out, graphstore.TypeDef{Label: role, Kind: graphstore.KindRole})
		}
	}
	return out
}

// Defs returns every definition in dependency order: attributes, roles, entities (supertypes
// first), relations, rules.
func (m Module) Defs() []graphstore.TypeDef {
	out := make([]graphstore.TypeDef, 0, len(m.Attributes)+len(m.Entities)+len(m.Relations)+len(m.Rules)+8)
	out = append(out, m.Attributes...)
	out = append(out, m.Roles()...)
	out = append(out, supFirst(m.Entities)...)
	out = append(out, supFirst(m.Relations)...)
	out = append(out, m.Rules...)
	return out
}

// supFirst orders defs so that a type declared in the same list follows its supertype.
func supFirst(defs []graphstore.TypeDef) []graphstore.TypeDef {
	byLabel := make(map[string]graphstore.TypeDef, len(defs))
	for _, d := range defs {
		byLabel[d.Label] = d
	}
	out := make([]graphstore.TypeDef, 0, len(defs))
	done := map[string]bool{}
	var visit func(d graphstore.TypeDef)
	visit = func(d graphstore.TypeDef) {
		if done[d.Label] {
			return
		}
		done[d.Label] = true
		if sup, ok := byLabel[d.Sup]; ok {
			visit(sup)
		}
		out = append(out, d)
	}
	for _, d := range defs {
		visit(d)
	}
	return out
}

func loadModules() (map[string]Module, error) {
	entries, err := moduleFS.ReadDir("modules")
	if err != nil {
		return nil, fmt.Errorf("schema: read modules: %w", err)
	}
	out := make(map[string]Module, len(entries))
	for _, e := range entries {
		raw, err := moduleFS.ReadFile(path.Join("modules", e.Name()))
		if err != nil {
			return nil, fmt.Errorf("schema: read %s: %w", e.Name(), err)
		}
		m, err := ParseModule(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		out[m.Name] = m
	}
	return out, nil
}
