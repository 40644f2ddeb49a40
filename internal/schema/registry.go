package schema

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
	"github.com/yungbote/adgraph/internal/platform/logger"
)

type Action string

const (
	ActionCreate   Action = "create"
	ActionExtend   Action = "extend"
	ActionNoop     Action = "noop"
	ActionConflict Action = "conflict"
)

// Change is one line of a plan: what applying a definition would do to the live type system.
type Change struct {
	Module string
	Def    graphstore.TypeDef
	Action Action
	Detail string
}

// Created lists the labels a module application actually wrote, grouped by kind.
type Created struct {
	Module     string   `json:"module"`
	Entities   []string `json:"entities"`
	Relations  []string `json:"relations"`
	Attributes []string `json:"attributes"`
	Roles      []string `json:"roles"`
	Rules      []string `json:"rules"`
}

func (c Created) Total() int {
	return len(c.Entities) + len(c.Relations) + len(c.Attributes) + len(c.Roles) + len(c.Rules)
}

// TypeHandle is a resolved type writers use instead of hardcoded labels. Key and Owns include
// what the type inherits from its supertypes.
type TypeHandle struct {
	Label    string
	Kind     graphstore.Kind
	DataType graphstore.DataType
	Key      string
	Owns     map[string]bool
	Relates  map[string]bool
}

type Registry struct {
	log     *logger.Logger
	modules map[string]Module

	mu      sync.RWMutex
	applied map[string]graphstore.TypeDef
}

func NewRegistry(log *logger.Logger) (*Registry, error) {
	if log == nil {
		log = logger.Nop()
	}
	mods, err := loadModules()
	if err != nil {
		return nil, err
	}
	r := &Registry{log: log.With("component", "SchemaRegistry"), modules: mods, applied: map[string]graphstore.TypeDef{}}
	for _, set := range SetNames() {
		if err := r.validateSet(set); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ModuleSet returns the modules of a named set in application order.
func (r *Registry) ModuleSet(set string) ([]Module, error) {
	names, ok := moduleSets[set]
	if !ok {
		return nil, fmt.Errorf("schema: unknown module set %q (have %s)", set, strings.Join(SetNames(), ", "))
	}
	out := make([]Module, 0, len(names))
	for _, n := range names {
		m, ok := r.modules[n]
		if !ok {
			return nil, fmt.Errorf("schema: module %q not found", n)
		}
		out = append(out, m)
	}
	return out, nil
}

// validateSet checks that every reference inside a set resolves to a type declared by the set.
func (r *Registry) validateSet(set string) error {
	const op = "schema.validate"
	mods, err := r.ModuleSet(set)
	if err != nil {
		return err
	}
	declared := map[string]graphstore.Kind{}
	for _, m := range mods {
		for _, d := range m.Defs() {
			declared[d.Label] = d.Kind
		}
	}
	check := func(owner, label string, want graphstore.Kind) error {
		if k, ok := declared[label]; !ok || k != want {
			return migerr.New(migerr.CodeUnknownType, op, fmt.Sprintf("set %s: %s references undefined %s %q", set, owner, want, label), nil)
		}
		return nil
	}
	for _, m := range mods {
		for _, d := range m.Defs() {
			if d.Sup != "" {
				if err := check(d.Label, d.Sup, d.Kind); err != nil {
					return err
				}
			}
			for _, a := range d.Owns {
				if err := check(d.Label, a, graphstore.KindAttribute); err != nil {
					return err
				}
			}
			for _, p := range d.Plays {
				if err := check(d.Label, p, graphstore.KindRole); err != nil {
					return err
				}
			}
			if d.Key != "" && !slices.Contains(d.Owns, d.Key) && d.Sup == "" {
				return migerr.New(migerr.CodeSchemaConflict, op, fmt.Sprintf("set %s: %s key %q is not owned", set, d.Label, d.Key), nil)
			}
		}
	}
	return nil
}

// diff compares a wanted definition against the live one.
func diff(want, have graphstore.TypeDef, exists bool) (Action, graphstore.TypeDef, string) {
	if !exists {
		return ActionCreate, want, ""
	}
	var conflicts []string
	if want.Kind != have.Kind {
		conflicts = append(conflicts, fmt.Sprintf("kind %s != %s", want.Kind, have.Kind))
	}
	if want.DataType != have.DataType {
		conflicts = append(conflicts, fmt.Sprintf("datatype %s != %s", want.DataType, have.DataType))
	}
	if want.Sup != have.Sup {
		conflicts = append(conflicts, fmt.Sprintf("sup %q != %q", want.Sup, have.Sup))
	}
	if want.Abstract != have.Abstract {
		conflicts = append(conflicts, fmt.Sprintf("abstract %v != %v", want.Abstract, have.Abstract))
	}
	if want.Key != have.Key {
		conflicts = append(conflicts, fmt.Sprintf("key %q != %q", want.Key, have.Key))
	}
	if strings.TrimSpace(want.When) != strings.TrimSpace(have.When) || strings.TrimSpace(want.Then) != strings.TrimSpace(have.Then) {
		conflicts = append(conflicts, "rule body differs")
	}
	if len(conflicts) > 0 {
		return ActionConflict, have, strings.Join(conflicts, "; ")
	}

	merged := have.Clone()
	var added []string
	merge := func(dst *[]string, src []string, what string) {
		for _, s := range src {
			if !slices.Contains(*dst, s) {
				*dst = append(*dst, s)
				added = append(added, what+" "+s)
			}
		}
	}
	merge(&merged.Owns, want.Owns, "owns")
	merge(&merged.Plays, want.Plays, "plays")
	merge(&merged.Relates, want.Relates, "relates")
	if len(added) == 0 {
		return ActionNoop, have, ""
	}
	return ActionExtend, merged, strings.Join(added, ", ")
}

func planModule(ctx context.Context, tx graphstore.Tx, m Module) ([]Change, error) {
	defs := m.Defs()
	out := make([]Change, 0, len(defs))
	for _, want := range defs {
		have, ok, err := tx.GetType(ctx, want.Label)
		if err != nil {
			return nil, graphstore.MapError("schema.plan", err)
		}
		action, next, detail := diff(want, have, ok)
		out = append(out, Change{Module: m.Name, Def: next, Action: action, Detail: detail})
	}
	return out, nil
}

// Plan reports what Apply would do without writing. Modules are planned in order against the live
// type system overlaid with the effects of earlier modules in the set.
func (r *Registry) Plan(ctx context.Context, s graphstore.Session, set string) ([]Change, error) {
	mods, err := r.ModuleSet(set)
	if err != nil {
		return nil, err
	}
	var out []Change
	err = graphstore.InReadTx(ctx, s, func(tx graphstore.Tx) error {
		ov := &overlayTx{Tx: tx, defs: map[string]graphstore.TypeDef{}}
		for _, m := range mods {
			changes, err := planModule(ctx, ov, m)
			if err != nil {
				return err
			}
			for _, c := range changes {
				if c.Action == ActionCreate || c.Action == ActionExtend {
					ov.defs[c.Def.Label] = c.Def
				}
			}
			out = append(out, changes...)
		}
		return nil
	})
	return out, err
}

// Apply brings the keyspace's type system up to the named set, one write transaction per module.
// Already-present identical types are left alone; conflicting ones abort before anything of that
// module is written.
func (r *Registry) Apply(ctx context.Context, s graphstore.Session, set string) ([]Created, error) {
	const op = "schema.apply"
	mods, err := r.ModuleSet(set)
	if err != nil {
		return nil, err
	}
	out := make([]Created, 0, len(mods))
	for _, m := range mods {
		created := Created{Module: m.Name}
		var finals []graphstore.TypeDef
		err := graphstore.InTx(ctx, s, func(tx graphstore.Tx) error {
			changes, err := planModule(ctx, tx, m)
			if err != nil {
				return err
			}
			for _, c := range changes {
				if c.Action == ActionConflict {
					return migerr.SchemaConflict(op, "module %s: %s %s: %s", m.Name, c.Def.Kind, c.Def.Label, c.Detail)
				}
			}
			finals = finals[:0]
			for _, c := range changes {
				finals = append(finals, c.Def)
				if c.Action == ActionNoop {
					continue
				}
				if err := tx.PutType(ctx, c.Def); err != nil {
					return graphstore.MapError(op, err)
				}
				if c.Action == ActionCreate {
					created.add(c.Def)
				} else {
					r.log.Info("schema type extended", "module", m.Name, "label", c.Def.Label, "added", c.Detail)
				}
			}
			return nil
		})
		if err != nil {
			return out, graphstore.MapError(op, err)
		}
		r.mu.Lock()
		for _, d := range finals {
			r.applied[d.Label] = d
		}
		r.mu.Unlock()
		r.log.Info("schema module applied", "module", m.Name, "keyspace", s.Keyspace(), "created", created.Total())
		out = append(out, created)
	}
	return out, nil
}

func (c *Created) add(d graphstore.TypeDef) {
	switch d.Kind {
	case graphstore.KindEntity:
		c.Entities = append(c.Entities, d.Label)
	case graphstore.KindRelation:
		c.Relations = append(c.Relations, d.Label)
	case graphstore.KindAttribute:
		c.Attributes = append(c.Attributes, d.Label)
	case graphstore.KindRole:
		c.Roles = append(c.Roles, d.Label)
	case graphstore.KindRule:
		c.Rules = append(c.Rules, d.Label)
	}
}

func (r *Registry) lookup(label string) (graphstore.TypeDef, bool) {
	d, ok := r.applied[label]
	return d, ok
}

// Resolve returns the handle of an applied type or an unknown_type error.
func (r *Registry) Resolve(label string) (TypeHandle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.applied[label]
	if !ok {
		return TypeHandle{}, migerr.UnknownType("schema.resolve", label)
	}
	key := d.Key
	for _, l := range graphstore.Lineage(r.lookup, d.Label) {
		if key != "" {
			break
		}
		key = r.applied[l].Key
	}
	return TypeHandle{
		Label:    d.Label,
		Kind:     d.Kind,
		DataType: d.DataType,
		Key:      key,
		Owns:     graphstore.EffectiveOwns(r.lookup, d.Label),
		Relates:  graphstore.EffectiveRelates(r.lookup, d.Label),
	}, nil
}

// Describe lists the live type system of a keyspace.
func (r *Registry) Describe(ctx context.Context, s graphstore.Session) ([]graphstore.TypeDef, error) {
	var out []graphstore.TypeDef
	err := graphstore.InReadTx(ctx, s, func(tx graphstore.Tx) error {
		defs, err := tx.ListTypes(ctx)
		out = defs
		return err
	})
	if err != nil {
		return nil, graphstore.MapError("schema.describe", err)
	}
	return out, nil
}

// overlayTx lets Plan see the effect of earlier modules without writing them.
type overlayTx struct {
	graphstore.Tx
	defs map[string]graphstore.TypeDef
}

func (o *overlayTx) GetType(ctx context.Context, label string) (graphstore.TypeDef, bool, error) {
	if d, ok := o.defs[label]; ok {
		return d.Clone(), true, nil
	}
	return o.Tx.GetType(ctx, label)
}
