// Package memstore is an in-process graphstore used by tests and dry runs.
//
// Transactions buffer their writes and apply them under the store lock on Commit, so uncommitted
// work is invisible to other transactions. A fault hook can inject transient failures.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
)

// FaultFunc is consulted before Begin and Commit; a non-nil error aborts the call.
type FaultFunc func(op string) error

type Store struct {
	mu     sync.RWMutex
	spaces map[string]*keyspace
	seq    uint64
	fault  FaultFunc
}

type keyspace struct {
	types    map[string]graphstore.TypeDef
	concepts map[graphstore.ConceptID]*concept
}

type concept struct {
	id    graphstore.ConceptID
	typ   string
	seq   uint64
	attrs map[string]any
	roles map[string][]graphstore.ConceptID
}

func (c *concept) clone() *concept {
	out := &concept{id: c.id, typ: c.typ, seq: c.seq, attrs: make(map[string]any, len(c.attrs)), roles: make(map[string][]graphstore.ConceptID, len(c.roles))}
	for k, v := range c.attrs {
		out.attrs[k] = v
	}
	for k, v := range c.roles {
		out.roles[k] = slices.Clone(v)
	}
	return out
}

func New() *Store {
	return &Store{spaces: map[string]*keyspace{}}
}

// SetFault installs (or clears, with nil) the fault hook.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

func (s *Store) checkFault(op string) error {
	s.mu.RLock()
	fn := s.fault
	s.mu.RUnlock()
	if fn == nil {
		return nil
	}
	return fn(op)
}

func (s *Store) Session(ctx context.Context, name string) (graphstore.Session, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("memstore: keyspace required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.spaces[name]; !ok {
		s.spaces[name] = &keyspace{types: map[string]graphstore.TypeDef{}, concepts: map[graphstore.ConceptID]*concept{}}
	}
	return &session{store: s, name: name}, nil
}

func (s *Store) Close(ctx context.Context) error { return nil }

// Count returns the number of committed instances of label (subtypes included) in a keyspace.
func (s *Store) Count(name, label string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.spaces[name]
	if !ok {
		return 0
	}
	lookup := func(l string) (graphstore.TypeDef, bool) { d, ok := ks.types[l]; return d, ok }
	n := 0
	for _, c := range ks.concepts {
		if graphstore.IsA(lookup, c.typ, label) {
			n++
		}
	}
	return n
}

// Attr returns a committed attribute value of a concept.
func (s *Store) Attr(name string, id graphstore.ConceptID, attr string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ks, ok := s.spaces[name]
	if !ok {
		return nil, false
	}
	c, ok := ks.concepts[id]
	if !ok {
		return nil, false
	}
	v, ok := c.attrs[attr]
	return v, ok
}

type session struct {
	store *Store
	name  string
}

func (s *session) Keyspace() string { return s.name }

func (s *session) Begin(ctx context.Context, mode graphstore.AccessMode) (graphstore.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.store.checkFault("begin"); err != nil {
		return nil, err
	}
	return &tx{
		store: s.store,
		name:  s.name,
		write: mode == graphstore.AccessWrite,
		types: map[string]graphstore.TypeDef{},
		local: map[graphstore.ConceptID]*concept{},
	}, nil
}

func (s *session) Close(ctx context.Context) error { return nil }

var errClosed = errors.New("memstore: transaction closed")

type tx struct {
	store  *Store
	name   string
	write  bool
	closed bool

	// local holds concepts created or modified by this tx; types holds pending type writes.
	types map[string]graphstore.TypeDef
	local map[graphstore.ConceptID]*concept
	ops   []func(ks *keyspace)
}

func (t *tx) usable(writing bool) error {
	if t.closed {
		return errClosed
	}
	if writing && !t.write {
		return fmt.Errorf("memstore: write in read transaction")
	}
	return nil
}

func (t *tx) lookupType(label string) (graphstore.TypeDef, bool) {
	if d, ok := t.types[label]; ok {
		return d, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	d, ok := t.store.spaces[t.name].types[label]
	return d, ok
}

func (t *tx) concept(id graphstore.ConceptID) (*concept, bool) {
	if c, ok := t.local[id]; ok {
		return c, true
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	c, ok := t.store.spaces[t.name].concepts[id]
	return c, ok
}

// mutable returns a tx-local copy of id that can be changed without touching committed state.
func (t *tx) mutable(id graphstore.ConceptID) (*concept, bool) {
	if c, ok := t.local[id]; ok {
		return c, true
	}
	t.store.mu.RLock()
	c, ok := t.store.spaces[t.name].concepts[id]
	var cp *concept
	if ok {
		cp = c.clone()
	}
	t.store.mu.RUnlock()
	if !ok {
		return nil, false
	}
	t.local[id] = cp
	return cp, true
}

func (t *tx) GetType(ctx context.Context, label string) (graphstore.TypeDef, bool, error) {
	if err := t.usable(false); err != nil {
		return graphstore.TypeDef{}, false, err
	}
	d, ok := t.lookupType(label)
	return d.Clone(), ok, nil
}

func (t *tx) PutType(ctx context.Context, def graphstore.TypeDef) error {
	if err := t.usable(true); err != nil {
		return err
	}
	if strings.TrimSpace(def.Label) == "" {
		return migerr.MalformedRecord("memstore.put_type", "type label required")
	}
	def = def.Clone()
	t.types[def.Label] = def
	t.ops = append(t.ops, func(ks *keyspace) { ks.types[def.Label] = def })
	return nil
}

func (t *tx) ListTypes(ctx context.Context) ([]graphstore.TypeDef, error) {
	if err := t.usable(false); err != nil {
		return nil, err
	}
	merged := map[string]graphstore.TypeDef{}
	t.store.mu.RLock()
	for k, v := range t.store.spaces[t.name].types {
		merged[k] = v
	}
	t.store.mu.RUnlock()
	for k, v := range t.types {
		merged[k] = v
	}
	out := make([]graphstore.TypeDef, 0, len(merged))
	for _, d := range merged {
		out = append(out, d.Clone())
	}
	slices.SortFunc(out, func(a, b graphstore.TypeDef) int { return strings.Compare(a.Label, b.Label) })
	return out, nil
}

func (t *tx) instantiable(op, typ string, kind graphstore.Kind) error {
	def, ok := t.lookupType(typ)
	if !ok {
		return migerr.UnknownType(op, typ)
	}
	if def.Kind != kind {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s is a %s type, not %s", typ, def.Kind, kind), nil)
	}
	if def.Abstract {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s is abstract", typ), nil)
	}
	return nil
}

func (t *tx) newConcept(typ string) *concept {
	t.store.mu.Lock()
	t.store.seq++
	seq := t.store.seq
	t.store.mu.Unlock()
	c := &concept{
		id:    graphstore.ConceptID(uuid.NewString()),
		typ:   typ,
		seq:   seq,
		attrs: map[string]any{},
		roles: map[string][]graphstore.ConceptID{},
	}
	t.local[c.id] = c
	t.ops = append(t.ops, func(ks *keyspace) {
		if _, ok := ks.concepts[c.id]; !ok {
			ks.concepts[c.id] = &concept{id: c.id, typ: c.typ, seq: c.seq, attrs: map[string]any{}, roles: map[string][]graphstore.ConceptID{}}
		}
	})
	return c
}

func (t *tx) CreateEntity(ctx context.Context, typ string) (graphstore.ConceptID, error) {
	if err := t.usable(true); err != nil {
		return "", err
	}
	if err := t.instantiable("memstore.create_entity", typ, graphstore.KindEntity); err != nil {
		return "", err
	}
	return t.newConcept(typ).id, nil
}

func (t *tx) CreateRelation(ctx context.Context, typ string) (graphstore.ConceptID, error) {
	if err := t.usable(true); err != nil {
		return "", err
	}
	if err := t.instantiable("memstore.create_relation", typ, graphstore.KindRelation); err != nil {
		return "", err
	}
	return t.newConcept(typ).id, nil
}

func (t *tx) CreateAttribute(ctx context.Context, typ string, value any) (graphstore.Attribute, error) {
	if err := t.usable(true); err != nil {
		return graphstore.Attribute{}, err
	}
	const op = "memstore.create_attribute"
	def, ok := t.lookupType(typ)
	if !ok {
		return graphstore.Attribute{}, migerr.UnknownType(op, typ)
	}
	if def.Kind != graphstore.KindAttribute {
		return graphstore.Attribute{}, migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s is not an attribute type", typ), nil)
	}
	v, err := graphstore.CoerceValue(def.DataType, value)
	if err != nil {
		return graphstore.Attribute{}, migerr.MalformedRecord(op, "%s: %v", typ, err)
	}
	return graphstore.Attribute{Type: typ, Value: v}, nil
}

func (t *tx) AttachAttribute(ctx context.Context, owner graphstore.ConceptID, attr graphstore.Attribute) error {
	if err := t.usable(true); err != nil {
		return err
	}
	const op = "memstore.attach_attribute"
	c, ok := t.mutable(owner)
	if !ok {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("concept %s not found", owner), nil)
	}
	if !graphstore.EffectiveOwns(t.lookupType, c.typ)[attr.Type] {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s does not own %s", c.typ, attr.Type), nil)
	}
	c.attrs[attr.Type] = attr.Value
	t.ops = append(t.ops, func(ks *keyspace) {
		if tgt, ok := ks.concepts[owner]; ok {
			tgt.attrs[attr.Type] = attr.Value
		}
	})
	return nil
}

func (t *tx) AssignRole(ctx context.Context, rel graphstore.ConceptID, role string, player graphstore.ConceptID) error {
	if err := t.usable(true); err != nil {
		return err
	}
	const op = "memstore.assign_role"
	r, ok := t.mutable(rel)
	if !ok {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("relation %s not found", rel), nil)
	}
	if !graphstore.EffectiveRelates(t.lookupType, r.typ)[role] {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s does not relate %s", r.typ, role), nil)
	}
	if _, ok := t.concept(player); !ok {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("player %s not found", player), nil)
	}
	if slices.Contains(r.roles[role], player) {
		return nil
	}
	r.roles[role] = append(r.roles[role], player)
	t.ops = append(t.ops, func(ks *keyspace) {
		if tgt, ok := ks.concepts[rel]; ok && !slices.Contains(tgt.roles[role], player) {
			tgt.roles[role] = append(tgt.roles[role], player)
		}
	})
	return nil
}

func (t *tx) Match(ctx context.Context, q graphstore.Query) ([]graphstore.ConceptID, error) {
	if err := t.usable(false); err != nil {
		return nil, err
	}
	const op = "memstore.match"
	if _, ok := t.lookupType(q.Type); !ok {
		return nil, migerr.UnknownType(op, q.Type)
	}
	want := make(map[string]any, len(q.Attrs))
	for k, v := range q.Attrs {
		def, ok := t.lookupType(k)
		if !ok {
			return nil, migerr.UnknownType(op, k)
		}
		cv, err := graphstore.CoerceValue(def.DataType, v)
		if err != nil {
			return nil, migerr.MalformedRecord(op, "%s: %v", k, err)
		}
		want[k] = cv
	}

	hits := make([]*concept, 0)
	t.store.mu.RLock()
	ks := t.store.spaces[t.name]
	lookup := func(l string) (graphstore.TypeDef, bool) {
		if d, ok := t.types[l]; ok {
			return d, true
		}
		d, ok := ks.types[l]
		return d, ok
	}
	for id, c := range ks.concepts {
		if _, shadowed := t.local[id]; shadowed {
			continue
		}
		if graphstore.IsA(lookup, c.typ, q.Type) && matches(c, want, q.Players) {
			hits = append(hits, c.clone())
		}
	}
	for _, c := range t.local {
		if graphstore.IsA(lookup, c.typ, q.Type) && matches(c, want, q.Players) {
			hits = append(hits, c)
		}
	}
	t.store.mu.RUnlock()
	slices.SortFunc(hits, func(a, b *concept) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]graphstore.ConceptID, len(hits))
	for i, c := range hits {
		out[i] = c.id
	}
	return out, nil
}

func matches(c *concept, attrs map[string]any, players []graphstore.RolePlayer) bool {
	for k, v := range attrs {
		if got, ok := c.attrs[k]; !ok || got != v {
			return false
		}
	}
	for _, rp := range players {
		if !slices.Contains(c.roles[rp.Role], rp.Player) {
			return false
		}
	}
	return true
}

func (t *tx) Commit(ctx context.Context) error {
	if t.closed {
		return errClosed
	}
	if t.write {
		if err := t.store.checkFault("commit"); err != nil {
			t.closed = true
			return err
		}
		t.store.mu.Lock()
		ks := t.store.spaces[t.name]
		for _, op := range t.ops {
			op(ks)
		}
		t.store.mu.Unlock()
	}
	t.closed = true
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	t.closed = true
	t.ops = nil
	t.local = map[graphstore.ConceptID]*concept{}
	return nil
}
