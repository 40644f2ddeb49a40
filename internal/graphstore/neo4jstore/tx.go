package neo4jstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/adgraph/internal/domain/migerr"
	"github.com/yungbote/adgraph/internal/graphstore"
)

type tx struct {
	keyspace string
	write    bool
	closed   bool
	session  neo4j.SessionWithContext
	etx      neo4j.ExplicitTransaction

	// types caches definitions read or written during this tx.
	types map[string]graphstore.TypeDef
}

func (t *tx) usable(op string, writing bool) error {
	if t.closed {
		return migerr.New(migerr.CodeInternal, op, "transaction closed", nil)
	}
	if writing && !t.write {
		return migerr.New(migerr.CodeInternal, op, "write in read transaction", nil)
	}
	return nil
}

func (t *tx) run(ctx context.Context, op, cypher string, params map[string]any) ([]*neo4j.Record, error) {
	res, err := t.etx.Run(ctx, cypher, params)
	if err != nil {
		return nil, graphstore.MapError(op, err)
	}
	recs, err := res.Collect(ctx)
	if err != nil {
		return nil, graphstore.MapError(op, err)
	}
	return recs, nil
}

func (t *tx) GetType(ctx context.Context, label string) (graphstore.TypeDef, bool, error) {
	const op = "neo4jstore.get_type"
	if err := t.usable(op, false); err != nil {
		return graphstore.TypeDef{}, false, err
	}
	if d, ok := t.types[label]; ok {
		return d.Clone(), true, nil
	}
	recs, err := t.run(ctx, op, `
MATCH (t:SchemaType {keyspace: $ks, label: $label})
RETURN properties(t) AS props
`, map[string]any{"ks": t.keyspace, "label": label})
	if err != nil {
		return graphstore.TypeDef{}, false, err
	}
	if len(recs) == 0 {
		return graphstore.TypeDef{}, false, nil
	}
	raw, _ := recs[0].Get("props")
	props, _ := raw.(map[string]any)
	d := typeFromProps(props)
	t.types[label] = d
	return d.Clone(), true, nil
}

func (t *tx) lookup(ctx context.Context, label string) (graphstore.TypeDef, bool, error) {
	return t.GetType(ctx, label)
}

// lineage resolves label and its supertypes through the tx type cache.
func (t *tx) lineage(ctx context.Context, label string) ([]graphstore.TypeDef, error) {
	var out []graphstore.TypeDef
	seen := map[string]bool{}
	for label != "" && !seen[label] {
		seen[label] = true
		d, ok, err := t.lookup(ctx, label)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, migerr.UnknownType("neo4jstore.lineage", label)
		}
		out = append(out, d)
		label = d.Sup
	}
	return out, nil
}

func (t *tx) PutType(ctx context.Context, def graphstore.TypeDef) error {
	const op = "neo4jstore.put_type"
	if err := t.usable(op, true); err != nil {
		return err
	}
	if strings.TrimSpace(def.Label) == "" {
		return migerr.MalformedRecord(op, "type label required")
	}
	_, err := t.run(ctx, op, `
MERGE (t:SchemaType {keyspace: $ks, label: $label})
SET t += $props
`, map[string]any{"ks": t.keyspace, "label": def.Label, "props": typeToProps(def)})
	if err != nil {
		return err
	}
	t.types[def.Label] = def.Clone()
	return nil
}

func (t *tx) ListTypes(ctx context.Context) ([]graphstore.TypeDef, error) {
	const op = "neo4jstore.list_types"
	if err := t.usable(op, false); err != nil {
		return nil, err
	}
	recs, err := t.run(ctx, op, `
MATCH (t:SchemaType {keyspace: $ks})
RETURN properties(t) AS props
ORDER BY t.label
`, map[string]any{"ks": t.keyspace})
	if err != nil {
		return nil, err
	}
	out := make([]graphstore.TypeDef, 0, len(recs))
	for _, rec := range recs {
		raw, _ := rec.Get("props")
		props, _ := raw.(map[string]any)
		d := typeFromProps(props)
		t.types[d.Label] = d
		out = append(out, d.Clone())
	}
	return out, nil
}

func (t *tx) create(ctx context.Context, op, typ string, kind graphstore.Kind) (graphstore.ConceptID, error) {
	if err := t.usable(op, true); err != nil {
		return "", err
	}
	line, err := t.lineage(ctx, typ)
	if err != nil {
		return "", err
	}
	if line[0].Kind != kind {
		return "", migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s is a %s type, not %s", typ, line[0].Kind, kind), nil)
	}
	if line[0].Abstract {
		return "", migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s is abstract", typ), nil)
	}
	labels := make([]string, 0, len(line))
	for _, d := range line {
		labels = append(labels, d.Label)
	}
	id := uuid.NewString()
	cypher := fmt.Sprintf(`CREATE (n:Thing%s {keyspace: $ks, _id: $id, _type: $type})`, labelClause(labels))
	if _, err := t.run(ctx, op, cypher, map[string]any{"ks": t.keyspace, "id": id, "type": typ}); err != nil {
		return "", err
	}
	return graphstore.ConceptID(id), nil
}

func (t *tx) CreateEntity(ctx context.Context, typ string) (graphstore.ConceptID, error) {
	return t.create(ctx, "neo4jstore.create_entity", typ, graphstore.KindEntity)
}

func (t *tx) CreateRelation(ctx context.Context, typ string) (graphstore.ConceptID, error) {
	return t.create(ctx, "neo4jstore.create_relation", typ, graphstore.KindRelation)
}

func (t *tx) CreateAttribute(ctx context.Context, typ string, value any) (graphstore.Attribute, error) {
	const op = "neo4jstore.create_attribute"
	if err := t.usable(op, true); err != nil {
		return graphstore.Attribute{}, err
	}
	d, ok, err := t.lookup(ctx, typ)
	if err != nil {
		return graphstore.Attribute{}, err
	}
	if !ok {
		return graphstore.Attribute{}, migerr.UnknownType(op, typ)
	}
	if d.Kind != graphstore.KindAttribute {
		return graphstore.Attribute{}, migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s is not an attribute type", typ), nil)
	}
	v, err := graphstore.CoerceValue(d.DataType, value)
	if err != nil {
		return graphstore.Attribute{}, migerr.MalformedRecord(op, "%s: %v", typ, err)
	}
	return graphstore.Attribute{Type: typ, Value: v}, nil
}

func (t *tx) typeOf(ctx context.Context, op string, id graphstore.ConceptID) (string, error) {
	recs, err := t.run(ctx, op, `
MATCH (n:Thing {keyspace: $ks, _id: $id})
RETURN n._type AS type
`, map[string]any{"ks": t.keyspace, "id": string(id)})
	if err != nil {
		return "", err
	}
	if len(recs) == 0 {
		return "", migerr.New(migerr.CodeInternal, op, fmt.Sprintf("concept %s not found", id), nil)
	}
	raw, _ := recs[0].Get("type")
	typ, _ := raw.(string)
	return typ, nil
}

func (t *tx) AttachAttribute(ctx context.Context, owner graphstore.ConceptID, attr graphstore.Attribute) error {
	const op = "neo4jstore.attach_attribute"
	if err := t.usable(op, true); err != nil {
		return err
	}
	typ, err := t.typeOf(ctx, op, owner)
	if err != nil {
		return err
	}
	line, err := t.lineage(ctx, typ)
	if err != nil {
		return err
	}
	if !owns(line, attr.Type) {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s does not own %s", typ, attr.Type), nil)
	}
	_, err = t.run(ctx, op, `
MATCH (n:Thing {keyspace: $ks, _id: $id})
SET n += $props
`, map[string]any{"ks": t.keyspace, "id": string(owner), "props": map[string]any{attr.Type: attr.Value}})
	return err
}

func (t *tx) AssignRole(ctx context.Context, rel graphstore.ConceptID, role string, player graphstore.ConceptID) error {
	const op = "neo4jstore.assign_role"
	if err := t.usable(op, true); err != nil {
		return err
	}
	typ, err := t.typeOf(ctx, op, rel)
	if err != nil {
		return err
	}
	line, err := t.lineage(ctx, typ)
	if err != nil {
		return err
	}
	if !relates(line, role) {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("%s does not relate %s", typ, role), nil)
	}
	recs, err := t.run(ctx, op, `
MATCH (r:Thing {keyspace: $ks, _id: $rel})
MATCH (p:Thing {keyspace: $ks, _id: $player})
MERGE (r)-[:ROLE {role: $role}]->(p)
RETURN count(*) AS n
`, map[string]any{"ks": t.keyspace, "rel": string(rel), "player": string(player), "role": role})
	if err != nil {
		return err
	}
	if len(recs) == 0 || asInt64(recs[0], "n") == 0 {
		return migerr.New(migerr.CodeInternal, op, fmt.Sprintf("player %s not found", player), nil)
	}
	return nil
}

func (t *tx) Match(ctx context.Context, q graphstore.Query) ([]graphstore.ConceptID, error) {
	const op = "neo4jstore.match"
	if err := t.usable(op, false); err != nil {
		return nil, err
	}
	if _, ok, err := t.lookup(ctx, q.Type); err != nil {
		return nil, err
	} else if !ok {
		return nil, migerr.UnknownType(op, q.Type)
	}

	params := map[string]any{"ks": t.keyspace}
	var where []string
	i := 0
	for k, v := range q.Attrs {
		d, ok, err := t.lookup(ctx, k)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, migerr.UnknownType(op, k)
		}
		cv, err := graphstore.CoerceValue(d.DataType, v)
		if err != nil {
			return nil, migerr.MalformedRecord(op, "%s: %v", k, err)
		}
		params[fmt.Sprintf("k%d", i)] = k
		params[fmt.Sprintf("v%d", i)] = cv
		where = append(where, fmt.Sprintf("n[$k%d] = $v%d", i, i))
		i++
	}
	for j, rp := range q.Players {
		params[fmt.Sprintf("r%d", j)] = rp.Role
		params[fmt.Sprintf("p%d", j)] = string(rp.Player)
		where = append(where, fmt.Sprintf("EXISTS { MATCH (n)-[:ROLE {role: $r%d}]->(:Thing {keyspace: $ks, _id: $p%d}) }", j, j))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "MATCH (n:Thing%s {keyspace: $ks})\n", labelClause([]string{q.Type}))
	if len(where) > 0 {
		b.WriteString("WHERE " + strings.Join(where, " AND ") + "\n")
	}
	b.WriteString("RETURN n._id AS id\nORDER BY n._id\n")
	if q.Limit > 0 {
		params["limit"] = int64(q.Limit)
		b.WriteString("LIMIT $limit\n")
	}

	recs, err := t.run(ctx, op, b.String(), params)
	if err != nil {
		return nil, err
	}
	out := make([]graphstore.ConceptID, 0, len(recs))
	for _, rec := range recs {
		raw, _ := rec.Get("id")
		if s, ok := raw.(string); ok {
			out = append(out, graphstore.ConceptID(s))
		}
	}
	return out, nil
}

func (t *tx) Commit(ctx context.Context) error {
	if t.closed {
		return migerr.New(migerr.CodeInternal, "neo4jstore.commit", "transaction closed", nil)
	}
	t.closed = true
	defer t.session.Close(ctx)
	if !t.write {
		return graphstore.MapError("neo4jstore.commit", t.etx.Rollback(ctx))
	}
	return graphstore.MapError("neo4jstore.commit", t.etx.Commit(ctx))
}

func (t *tx) Rollback(ctx context.Context) error {
	if t.closed {
		return nil
	}
	t.closed = true
	defer t.session.Close(ctx)
	return graphstore.MapError("neo4jstore.rollback", t.etx.Rollback(ctx))
}
