package neo4jstore

import (
	"slices"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/yungbote/adgraph/internal/graphstore"
)

// labelClause renders ":`A`:`B`" with backticks escaped.
func labelClause(labels []string) string {
	var b strings.Builder
	for _, l := range labels {
		b.WriteString(":`")
		b.WriteString(strings.ReplaceAll(l, "`", "``"))
		b.WriteString("`")
	}
	return b.String()
}

func owns(line []graphstore.TypeDef, attr string) bool {
	for _, d := range line {
		if slices.Contains(d.Owns, attr) {
			return true
		}
	}
	return false
}

func relates(line []graphstore.TypeDef, role string) bool {
	for _, d := range line {
		if slices.Contains(d.Relates, role) {
			return true
		}
	}
	return false
}

func asInt64(rec *neo4j.Record, key string) int64 {
	raw, ok := rec.Get(key)
	if !ok {
		return 0
	}
	switch v := raw.(type) {
	case int64:
		return v
	case int:
		return int64(v)
	}
	return 0
}

func typeToProps(d graphstore.TypeDef) map[string]any {
	list := func(in []string) []string {
		if in == nil {
			return []string{}
		}
		return in
	}
	return map[string]any{
		"kind":     string(d.Kind),
		"datatype": string(d.DataType),
		"sup":      d.Sup,
		"abstract": d.Abstract,
		"key":      d.Key,
		"owns":     list(d.Owns),
		"plays":    list(d.Plays),
		"relates":  list(d.Relates),
		"when":     d.When,
		"then":     d.Then,
	}
}

func typeFromProps(p map[string]any) graphstore.TypeDef {
	str := func(k string) string {
		s, _ := p[k].(string)
		return s
	}
	strs := func(k string) []string {
		switch v := p[k].(type) {
		case []string:
			if len(v) == 0 {
				return nil
			}
			return slices.Clone(v)
		case []any:
			var out []string
			for _, x := range v {
				if s, ok := x.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
		return nil
	}
	abstract, _ := p["abstract"].(bool)
	return graphstore.TypeDef{
		Label:    str("label"),
		Kind:     graphstore.Kind(str("kind")),
		DataType: graphstore.DataType(str("datatype")),
		Sup:      str("sup"),
		Abstract: abstract,
		Key:      str("key"),
		Owns:     strs("owns"),
		Plays:    strs("plays"),
		Relates:  strs("relates"),
		When:     str("when"),
		Then:     str("then"),
	}
}
