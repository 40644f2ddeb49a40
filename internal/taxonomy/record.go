package taxonomy

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/yungbote/adgraph/internal/domain/migerr"
)

type NodeType string

const (
	TypeRoot     NodeType = "ROOT"
	TypeCategory NodeType = "CATEGORY"
	TypeBrand    NodeType = "BRAND"
	TypeColor    NodeType = "COLOR"
	TypeSize     NodeType = "SIZE"
	TypeProduct  NodeType = "PRODUCT"
	TypeGender   NodeType = "GENDER"
)

var nodeTypes = []NodeType{TypeCategory, TypeBrand, TypeColor, TypeSize, TypeProduct, TypeGender}

// ParseNodeType accepts the enumerated node types case-insensitively. The root type is not accepted.
func ParseNodeType(s string) (NodeType, bool) {
	t := NodeType(strings.ToUpper(strings.TrimSpace(s)))
	return t, slices.Contains(nodeTypes, t)
}

// NodeRecord is the validated input of CreateNode. ParentID nil means the root.
type NodeRecord struct {
	ID       int64
	Name     string
	ParentID *int64
	Type     NodeType
	Clicks   int64
}

var recordKeys = map[string]bool{"id": true, "name": true, "parent": true, "node_type": true, "clicks": true}

// ParseNodeRecord builds a NodeRecord from a loosely typed payload. Required keys are id, name and
// node_type; parent and clicks are optional. Any other key is rejected.
func ParseNodeRecord(payload map[string]any) (NodeRecord, error) {
	const op = "taxonomy.parse_record"
	var unknown []string
	for k := range payload {
		if !recordKeys[k] {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		slices.Sort(unknown)
		return NodeRecord{}, migerr.MalformedRecord(op, "unknown keys %v", unknown)
	}

	var rec NodeRecord
	rawID, ok := payload["id"]
	if !ok {
		return NodeRecord{}, migerr.MalformedRecord(op, "id is required")
	}
	id, err := asInt64(rawID)
	if err != nil {
		return NodeRecord{}, migerr.MalformedRecord(op, "id: %v", err)
	}
	rec.ID = id

	name, ok := payload["name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return NodeRecord{}, migerr.MalformedRecord(op, "name is required")
	}
	rec.Name = strings.TrimSpace(name)

	rawType, ok := payload["node_type"].(string)
	if !ok {
		return NodeRecord{}, migerr.MalformedRecord(op, "node_type is required")
	}
	typ, ok := ParseNodeType(rawType)
	if !ok {
		return NodeRecord{}, migerr.MalformedRecord(op, "node_type %q is not one of %v", rawType, nodeTypes)
	}
	rec.Type = typ

	if raw, ok := payload["parent"]; ok && raw != nil {
		p, err := asInt64(raw)
		if err != nil {
			return NodeRecord{}, migerr.MalformedRecord(op, "parent: %v", err)
		}
		rec.ParentID = &p
	}
	if raw, ok := payload["clicks"]; ok && raw != nil {
		c, err := asInt64(raw)
		if err != nil {
			return NodeRecord{}, migerr.MalformedRecord(op, "clicks: %v", err)
		}
		rec.Clicks = c
	}
	return rec, nil
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int64:
		return x, nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not an integer", x)
		}
		return int64(x), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not an integer", x)
		}
		return n, nil
	}
	return 0, fmt.Errorf("unsupported type %T", v)
}
