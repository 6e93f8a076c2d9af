package xapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// DecodeJSON decodes a JSON-RPC result into a Node tree addressed from the
// root, so the streaming transport yields the same paths as DecodeXML.
//
// path is the request path the result belongs to: the result of
// xGet ["Status","Audio"] is placed at Status/Audio. Objects become
// object nodes, arrays become sequences under the enclosing key, and
// scalars become strings. Object keys are visited in sorted order.
func DecodeJSON(path []string, raw json.RawMessage) (*Node, error) {
	var value any
	if len(bytes.TrimSpace(raw)) > 0 {
		decoder := json.NewDecoder(bytes.NewReader(raw))
		decoder.UseNumber()
		if err := decoder.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: decoding json: %w", ErrProtocol, err)
		}
	}

	doc := NewObject("")
	if len(path) == 0 {
		obj, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: expected object at document root", ErrProtocol)
		}
		appendJSONFields(doc, obj)
		return doc, nil
	}

	parent := doc
	for _, seg := range path[:len(path)-1] {
		next := NewObject(seg)
		parent.Append(next)
		parent = next
	}
	for _, n := range jsonNodes(path[len(path)-1], value) {
		parent.Append(n)
	}
	return doc, nil
}

// jsonNodes converts one JSON value into the nodes stored under name.
// Arrays fan out into several same-named nodes; nested arrays are flattened.
func jsonNodes(name string, value any) []*Node {
	switch v := value.(type) {
	case map[string]any:
		node := NewObject(name)
		appendJSONFields(node, v)
		return []*Node{node}
	case []any:
		var out []*Node
		for _, item := range v {
			out = append(out, jsonNodes(name, item)...)
		}
		return out
	case nil:
		return []*Node{NewScalar(name, "")}
	default:
		return []*Node{NewScalar(name, jsonScalar(v))}
	}
}

func appendJSONFields(node *Node, obj map[string]any) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, child := range jsonNodes(k, obj[k]) {
			node.Append(child)
		}
	}
}

func jsonScalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case json.Number:
		return s.String()
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprint(s)
	}
}
