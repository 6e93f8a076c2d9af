package xapi

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Node is the transport-neutral decoded response tree.
//
// A node is either a scalar (leaf text) or an object. Every object field
// holds an ordered sequence of children: a field that occurred once is a
// one-element sequence, so callers that expect a list can always read
// index 0 and callers that expect a single value get the first element.
//
// Decoders return a document node (empty name) whose only field is the
// XAPI root (Status, Configuration, Command, Event). Paths are therefore
// absolute: "Status/SystemUnit/ProductId".
//
// All read methods are nil-safe.
type Node struct {
	name   string
	value  string
	scalar bool
	attrs  map[string]string
	fields map[string][]*Node
	order  []string
}

// NewObject returns an empty object node.
func NewObject(name string) *Node {
	return &Node{name: name}
}

// NewScalar returns a leaf node holding value.
func NewScalar(name, value string) *Node {
	return &Node{name: name, value: value, scalar: true}
}

// Name returns the element/field name of the node.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	return n.name
}

// IsScalar reports whether the node is a leaf.
func (n *Node) IsScalar() bool {
	return n != nil && n.scalar
}

// Value returns the leaf text, or "" for objects and nil nodes.
func (n *Node) Value() string {
	if n == nil || !n.scalar {
		return ""
	}
	return n.value
}

// Attr returns an attribute (XML attribute such as status or item).
func (n *Node) Attr(name string) string {
	if n == nil {
		return ""
	}
	return n.attrs[name]
}

// SetAttr sets an attribute on the node.
func (n *Node) SetAttr(name, value string) {
	if n.attrs == nil {
		n.attrs = make(map[string]string)
	}
	n.attrs[name] = value
}

// Append adds child to the sequence under child's name. A scalar that
// receives children is promoted to an object.
func (n *Node) Append(child *Node) {
	if child == nil {
		return
	}
	if n.scalar {
		n.scalar = false
		n.value = ""
	}
	if n.fields == nil {
		n.fields = make(map[string][]*Node)
	}
	if _, ok := n.fields[child.name]; !ok {
		n.order = append(n.order, child.name)
	}
	n.fields[child.name] = append(n.fields[child.name], child)
}

// Keys returns field names in first-seen order.
func (n *Node) Keys() []string {
	if n == nil {
		return nil
	}
	out := make([]string, len(n.order))
	copy(out, n.order)
	return out
}

// Field returns the ordered sequence stored under name.
func (n *Node) Field(name string) []*Node {
	if n == nil {
		return nil
	}
	return n.fields[name]
}

// Lookup resolves a slash-separated path. Each segment selects index 0 of
// its sequence unless it carries an explicit zero-based index ("Booking[2]").
func (n *Node) Lookup(path string) (*Node, bool) {
	cur := n
	for _, seg := range splitPath(path) {
		name, idx, _ := parseSegment(seg)
		seq := cur.Field(name)
		if idx < 0 || idx >= len(seq) {
			return nil, false
		}
		cur = seq[idx]
	}
	return cur, cur != nil
}

// List resolves path and returns the whole sequence under its last segment.
// A single occurrence yields a one-element slice; a missing path yields nil.
func (n *Node) List(path string) []*Node {
	segs := splitPath(path)
	if len(segs) == 0 {
		if n == nil {
			return nil
		}
		return []*Node{n}
	}
	parent, ok := n.Lookup(strings.Join(segs[:len(segs)-1], "/"))
	if !ok {
		return nil
	}
	name, idx, explicit := parseSegment(segs[len(segs)-1])
	seq := parent.Field(name)
	if !explicit {
		return seq
	}
	if idx < 0 || idx >= len(seq) {
		return nil
	}
	return seq[idx : idx+1]
}

// Text returns the scalar value at path. ok is false when the path is
// missing, not a scalar, or blank.
func (n *Node) Text(path string) (string, bool) {
	node, found := n.Lookup(path)
	if !found || !node.IsScalar() {
		return "", false
	}
	v := strings.TrimSpace(node.Value())
	return v, v != ""
}

// TextOr returns the scalar value at path or def.
func (n *Node) TextOr(path, def string) string {
	if v, ok := n.Text(path); ok {
		return v
	}
	return def
}

// MarshalJSON renders the tree for API consumers. Single-element sequences
// are emitted as a value, longer ones as arrays; attributes use an "@" prefix.
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toAny())
}

func (n *Node) toAny() any {
	if n == nil {
		return nil
	}
	if n.scalar && len(n.attrs) == 0 {
		return n.value
	}
	out := make(map[string]any, len(n.order)+len(n.attrs))
	for k, v := range n.attrs {
		out["@"+k] = v
	}
	if n.scalar {
		out["#text"] = n.value
		return out
	}
	for _, key := range n.order {
		seq := n.fields[key]
		if len(seq) == 1 {
			out[key] = seq[0].toAny()
			continue
		}
		items := make([]any, len(seq))
		for i, c := range seq {
			items[i] = c.toAny()
		}
		out[key] = items
	}
	return out
}

// Wrap nests leaf under the given path segments below a document node, so
// a subtree fetched for "Status/Audio" is addressable as Status/Audio/...
// The leaf is renamed to the last segment.
func Wrap(segments []string, leaf *Node) *Node {
	doc := NewObject("")
	if len(segments) == 0 {
		if leaf != nil {
			doc.Append(leaf)
		}
		return doc
	}
	cur := doc
	for _, seg := range segments[:len(segments)-1] {
		next := NewObject(seg)
		cur.Append(next)
		cur = next
	}
	if leaf == nil {
		leaf = NewObject("")
	}
	leaf.name = segments[len(segments)-1]
	cur.Append(leaf)
	return doc
}

// SplitPath splits "Status/Audio/Volume" (or "/Status/Audio/Volume" or
// "Status Audio Volume") into segments.
func SplitPath(path string) []string {
	return splitPath(path)
}

func splitPath(path string) []string {
	fields := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == ' '
	})
	return fields
}

// parseSegment splits "Booking[2]" into ("Booking", 2, true).
// A malformed index yields -1 so the lookup fails instead of guessing.
func parseSegment(seg string) (name string, idx int, explicit bool) {
	open := strings.IndexByte(seg, '[')
	if open < 0 || !strings.HasSuffix(seg, "]") {
		return seg, 0, false
	}
	idx, err := strconv.Atoi(seg[open+1 : len(seg)-1])
	if err != nil || idx < 0 {
		return seg[:open], -1, true
	}
	return seg[:open], idx, true
}
