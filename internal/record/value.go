// Package record models a player's save-derived record as an explicit value tree
// and implements the patch normalization and deep-merge rules used to edit it.
package record

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Value is one node of a record tree. Implementations are Leaf, Node and Sequence.
type Value interface {
	isValue()
}

// Leaf is a JSON scalar: nil, bool, string or json.Number.
type Leaf struct {
	V any
}

// Node is a JSON object.
type Node map[string]Value

// Sequence is a JSON array.
type Sequence []Value

func (Leaf) isValue()     {}
func (Node) isValue()     {}
func (Sequence) isValue() {}

func Null() Leaf                { return Leaf{} }
func Bool(b bool) Leaf          { return Leaf{V: b} }
func String(s string) Leaf      { return Leaf{V: s} }
func Number(n json.Number) Leaf { return Leaf{V: n} }

func Int(n int) Leaf {
	b, _ := json.Marshal(n)
	return Leaf{V: json.Number(b)}
}

func (l Leaf) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.V)
}

// IsNull reports whether the leaf holds JSON null.
func (l Leaf) IsNull() bool { return l.V == nil }

// Keys returns the node's keys in sorted order.
func (n Node) Keys() []string {
	keys := make([]string, 0, len(n))
	for k := range n {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Lookup walks a path of object keys and returns the value found, if any.
func (n Node) Lookup(path ...string) (Value, bool) {
	var cur Value = n
	for _, key := range path {
		node, ok := cur.(Node)
		if !ok {
			return nil, false
		}
		cur, ok = node[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Text returns the string leaf stored under key, or "".
func (n Node) Text(key string) string {
	l, ok := n[key].(Leaf)
	if !ok {
		return ""
	}
	s, _ := l.V.(string)
	return s
}

// Clone returns a deep copy of v.
func Clone(v Value) Value {
	switch v := v.(type) {
	case Node:
		if v == nil {
			return Node(nil)
		}
		out := make(Node, len(v))
		for k, child := range v {
			out[k] = Clone(child)
		}
		return out
	case Sequence:
		if v == nil {
			return Sequence(nil)
		}
		out := make(Sequence, len(v))
		for i, child := range v {
			out[i] = Clone(child)
		}
		return out
	case Leaf:
		return v
	}
	return nil
}

// Equal reports whether a and b hold the same content.
func Equal(a, b Value) bool {
	switch a := a.(type) {
	case Node:
		bn, ok := b.(Node)
		if !ok || len(a) != len(bn) {
			return false
		}
		for k, av := range a {
			bv, ok := bn[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	case Sequence:
		bs, ok := b.(Sequence)
		if !ok || len(a) != len(bs) {
			return false
		}
		for i := range a {
			if !Equal(a[i], bs[i]) {
				return false
			}
		}
		return true
	case Leaf:
		bl, ok := b.(Leaf)
		return ok && a.V == bl.V
	case nil:
		return b == nil
	}
	return false
}

// Same reports whether a and b are the same container instance. Leaves are never
// the same instance.
func Same(a, b Value) bool {
	switch a := a.(type) {
	case Node:
		bn, ok := b.(Node)
		return ok && a != nil && bn != nil && reflect.ValueOf(a).Pointer() == reflect.ValueOf(bn).Pointer()
	case Sequence:
		bs, ok := b.(Sequence)
		return ok && len(a) > 0 && len(bs) > 0 && &a[0] == &bs[0]
	}
	return false
}
