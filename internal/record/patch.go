package record

import (
	"encoding/json"
	"sort"
	"strconv"
)

// Patch is a sparse edit to a value tree: Replace, Fields or Elements.
type Patch interface {
	isPatch()
}

// Replace sets the addressed position to Value verbatim.
type Replace struct {
	Value Value
}

// Fields edits named keys of an object.
type Fields map[string]Patch

// Elements edits individual indices of an array. Indices not present are left
// untouched.
type Elements map[int]Patch

func (Replace) isPatch()  {}
func (Fields) isPatch()   {}
func (Elements) isPatch() {}

// Set is shorthand for Replace{Value: v}.
func Set(v Value) Replace { return Replace{Value: v} }

// PatchFrom converts a plain value into a patch: objects become Fields, arrays
// become Elements over every index and scalars become Replace.
func PatchFrom(v Value) Patch {
	switch v := v.(type) {
	case Node:
		out := make(Fields, len(v))
		for k, child := range v {
			out[k] = PatchFrom(child)
		}
		return out
	case Sequence:
		out := make(Elements, len(v))
		for i, child := range v {
			out[i] = PatchFrom(child)
		}
		return out
	case Leaf:
		return Replace{Value: v}
	}
	return Replace{Value: Null()}
}

// Materialize renders a patch as a value without any reference record. Elements
// become a Sequence long enough for the highest index with null holes.
func Materialize(p Patch) Value {
	switch p := p.(type) {
	case Replace:
		return p.Value
	case Fields:
		out := make(Node, len(p))
		for k, child := range p {
			out[k] = Materialize(child)
		}
		return out
	case Elements:
		idx := p.indices()
		size := 0
		if len(idx) > 0 {
			size = idx[len(idx)-1] + 1
		}
		out := make(Sequence, size)
		for i := range out {
			out[i] = Null()
		}
		for _, i := range idx {
			out[i] = Materialize(p[i])
		}
		return out
	}
	return nil
}

// indices returns the non-negative indices in ascending order.
func (e Elements) indices() []int {
	out := make([]int, 0, len(e))
	for i := range e {
		if i >= 0 {
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

// asElements interprets p as an index patch. Fields whose keys are decimal
// indices are the wire form of Elements; other keys are dropped.
func asElements(p Patch) (Elements, bool) {
	switch p := p.(type) {
	case Elements:
		return p, true
	case Fields:
		out := make(Elements, len(p))
		for k, child := range p {
			i, err := strconv.Atoi(k)
			if err != nil || i < 0 || strconv.Itoa(i) != k {
				continue
			}
			out[i] = child
		}
		return out, true
	}
	return nil, false
}

// MarshalJSON writes Elements in the sparse object-index form {"2": ...}.
func (e Elements) MarshalJSON() ([]byte, error) {
	out := make(map[string]Patch, len(e))
	for i, child := range e {
		out[strconv.Itoa(i)] = child
	}
	return json.Marshal(out)
}

func (r Replace) MarshalJSON() ([]byte, error) {
	if r.Value == nil {
		return []byte("null"), nil
	}
	return json.Marshal(r.Value)
}
