package record

// MergeDeep applies sources to target from left to right and returns the merged
// tree. Nodes merge key by key; a Sequence or Leaf in a source replaces whatever
// the target held at that key. Neither target nor any source is modified: every
// visited node is a fresh shallow copy, so untouched subtrees keep their identity
// and callers can detect change by reference.
func MergeDeep(target Value, sources ...Value) Value {
	out := target
	for _, src := range sources {
		out = merge(out, src)
	}
	return out
}

func merge(target, source Value) Value {
	sn, ok := source.(Node)
	if !ok {
		if source == nil {
			return target
		}
		return source
	}

	tn, _ := target.(Node)
	out := make(Node, len(tn)+len(sn))
	for k, v := range tn {
		out[k] = v
	}
	for k, sv := range sn {
		if child, ok := sv.(Node); ok {
			out[k] = merge(out[k], child)
			continue
		}
		out[k] = sv
	}
	return out
}
