package record

// Normalize expands p against target so that every array p touches is sent as a
// complete replacement. Merge-patch storage does not recurse into arrays, so a
// sparse index edit has to carry the untouched elements along with it.
//
// Objects stay sparse at the top level. Inside an array element, fields the
// patch does not mention are back-filled from target so no element leaves this
// function partially specified.
func Normalize(p Patch, target Value) Value {
	return normalize(p, target, false)
}

func normalize(p Patch, target Value, inArray bool) Value {
	if target == nil {
		return Materialize(p)
	}

	switch p := p.(type) {
	case Replace:
		return p.Value
	case Fields:
		// Against an array, object keys are the wire form of indices.
		if seq, ok := target.(Sequence); ok {
			return normalizeSequence(p, seq)
		}
		// A non-object target has no fields to reconcile with.
		tn, _ := target.(Node)
		out := make(Node, len(p))
		for k, child := range p {
			out[k] = normalize(child, tn[k], inArray)
		}
		if inArray {
			for k, v := range tn {
				if _, ok := out[k]; !ok {
					out[k] = v
				}
			}
		}
		return out
	case Elements:
		if seq, ok := target.(Sequence); ok {
			return normalizeSequence(p, seq)
		}
		return Materialize(p)
	}
	return nil
}

// normalizeSequence starts from a copy of seq and normalizes each patched index
// against the element it replaces.
func normalizeSequence(p Patch, seq Sequence) Value {
	elems, ok := asElements(p)
	if !ok {
		return normalize(p, seq, true)
	}

	out := make(Sequence, len(seq))
	copy(out, seq)
	for _, i := range elems.indices() {
		for len(out) <= i {
			out = append(out, Null())
		}
		var t Value
		if i < len(seq) {
			t = seq[i]
		}
		out[i] = normalize(elems[i], t, true)
	}
	return out
}
