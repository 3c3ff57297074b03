package record

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

var ErrInvalidPatch = errors.New("invalid patch")

// Decode parses JSON into a value tree. Numbers are kept as json.Number.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after json value")
	}
	return FromAny(raw), nil
}

// DecodeNode parses a JSON object.
func DecodeNode(data []byte) (Node, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, err
	}
	n, ok := v.(Node)
	if !ok {
		return nil, errors.New("expected a json object")
	}
	return n, nil
}

// FromAny converts the output of encoding/json (with or without UseNumber) into a
// value tree.
func FromAny(raw any) Value {
	switch raw := raw.(type) {
	case map[string]any:
		out := make(Node, len(raw))
		for k, v := range raw {
			out[k] = FromAny(v)
		}
		return out
	case []any:
		out := make(Sequence, len(raw))
		for i, v := range raw {
			out[i] = FromAny(v)
		}
		return out
	case float64:
		b, _ := json.Marshal(raw)
		return Leaf{V: json.Number(b)}
	default:
		return Leaf{V: raw}
	}
}

// FromStruct converts any JSON-marshalable value into a value tree.
func FromStruct(v any) (Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return Decode(b)
}

// ToStruct decodes a value tree into out.
func ToStruct(v Value, out any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

// DecodePatch parses a JSON patch body. Objects become Fields, arrays become
// Elements covering every index, and scalars become Replace.
func DecodePatch(data []byte) (Patch, error) {
	v, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}
	return PatchFrom(v), nil
}
