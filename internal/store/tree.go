package store

import (
	"encoding/json"
	"fmt"
)

// Document is a JSON object as decoded by encoding/json.
type Document = map[string]any

// Normalize round-trips value through JSON so that the tree only ever holds
// maps, slices, strings, float64, bool and nil.
func Normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// SetPath writes value under keys, creating or overwriting intermediate
// nodes. value must already be normalized. A nil value removes the key.
func SetPath(doc Document, keys []string, value any) {
	if len(keys) == 0 {
		return
	}
	if value == nil {
		RemovePath(doc, keys)
		return
	}
	node := doc
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[key] = child
		}
		node = child
	}
	node[keys[len(keys)-1]] = value
}

// RemovePath deletes the key under keys and reports whether anything was
// removed. Missing intermediate nodes are not an error.
func RemovePath(doc Document, keys []string) bool {
	if len(keys) == 0 {
		return false
	}
	node := doc
	for _, key := range keys[:len(keys)-1] {
		child, ok := node[key].(map[string]any)
		if !ok {
			return false
		}
		node = child
	}
	last := keys[len(keys)-1]
	if _, ok := node[last]; !ok {
		return false
	}
	delete(node, last)
	return true
}

// Lookup returns the node under keys.
func Lookup(doc Document, keys []string) (any, bool) {
	var node any = doc
	for _, key := range keys {
		m, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// DecodeDocument parses a stored room document. An empty input yields an
// empty document.
func DecodeDocument(raw []byte) (Document, error) {
	doc := make(Document)
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc == nil {
		doc = make(Document)
	}
	return doc, nil
}

// AsDocument converts a normalized value into a room document. Non-object
// values cannot be a room and are rejected.
func AsDocument(value any) (Document, error) {
	doc, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: room document must be an object, got %T", ErrInvalidPath, value)
	}
	return doc, nil
}
