// Package payload reads values out of supplier JSON documents by dotted path.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Decode parses a JSON document keeping numbers as json.Number.
func Decode(raw []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Lookup walks a decoded document along a dotted path. Numeric segments index
// into arrays, so "options.0.price" reads the first option's price.
func Lookup(doc interface{}, path string) (interface{}, bool) {
	if path == "" {
		return doc, doc != nil
	}
	cur := doc
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]interface{}:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []interface{}:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, cur != nil
}

// RawLookup walks a raw JSON document along a dotted path without decoding
// the value it lands on, so the returned bytes are exactly as received.
func RawLookup(raw json.RawMessage, path string) (json.RawMessage, bool) {
	cur := raw
	if path == "" {
		return cur, len(cur) > 0
	}
	for _, seg := range strings.Split(path, ".") {
		if i, err := strconv.Atoi(seg); err == nil {
			var arr []json.RawMessage
			if json.Unmarshal(cur, &arr) != nil || i < 0 || i >= len(arr) {
				return nil, false
			}
			cur = arr[i]
			continue
		}
		var obj map[string]json.RawMessage
		if json.Unmarshal(cur, &obj) != nil {
			return nil, false
		}
		next, ok := obj[seg]
		if !ok {
			return nil, false
		}
		cur = next
	}
	if string(cur) == "null" {
		return nil, false
	}
	return cur, true
}

// String renders a scalar as text. Objects and arrays are not scalars.
func String(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case nil:
		return "", false
	default:
		return "", false
	}
}

// Bool interprets booleans and their common string forms.
func Bool(v interface{}) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	case json.Number:
		n, err := t.Int64()
		return n != 0, err
	default:
		return false, fmt.Errorf("not a boolean: %T", v)
	}
}
