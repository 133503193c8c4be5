// Package extract scans assistant text for embedded structured blocks and
// flattens structured payloads into ordered field maps.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/lmarchetti42/chatform/domain"
)

// metadataKeys are object keys that carry extraction bookkeeping rather than
// field data. Entries under these keys are never flattened.
var metadataKeys = map[string]bool{
	"validation":           true,
	"metadata":             true,
	"timestamp":            true,
	"processedAt":          true,
	"confidence":           true,
	"extractionConfidence": true,
}

// jsonObject is a JSON object with its key order preserved.
type jsonObject struct {
	keys []string
	vals map[string]any
}

func (o *jsonObject) get(key string) (any, bool) {
	v, ok := o.vals[key]
	return v, ok
}

// Flatten converts a JSON document into an ordered, dotted-path map of leaf
// values. It is deterministic: the same input always yields the same map. It
// returns an error only when the input is not well-formed JSON.
func Flatten(data []byte) (*domain.FieldMap, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	v, err := parseValue(dec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse payload: %w", err)
	}
	out := domain.NewFieldMap()
	if obj, ok := v.(*jsonObject); ok {
		flattenObject(obj, "", out)
	}
	return out, nil
}

// flattenObject applies the flattening rules to one object level.
func flattenObject(obj *jsonObject, prefix string, out *domain.FieldMap) {
	// A fields sub-object short-circuits the whole level: its direct
	// entries are the output, sibling keys are ignored.
	if sub, ok := obj.get("fields"); ok {
		if fields, ok := sub.(*jsonObject); ok {
			for _, key := range fields.keys {
				v := fields.vals[key]
				if v == nil {
					continue
				}
				out.Set(prefix+key, plain(v))
			}
			return
		}
	}

	for _, key := range obj.keys {
		if metadataKeys[key] {
			continue
		}
		v := obj.vals[key]
		if v == nil {
			continue
		}
		switch val := v.(type) {
		case *jsonObject:
			flattenObject(val, prefix+key+".", out)
		default:
			// Primitives and arrays are recorded verbatim; array
			// elements are not flattened individually.
			out.Set(prefix+key, plain(val))
		}
	}
}

// parseValue decodes the next JSON value, preserving object key order.
func parseValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	return parseToken(dec, tok)
}

func parseToken(dec *json.Decoder, tok json.Token) (any, error) {
	delim, ok := tok.(json.Delim)
	if !ok {
		// string, float64, bool or nil
		return tok, nil
	}
	switch delim {
	case '{':
		obj := &jsonObject{vals: make(map[string]any)}
		for dec.More() {
			keyTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			key, ok := keyTok.(string)
			if !ok {
				return nil, fmt.Errorf("expected object key, got %v", keyTok)
			}
			val, err := parseValue(dec)
			if err != nil {
				return nil, err
			}
			if _, exists := obj.vals[key]; !exists {
				obj.keys = append(obj.keys, key)
			}
			obj.vals[key] = val
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return obj, nil
	case '[':
		arr := []any{}
		for dec.More() {
			val, err := parseValue(dec)
			if err != nil {
				return nil, err
			}
			arr = append(arr, val)
		}
		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		return arr, nil
	default:
		return nil, fmt.Errorf("unexpected delimiter %v", delim)
	}
}

// plain converts a parsed value into plain Go types so recorded values
// round-trip through encoding/json unchanged.
func plain(v any) any {
	switch val := v.(type) {
	case *jsonObject:
		m := make(map[string]any, len(val.keys))
		for _, k := range val.keys {
			m[k] = plain(val.vals[k])
		}
		return m
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = plain(e)
		}
		return out
	default:
		return v
	}
}
