package api

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"

	"github.com/rs/zerolog/log"
)

// Extractor is one strategy for pulling the payload out of a backend
// response. Extract receives the decoded JSON document and the expected
// collection key.
type Extractor struct {
	Name    string
	Extract func(doc any, key string) (any, bool)
}

// Extractors lists the accepted response shapes in priority order.
var Extractors = []Extractor{
	{Name: "envelope-key", Extract: extractEnvelopeKey},       // {success, data: {key: [...]}}
	{Name: "envelope-array", Extract: extractEnvelopeArray},   // {success, data: [...]}
	{Name: "envelope-object", Extract: extractEnvelopeObject}, // {success, data: {...}}
	{Name: "top-level-key", Extract: extractTopLevelKey},      // {key: [...]}
	{Name: "data-array", Extract: extractDataArray},           // {data: [...]}
	{Name: "bare-array", Extract: extractBareArray},           // [...]
}

func asObject(doc any) (map[string]any, bool) {
	m, ok := doc.(map[string]any)
	return m, ok
}

func successful(m map[string]any) bool {
	b, ok := m["success"].(bool)
	return ok && b
}

func extractEnvelopeKey(doc any, key string) (any, bool) {
	m, ok := asObject(doc)
	if !ok || !successful(m) {
		return nil, false
	}
	data, ok := asObject(m["data"])
	if !ok {
		return nil, false
	}
	v, ok := data[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func extractEnvelopeArray(doc any, _ string) (any, bool) {
	m, ok := asObject(doc)
	if !ok || !successful(m) {
		return nil, false
	}
	arr, ok := m["data"].([]any)
	return arr, ok
}

func extractEnvelopeObject(doc any, _ string) (any, bool) {
	m, ok := asObject(doc)
	if !ok || !successful(m) {
		return nil, false
	}
	data, ok := asObject(m["data"])
	return data, ok
}

func extractTopLevelKey(doc any, key string) (any, bool) {
	m, ok := asObject(doc)
	if !ok {
		return nil, false
	}
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func extractDataArray(doc any, _ string) (any, bool) {
	m, ok := asObject(doc)
	if !ok {
		return nil, false
	}
	arr, ok := m["data"].([]any)
	return arr, ok
}

func extractBareArray(doc any, _ string) (any, bool) {
	arr, ok := doc.([]any)
	return arr, ok
}

func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Normalize returns the payload of raw under the first matching strategy
// and that strategy's name. ok is false for malformed JSON or an
// unrecognized shape.
func Normalize(raw []byte, key string) (payload json.RawMessage, strategy string, ok bool) {
	doc, err := decode(raw)
	if err != nil {
		return nil, "", false
	}
	for _, ex := range Extractors {
		v, hit := ex.Extract(doc, key)
		if !hit {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", false
		}
		return data, ex.Name, true
	}
	return nil, "", false
}

// SplitPayload turns a normalized payload into its list elements. A nil
// payload, from an unrecognized shape, is an empty list.
func SplitPayload(payload json.RawMessage) []json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	doc, err := decode(payload)
	if err != nil {
		return nil
	}
	items := EnsureArray(doc)
	out := make([]json.RawMessage, 0, len(items))
	for _, it := range items {
		data, err := json.Marshal(it)
		if err != nil {
			continue
		}
		out = append(out, data)
	}
	return out
}

// DecodePayload decodes every element of a normalized payload into T.
// Elements that fail to decode are skipped and counted.
func DecodePayload[T any](payload json.RawMessage, key string) (items []T, skipped int) {
	for _, el := range SplitPayload(payload) {
		var v T
		if err := json.Unmarshal(el, &v); err != nil {
			skipped++
			continue
		}
		items = append(items, v)
	}
	if skipped > 0 {
		log.Warn().Str("key", key).Int("skipped", skipped).Msg("api: skipped malformed list entries")
	}
	return items, skipped
}

// EnsureArray coerces a decoded JSON value into a list. Objects whose keys
// are all numeric become their values in key order; any other object
// becomes a one-element list; scalars and null become empty.
func EnsureArray(v any) []any {
	switch t := v.(type) {
	case []any:
		return t
	case map[string]any:
		if len(t) == 0 {
			return []any{t}
		}
		keys := make([]int, 0, len(t))
		for k := range t {
			n, err := strconv.Atoi(k)
			if err != nil {
				return []any{t}
			}
			keys = append(keys, n)
		}
		sort.Ints(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, t[strconv.Itoa(k)])
		}
		return out
	default:
		return nil
	}
}

// ErrorMessage extracts a human-readable error from an error body, checking
// message, error, then errors[0].
func ErrorMessage(raw []byte, def string) string {
	doc, err := decode(raw)
	if err != nil {
		return def
	}
	m, ok := asObject(doc)
	if !ok {
		return def
	}
	if s, ok := m["message"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["error"].(string); ok && s != "" {
		return s
	}
	if errs, ok := m["errors"].([]any); ok && len(errs) > 0 {
		switch first := errs[0].(type) {
		case string:
			if first != "" {
				return first
			}
		case map[string]any:
			for _, k := range []string{"message", "msg"} {
				if s, ok := first[k].(string); ok && s != "" {
					return s
				}
			}
		}
	}
	return def
}
