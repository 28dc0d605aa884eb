package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"
	"strconv"
	"strings"

	"github.com/calvinalkan/shmcache/pkg/codec"
)

// circular replaces a container that contains itself.
const circular = "[Circular]"

// render formats a stored value for display. Codec values print as JSON,
// anything else prints as the raw string.
func render(val []byte) string {
	v, err := codec.Decode(val)
	if err != nil {
		return string(val)
	}

	data, err := json.Marshal(jsonable(v, nil))
	if err != nil {
		return string(val)
	}

	return string(data)
}

// jsonable converts a decoded value into something encoding/json accepts.
// path holds the containers currently being walked; shared containers that
// are not on the path print in full.
func jsonable(v any, path []uintptr) any {
	switch t := v.(type) {
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return strconv.FormatFloat(t, 'g', -1, 64)
		}

		return t
	case []any:
		id := reflect.ValueOf(t).Pointer()
		if len(t) > 0 && onPath(path, id) {
			return circular
		}

		out := make([]any, len(t))
		for i, e := range t {
			out[i] = jsonable(e, append(path, id))
		}

		return out
	case map[string]any:
		id := reflect.ValueOf(t).Pointer()
		if onPath(path, id) {
			return circular
		}

		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = jsonable(e, append(path, id))
		}

		return out
	default:
		if v == codec.Undefined {
			return nil
		}

		return v
	}
}

func onPath(path []uintptr, id uintptr) bool {
	for _, p := range path {
		if p == id {
			return true
		}
	}

	return false
}

// parseValue parses s as JSON for storing with the codec. Integers that fit
// int64 stay integers; everything else numeric becomes float64. ok is false
// when s is not a single JSON document.
func parseValue(s string) (v any, ok bool) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	err := dec.Decode(&v)
	if err != nil {
		return nil, false
	}

	var extra any
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, false
	}

	return normalize(v), true
}

func normalize(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}

		f, err := t.Float64()
		if err != nil {
			return t.String()
		}

		return f
	case []any:
		for i := range t {
			t[i] = normalize(t[i])
		}

		return t
	case map[string]any:
		for k := range t {
			t[k] = normalize(t[k])
		}

		return t
	default:
		return v
	}
}

// quoteKey prints keys with control characters or spaces visibly.
func quoteKey(k string) string {
	if strings.ContainsAny(k, " \t\r\n") || !strconv.CanBackquote(k) {
		return strconv.Quote(k)
	}

	return k
}

func formatBool(b bool) string {
	return strconv.FormatBool(b)
}

func encodeValue(v any) ([]byte, error) {
	data, err := codec.Encode(v)
	if err != nil {
		return nil, fmt.Errorf("encode value: %w", err)
	}

	return data, nil
}
