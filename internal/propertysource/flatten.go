package propertysource

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Flatten converts a secret payload into dotted property keys. Nested maps
// contribute "parent.child" keys and lists "key[index]" keys. Keys that
// already contain dots are kept as they are.
//
// When a literal key and a nested path produce the same property, the
// value written with less nesting wins, so {"vault.value": a} beats
// {"vault": {"value": b}}. Keys are walked in sorted order, which makes
// the result stable for ties.
func Flatten(data map[string]interface{}) map[string]string {
	f := flattener{
		out:   make(map[string]string, len(data)),
		depth: make(map[string]int, len(data)),
	}
	for _, k := range sortedKeys(data) {
		f.value(k, data[k], 0)
	}
	return f.out
}

type flattener struct {
	out   map[string]string
	depth map[string]int
}

func (f *flattener) set(key, value string, depth int) {
	if d, ok := f.depth[key]; ok && d <= depth {
		return
	}
	f.out[key] = value
	f.depth[key] = depth
}

func (f *flattener) value(key string, value interface{}, depth int) {
	switch val := value.(type) {
	case map[string]interface{}:
		if len(val) == 0 {
			f.set(key, "", depth)
			return
		}
		for _, k := range sortedKeys(val) {
			f.value(key+"."+k, val[k], depth+1)
		}
	case map[interface{}]interface{}:
		converted := make(map[string]interface{}, len(val))
		for k, v := range val {
			converted[fmt.Sprint(k)] = v
		}
		f.value(key, converted, depth)
	case []interface{}:
		if len(val) == 0 {
			f.set(key, "", depth)
			return
		}
		for i, v := range val {
			f.value(key+"["+strconv.Itoa(i)+"]", v, depth+1)
		}
	default:
		f.set(key, scalar(val), depth)
	}
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scalar(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(val)
	default:
		return fmt.Sprint(val)
	}
}
