package render

import (
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// YAML renders properties as a nested document. "a.b" becomes a mapping
// under "a" and "a[0]" a sequence item. A key whose prefix already holds a
// scalar stays flat at that level.
func YAML(props map[string]string) ([]byte, error) {
	root := map[string]interface{}{}
	for _, key := range sortedKeys(props) {
		insert(root, splitKey(key), props[key])
	}
	return yaml.Marshal(lists(root))
}

// splitKey splits "a.b[0].c" into ["a", "b", "[0]", "c"]
func splitKey(key string) []string {
	var parts []string
	for _, dotted := range strings.Split(key, ".") {
		for dotted != "" {
			i := strings.IndexByte(dotted, '[')
			j := strings.IndexByte(dotted, ']')
			if i < 0 || j < i {
				parts = append(parts, dotted)
				break
			}
			if i > 0 {
				parts = append(parts, dotted[:i])
			}
			parts = append(parts, dotted[i:j+1])
			dotted = dotted[j+1:]
		}
	}
	return parts
}

func insert(node map[string]interface{}, path []string, value string) {
	for i, part := range path[:len(path)-1] {
		child, ok := node[part]
		if !ok {
			next := map[string]interface{}{}
			node[part] = next
			node = next
			continue
		}
		next, ok := child.(map[string]interface{})
		if !ok {
			node[joinPath(path[i:])] = value
			return
		}
		node = next
	}

	last := path[len(path)-1]
	if _, exists := node[last]; exists {
		return
	}
	node[last] = value
}

func joinPath(parts []string) string {
	var b strings.Builder
	for i, p := range parts {
		if i > 0 && !strings.HasPrefix(p, "[") {
			b.WriteByte('.')
		}
		b.WriteString(p)
	}
	return b.String()
}

// lists turns mappings keyed only by "[n]" into sequences
func lists(v interface{}) interface{} {
	m, ok := v.(map[string]interface{})
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = lists(child)
	}

	indexes := make([]int, 0, len(m))
	for k := range m {
		if !strings.HasPrefix(k, "[") || !strings.HasSuffix(k, "]") {
			return m
		}
		n, err := strconv.Atoi(k[1 : len(k)-1])
		if err != nil || n < 0 {
			return m
		}
		indexes = append(indexes, n)
	}
	if len(indexes) == 0 {
		return m
	}
	sort.Ints(indexes)

	seq := make([]interface{}, indexes[len(indexes)-1]+1)
	for _, n := range indexes {
		seq[n] = m["["+strconv.Itoa(n)+"]"]
	}
	return seq
}
