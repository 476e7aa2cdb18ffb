package propertysource

import (
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Source holds the flattened properties read from one context
type Source struct {
	Context string
	Version int
	props   map[string]string
}

// NewSource flattens data read for context
func NewSource(context string, data map[string]interface{}) *Source {
	return &Source{Context: context, props: Flatten(data)}
}

// Name returns the property source name, vault:<context>
func (s *Source) Name() string {
	return "vault:" + s.Context
}

// Lookup returns the value for key
func (s *Source) Lookup(key string) (string, bool) {
	v, ok := s.props[key]
	return v, ok
}

// Keys returns the sorted property names
func (s *Source) Keys() []string {
	keys := make([]string, 0, len(s.props))
	for k := range s.props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of properties
func (s *Source) Len() int {
	return len(s.props)
}

// Composite is an ordered list of sources. Lookups return the value from
// the first source that defines the key.
type Composite struct {
	sources  []*Source
	failures *multierror.Error
}

// NewComposite orders sources highest precedence first
func NewComposite(sources ...*Source) *Composite {
	return &Composite{sources: sources}
}

// Sources returns the sources in precedence order
func (c *Composite) Sources() []*Source {
	return append([]*Source(nil), c.sources...)
}

// Lookup returns the effective value of key
func (c *Composite) Lookup(key string) (string, bool) {
	for _, s := range c.sources {
		if v, ok := s.Lookup(key); ok {
			return v, true
		}
	}
	return "", false
}

// Get returns the effective value of key or the empty string
func (c *Composite) Get(key string) string {
	v, _ := c.Lookup(key)
	return v
}

// Origin returns the context that supplies the effective value of key
func (c *Composite) Origin(key string) (string, bool) {
	for _, s := range c.sources {
		if _, ok := s.Lookup(key); ok {
			return s.Context, true
		}
	}
	return "", false
}

// Keys returns the sorted union of property names
func (c *Composite) Keys() []string {
	seen := map[string]bool{}
	var keys []string
	for _, s := range c.sources {
		for k := range s.props {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Strings(keys)
	return keys
}

// Map returns the effective properties
func (c *Composite) Map() map[string]string {
	out := map[string]string{}
	for i := len(c.sources) - 1; i >= 0; i-- {
		for k, v := range c.sources[i].props {
			out[k] = v
		}
	}
	return out
}

// Len returns the number of effective properties
func (c *Composite) Len() int {
	return len(c.Keys())
}

// Failures returns the errors of contexts that were skipped, or nil
func (c *Composite) Failures() error {
	return c.failures.ErrorOrNil()
}
