// Package params holds the configuration parameters a handler descriptor passes
// to the handler it describes.
package params

import (
	"fmt"
	"sort"
	"strconv"
	"time"
)

// Params maps parameter names to their raw string values.
type Params map[string]string

func (p Params) cloneWithExtra(extra int) Params {
	size := len(p) + extra
	if size <= 0 {
		return Params{}
	}

	cloned := make(Params, size)
	for k, v := range p {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy. Descriptors hand clones to handlers so a
// handler cannot mutate the declaration it was built from.
func (p Params) Clone() Params {
	return p.cloneWithExtra(0)
}

// With returns a clone containing the provided key/value pair.
func (p Params) With(key, value string) Params {
	cloned := p.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a clone containing the supplied entries.
func (p Params) WithAll(entries Params) Params {
	cloned := p.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Keys returns the parameter names in sorted order.
func (p Params) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value for key or def when it is absent.
func (p Params) String(key, def string) string {
	if v, ok := p[key]; ok {
		return v
	}
	return def
}

// Int parses key as an integer. Absent keys yield def.
func (p Params) Int(key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("param %q: %w", key, err)
	}
	return n, nil
}

// Bool parses key as a boolean. Absent keys yield def.
func (p Params) Bool(key string, def bool) (bool, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("param %q: %w", key, err)
	}
	return b, nil
}

// Duration parses key with time.ParseDuration. Absent keys yield def.
func (p Params) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("param %q: %w", key, err)
	}
	return d, nil
}

// New constructs Params from alternating key/value pairs.
func New(pairs ...string) Params {
	p := make(Params, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		p[pairs[i]] = pairs[i+1]
	}
	return p
}
