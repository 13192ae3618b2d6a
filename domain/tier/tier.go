// Package tier defines the dimensional pricing taxonomy.
// A tier is one combination of dimension values (e.g. size x warehouse)
// that identifies a pricing bucket. All functions are pure.
package tier

import (
	"fmt"
	"sort"
	"strings"
)

// Definition declares one tier: its dimension values and unit price.
type Definition struct {
	Values     map[string]string
	PriceCents int64
}

// Entry is a resolved tier: its canonical key plus definition.
type Entry struct {
	Key        string
	Values     map[string]string
	PriceCents int64
}

// Catalog is the fixed set of valid tiers for a deployment.
// It validates incoming events and resolves unit prices.
type Catalog struct {
	groupKeys []string
	entries   map[string]Entry
}

// NewCatalog builds a catalog from the configured group keys and tier
// definitions. Every definition must supply a value for every group key,
// and prices must be non-negative cents.
func NewCatalog(groupKeys []string, defs []Definition) (Catalog, error) {
	if len(groupKeys) == 0 {
		return Catalog{}, fmt.Errorf("at least one group key is required")
	}

	c := Catalog{
		groupKeys: append([]string(nil), groupKeys...),
		entries:   make(map[string]Entry, len(defs)),
	}

	for i, d := range defs {
		if d.PriceCents < 0 {
			return Catalog{}, fmt.Errorf("tier %d: negative price %d", i, d.PriceCents)
		}
		key, err := c.Key(d.Values)
		if err != nil {
			return Catalog{}, fmt.Errorf("tier %d: %w", i, err)
		}
		if _, dup := c.entries[key]; dup {
			return Catalog{}, fmt.Errorf("tier %d: duplicate tier %q", i, key)
		}
		values := make(map[string]string, len(c.groupKeys))
		for _, gk := range c.groupKeys {
			values[gk] = normalize(d.Values[gk])
		}
		c.entries[key] = Entry{Key: key, Values: values, PriceCents: d.PriceCents}
	}

	return c, nil
}

// GroupKeys returns the dimension names in their configured order.
func (c Catalog) GroupKeys() []string {
	return append([]string(nil), c.groupKeys...)
}

// Key derives the canonical tier key from a set of dimension values by
// joining them in group-key order with "-" (e.g. "small-aws").
// Returns an error when a dimension is missing or empty.
func (c Catalog) Key(values map[string]string) (string, error) {
	parts := make([]string, 0, len(c.groupKeys))
	for _, gk := range c.groupKeys {
		v := normalize(values[gk])
		if v == "" {
			return "", fmt.Errorf("missing dimension %q", gk)
		}
		parts = append(parts, v)
	}
	return strings.Join(parts, "-"), nil
}

// Contains reports whether key identifies a configured tier.
func (c Catalog) Contains(key string) bool {
	_, ok := c.entries[key]
	return ok
}

// Entry returns the resolved tier for a key.
func (c Catalog) Entry(key string) (Entry, bool) {
	e, ok := c.entries[key]
	return e, ok
}

// PriceCents returns the configured unit price for a tier key.
func (c Catalog) PriceCents(key string) (int64, bool) {
	e, ok := c.entries[key]
	return e.PriceCents, ok
}

// Prices returns the tier -> unit price map (a fresh copy).
func (c Catalog) Prices() map[string]int64 {
	out := make(map[string]int64, len(c.entries))
	for k, e := range c.entries {
		out[k] = e.PriceCents
	}
	return out
}

// Keys returns all tier keys in sorted order, for stable output and
// error messages listing allowed values.
func (c Catalog) Keys() []string {
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Entries returns all tiers sorted by key.
func (c Catalog) Entries() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, k := range c.Keys() {
		out = append(out, c.entries[k])
	}
	return out
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
