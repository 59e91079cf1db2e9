package kbuild

// Conditions is a persistent (immutable) singly-linked list of
// CONFIG_* predicates accumulated along one traversal frame. Appending
// is O(1) and shares its tail with every sibling frame that branched
// from the same point; it is converted to a set only when a frame
// finally writes a source record.
type Conditions struct {
	condition string
	tail      *Conditions
}

// Add returns a new Conditions with condition appended, leaving the
// receiver (and anything sharing its tail) untouched.
func (c *Conditions) Add(condition string) *Conditions {
	return &Conditions{condition: condition, tail: c}
}

// Set materialises the chain as a slice of distinct conditions. Order
// is unspecified — the crawler only needs set membership.
func (c *Conditions) Set() []string {
	seen := make(map[string]struct{})
	var out []string
	for n := c; n != nil; n = n.tail {
		if _, ok := seen[n.condition]; ok {
			continue
		}
		seen[n.condition] = struct{}{}
		out = append(out, n.condition)
	}
	return out
}
