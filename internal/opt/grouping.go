package opt

import (
	"cmp"
	"slices"
)

// partition is one group of lines that may share trucks, in sorted order.
type partition struct {
	key   PartitionKey
	lines []*derivedLine
}

// compareOptional orders present values before absent ones, then lexically.
func compareOptional(aHas bool, a string, bHas bool, b string) int {
	switch {
	case aHas && !bHas:
		return -1
	case !aHas && bHas:
		return 1
	}
	return cmp.Compare(a, b)
}

// compareKeys orders by (rank, zone, route, customer, state, city).
func compareKeys(ra int, a PartitionKey, rb int, b PartitionKey) int {
	if c := cmp.Compare(ra, rb); c != 0 {
		return c
	}
	if c := compareOptional(a.HasZone, a.Zone, b.HasZone, b.Zone); c != 0 {
		return c
	}
	if c := compareOptional(a.HasRoute, a.Route, b.HasRoute, b.Route); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Customer, b.Customer); c != 0 {
		return c
	}
	if c := cmp.Compare(a.State, b.State); c != 0 {
		return c
	}
	return cmp.Compare(a.City, b.City)
}

func compareLines(a, b *derivedLine) int {
	return compareKeys(a.bucket.Rank(), a.key, b.bucket.Rank(), b.key)
}

// sortLines stable-sorts lines in place and stamps each with its sorted position.
// Ties beyond the sort keys keep input order.
func sortLines(lines []*derivedLine) {
	slices.SortStableFunc(lines, compareLines)
	for i, l := range lines {
		l.seq = i
	}
}

// partitionLines groups sorted lines by partition key. Partitions come out in the
// order of their first line, and each keeps the sorted line order.
func partitionLines(lines []*derivedLine) []partition {
	idx := make(map[PartitionKey]int)
	var parts []partition
	for _, l := range lines {
		i, ok := idx[l.key]
		if !ok {
			i = len(parts)
			idx[l.key] = i
			parts = append(parts, partition{key: l.key})
		}
		parts[i].lines = append(parts[i].lines, l)
	}
	return parts
}
