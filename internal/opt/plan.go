package opt

import (
	"encoding/json"
	"fmt"
	"runtime"
	"slices"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"
)

// Options control one planning run.
type Options struct {
	// Today is the frozen processing date. Zero means Today(time.Now(), Location).
	Today    time.Time
	Location *time.Location
	Weights  WeightConfig
	// Parallelism bounds concurrent partition packing. Zero means GOMAXPROCS.
	Parallelism int
}

// Plan is the result of a planning run, and the input to Combine.
type Plan struct {
	Today           time.Time     `json:"today"`
	Weights         WeightConfig  `json:"weights"`
	Trucks          []Truck       `json:"trucks"`
	Skipped         []SkippedLine `json:"skipped"`
	Removed         []int         `json:"removedTrucks"`
	NextTruckNumber int           `json:"nextTruckNumber"`
	FillMoves       []Move        `json:"fillMoves"`
}

// Build turns order lines into trucks. The weight config is checked before any
// packing. Identical inputs always produce an identical plan.
func Build(lines []OrderLine, o Options) (Plan, error) {
	if err := o.Weights.Validate(); err != nil {
		return Plan{}, err
	}
	today := o.Today
	if today.IsZero() {
		today = Today(time.Now(), o.Location)
	}

	trucks, skipped, err := buildTrucks(lines, today, o)
	if err != nil {
		return Plan{}, err
	}
	p := Plan{Today: today, Weights: o.Weights, Skipped: skipped, NextTruckNumber: len(trucks) + 1}

	kept, removed, moves := fill(trucks, today)
	p.Trucks = append([]Truck{}, kept...)
	p.Removed = append([]int{}, removed...)
	p.FillMoves = append([]Move{}, moves...)
	return p, nil
}

// buildTrucks runs derive, sort, partition and pack, and numbers the resulting
// trucks 1..n in partition order.
func buildTrucks(lines []OrderLine, today time.Time, o Options) ([]Truck, []SkippedLine, error) {
	skipped := []SkippedLine{}
	derived := make([]*derivedLine, 0, len(lines))
	seen := make(map[string]int)
	for i, l := range lines {
		d, reason := derive(l, i, today)
		if d == nil {
			skipped = append(skipped, SkippedLine{Index: i, SalesOrder: l.SalesOrder, Line: l.Line, Reason: reason})
			continue
		}
		seen[d.id]++
		if n := seen[d.id]; n > 1 {
			d.id = fmt.Sprintf("%s#%d", d.id, n)
		}
		derived = append(derived, d)
	}

	sortLines(derived)
	parts := partitionLines(derived)

	packed, err := packAll(parts, today, o.Weights, o.Parallelism)
	if err != nil {
		return nil, nil, err
	}

	var trucks []Truck
	for i, part := range parts {
		bounds := o.Weights.BoundsFor(part.key.State)
		for _, frags := range packed[i] {
			trucks = append(trucks, Finalize(len(trucks)+1, part.key, bounds, frags))
		}
	}
	return trucks, skipped, nil
}

// packAll packs every partition concurrently. Results are indexed by partition
// and the reported error is the first in partition order, so failures are
// deterministic too.
func packAll(parts []partition, today time.Time, w WeightConfig, parallelism int) ([][][]Fragment, error) {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	out := make([][][]Fragment, len(parts))
	errs := make([]error, len(parts))

	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, part := range parts {
		g.Go(func() error {
			trucks, err := newPacker(today, w.BoundsFor(part.key.State)).pack(part.lines)
			out[i], errs[i] = trucks, err
			return err
		})
	}
	if g.Wait() != nil {
		for i, err := range errs {
			if err != nil {
				return nil, fmt.Errorf("partition %s: %w", parts[i].key, err)
			}
		}
	}
	return out, nil
}

// Fragments returns every fragment in truck order.
func (p Plan) Fragments() []Fragment {
	var out []Fragment
	for _, t := range p.Trucks {
		out = append(out, t.Fragments...)
	}
	return out
}

// Sections groups truck numbers by bucket for presentation. Every bucket is
// present, possibly empty.
func (p Plan) Sections() map[Bucket][]int {
	out := make(map[Bucket][]int, len(Buckets))
	for _, b := range Buckets {
		out[b] = []int{}
	}
	for _, t := range p.Trucks {
		out[t.Bucket] = append(out[t.Bucket], t.Number)
	}
	return out
}

// Truck looks up a truck by number.
func (p Plan) Truck(number int) (Truck, bool) {
	for _, t := range p.Trucks {
		if t.Number == number {
			return t, true
		}
	}
	return Truck{}, false
}

// BelowMinimum returns the numbers of trucks still under their minimum weight.
func (p Plan) BelowMinimum() []int {
	var out []int
	for _, t := range p.Trucks {
		if t.BelowMinimum {
			out = append(out, t.Number)
		}
	}
	return out
}

// Fingerprint is a stable hash of the plan's JSON form.
func (p Plan) Fingerprint() string {
	b, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%016x", xxh3.Hash(b))
}

// clone deep-copies the truck list so callers can mutate the copy freely.
func (p Plan) clone() Plan {
	c := p
	c.Trucks = make([]Truck, len(p.Trucks))
	for i, t := range p.Trucks {
		t.Fragments = slices.Clone(t.Fragments)
		t.Customers = slices.Clone(t.Customers)
		c.Trucks[i] = t
	}
	c.Skipped = slices.Clone(p.Skipped)
	c.Removed = slices.Clone(p.Removed)
	c.FillMoves = slices.Clone(p.FillMoves)
	return c
}
