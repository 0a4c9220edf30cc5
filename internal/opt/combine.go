package opt

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Combine rejection reasons. Match them with errors.Is.
var (
	ErrInsufficientSelection = errors.New("select at least two fragments")
	ErrUnknownFragment       = errors.New("fragment not found in plan")
	ErrCrossState            = errors.New("selection spans more than one destination state")
	ErrZoneRouteMismatch     = errors.New("selection does not share one zone and route")
	ErrOverCapacity          = errors.New("combined weight exceeds truck maximum")
)

// RejectionError is a guardrail failure. Nothing in the plan is changed.
type RejectionError struct {
	Reason error
	Detail string
}

func (e *RejectionError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return e.Reason.Error() + ": " + e.Detail
}

func (e *RejectionError) Unwrap() error { return e.Reason }

// Code is a stable machine-readable reason.
func (e *RejectionError) Code() string {
	switch e.Reason {
	case ErrInsufficientSelection:
		return "insufficient_selection"
	case ErrUnknownFragment:
		return "unknown_fragment"
	case ErrCrossState:
		return "cross_state"
	case ErrZoneRouteMismatch:
		return "zone_route_mismatch"
	case ErrOverCapacity:
		return "over_capacity"
	}
	return "rejected"
}

func reject(reason error, format string, args ...any) error {
	return &RejectionError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// FragmentRef identifies one fragment on one truck.
type FragmentRef struct {
	TruckNumber int    `json:"truckNumber"`
	FragmentID  string `json:"fragmentId"`
}

// CombineResult describes a successful combine.
type CombineResult struct {
	// Target is the new truck holding every selected fragment.
	Target Truck `json:"target"`
	// Lightest is the lightest contributing truck before the move.
	Lightest int `json:"lightestSource"`
	// Touched holds every surviving source truck after re-finalizing.
	Touched []Truck    `json:"touched"`
	Moved   []Fragment `json:"moved"`
	Removed []int      `json:"removedTrucks"`
	Plan    Plan       `json:"-"`
}

type selected struct {
	truck int // index into plan.Trucks
	pos   int
	frag  Fragment
}

// Combine moves the selected fragments onto a freshly numbered truck. The input
// plan is never modified; on success the updated plan is in the result.
func Combine(plan Plan, refs []FragmentRef, weights WeightConfig) (CombineResult, error) {
	if err := weights.Validate(); err != nil {
		return CombineResult{}, err
	}

	distinct := make([]FragmentRef, 0, len(refs))
	for _, r := range refs {
		if !slices.Contains(distinct, r) {
			distinct = append(distinct, r)
		}
	}
	if len(distinct) < 2 {
		return CombineResult{}, reject(ErrInsufficientSelection, "%d distinct fragment(s) selected", len(distinct))
	}

	sel := make([]selected, 0, len(distinct))
	for _, r := range distinct {
		ti := slices.IndexFunc(plan.Trucks, func(t Truck) bool { return t.Number == r.TruckNumber })
		if ti < 0 {
			return CombineResult{}, reject(ErrUnknownFragment, "truck %d", r.TruckNumber)
		}
		pos := slices.IndexFunc(plan.Trucks[ti].Fragments, func(f Fragment) bool { return f.ID == r.FragmentID })
		if pos < 0 {
			return CombineResult{}, reject(ErrUnknownFragment, "%s on truck %d", r.FragmentID, r.TruckNumber)
		}
		sel = append(sel, selected{truck: ti, pos: pos, frag: plan.Trucks[ti].Fragments[pos]})
	}
	slices.SortFunc(sel, func(a, b selected) int {
		if c := cmp.Compare(a.truck, b.truck); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})

	if err := validateSelection(sel, weights); err != nil {
		return CombineResult{}, err
	}
	return executeCombine(plan, sel, weights), nil
}

func normState(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

func validateSelection(sel []selected, weights WeightConfig) error {
	first := sel[0].frag
	state := normState(first.Key.State)
	for _, s := range sel[1:] {
		if st := normState(s.frag.Key.State); st != state {
			return reject(ErrCrossState, "%s and %s", first.Key.State, s.frag.Key.State)
		}
	}

	zoned := slices.ContainsFunc(sel, func(s selected) bool { return s.frag.Key.HasZone || s.frag.Key.HasRoute })
	if zoned {
		for _, s := range sel[1:] {
			k := s.frag.Key
			if k.HasZone != first.Key.HasZone || k.Zone != first.Key.Zone ||
				k.HasRoute != first.Key.HasRoute || k.Route != first.Key.Route {
				return reject(ErrZoneRouteMismatch, "%s vs %s", first.ID, s.frag.ID)
			}
		}
	}

	var total float64
	for _, s := range sel {
		total += s.frag.Weight
	}
	if limit := weights.BoundsFor(state).Max; total > limit {
		return reject(ErrOverCapacity, "%.2f lbs over the %.0f lbs maximum for %s", total-limit, limit, state)
	}
	return nil
}

func executeCombine(plan Plan, sel []selected, weights WeightConfig) CombineResult {
	next := plan.clone()

	lightest := -1
	drop := make(map[int][]string)
	frags := make([]Fragment, 0, len(sel))
	for _, s := range sel {
		src := plan.Trucks[s.truck]
		if _, ok := drop[s.truck]; !ok {
			if lightest < 0 || src.Weight < plan.Trucks[lightest].Weight {
				lightest = s.truck
			}
		}
		drop[s.truck] = append(drop[s.truck], s.frag.ID)
		frags = append(frags, s.frag)
	}

	number := max(next.NextTruckNumber, maxTruckNumber(plan)+1)
	next.NextTruckNumber = number + 1

	res := CombineResult{Lightest: plan.Trucks[lightest].Number, Touched: []Truck{}, Removed: []int{}}
	kept := make([]Truck, 0, len(next.Trucks)+1)
	for i, t := range next.Trucks {
		ids, ok := drop[i]
		if !ok {
			kept = append(kept, t)
			continue
		}
		t.Fragments = slices.DeleteFunc(t.Fragments, func(f Fragment) bool { return slices.Contains(ids, f.ID) })
		if len(t.Fragments) == 0 {
			res.Removed = append(res.Removed, t.Number)
			continue
		}
		t.refinalize()
		kept = append(kept, t)
		res.Touched = append(res.Touched, t)
	}

	res.Target = Finalize(number, frags[0].Key, weights.BoundsFor(frags[0].Key.State), frags)
	res.Moved = res.Target.Fragments
	kept = append(kept, res.Target)

	next.Trucks = kept
	next.Removed = append(next.Removed, res.Removed...)
	slices.Sort(next.Removed)
	res.Plan = next
	return res
}

func maxTruckNumber(p Plan) int {
	n := 0
	for _, t := range p.Trucks {
		n = max(n, t.Number)
	}
	for _, r := range p.Removed {
		n = max(n, r)
	}
	return n
}
