package opt

import (
	"cmp"
	"slices"
	"time"
)

// fillTolerance is the relative headroom allowed over max when topping off a target.
const fillTolerance = 1.0001

// Fill phases, in the order they run.
const (
	PhaseLate    = "late"
	PhaseNearDue = "near-due"
)

type fillPhase struct {
	name           string
	target         Bucket
	donors         []Bucket
	releasableOnly bool
}

var fillPhases = []fillPhase{
	{name: PhaseLate, target: BucketLate, donors: []Bucket{BucketNearDue, BucketWithinWindow}, releasableOnly: true},
	{name: PhaseNearDue, target: BucketNearDue, donors: []Bucket{BucketWithinWindow}},
}

type donorFragment struct {
	truck *Truck
	id    string
	rank  int
	pos   int
}

// filler moves whole fragments from less urgent trucks onto under-filled urgent
// trucks of the same partition. It runs single-threaded over the full truck set.
type filler struct {
	today    time.Time
	trucks   []*Truck // ordered by number
	donated  map[int]bool
	received map[int]bool
	moves    []Move
}

// fill runs both phases and returns the surviving trucks, the numbers of emptied
// donors in ascending order, and every move made.
func fill(trucks []Truck, today time.Time) ([]Truck, []int, []Move) {
	f := &filler{
		today:    today,
		donated:  make(map[int]bool),
		received: make(map[int]bool),
	}
	for i := range trucks {
		f.trucks = append(f.trucks, &trucks[i])
	}
	for _, ph := range fillPhases {
		f.runPhase(ph)
	}

	var kept []Truck
	var removed []int
	for _, t := range f.trucks {
		if len(t.Fragments) == 0 {
			removed = append(removed, t.Number)
			continue
		}
		kept = append(kept, *t)
	}
	return kept, removed, f.moves
}

func (f *filler) runPhase(ph fillPhase) {
	for _, target := range f.trucks {
		if len(target.Fragments) == 0 || target.Bucket != ph.target || f.donated[target.Number] {
			continue
		}
		if saturated(target) {
			continue
		}
		for _, d := range f.donorsFor(target, ph) {
			if saturated(target) {
				break
			}
			i := slices.IndexFunc(d.truck.Fragments, func(fr Fragment) bool { return fr.ID == d.id })
			if i < 0 {
				continue
			}
			frag := d.truck.Fragments[i]
			if target.Weight+frag.Weight > target.Bounds.Max*fillTolerance {
				continue
			}
			if ph.releasableOnly && !frag.Releasable(f.today) {
				continue
			}
			f.move(d.truck, i, target, ph.name)
		}
	}
}

// saturated reports whether a target has stopped accepting donations.
func saturated(t *Truck) bool {
	return t.Weight >= t.Bounds.Min || t.Weight >= t.Bounds.Max*fullFraction
}

// donorsFor lists candidate fragments by (fragment rank, donor number, position).
func (f *filler) donorsFor(target *Truck, ph fillPhase) []donorFragment {
	var out []donorFragment
	for _, t := range f.trucks {
		if t == target || len(t.Fragments) == 0 || f.received[t.Number] {
			continue
		}
		if t.Key != target.Key || !slices.Contains(ph.donors, t.Bucket) {
			continue
		}
		for pos, fr := range t.Fragments {
			out = append(out, donorFragment{truck: t, id: fr.ID, rank: fr.Bucket.Rank(), pos: pos})
		}
	}
	slices.SortStableFunc(out, func(a, b donorFragment) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		if c := cmp.Compare(a.truck.Number, b.truck.Number); c != 0 {
			return c
		}
		return cmp.Compare(a.pos, b.pos)
	})
	return out
}

func (f *filler) move(donor *Truck, i int, target *Truck, phase string) {
	frag := donor.Fragments[i]
	donor.Fragments = slices.Delete(slices.Clone(donor.Fragments), i, i+1)
	target.Fragments = append(slices.Clone(target.Fragments), frag)
	donor.refinalize()
	target.refinalize()

	f.donated[donor.Number] = true
	f.received[target.Number] = true
	f.moves = append(f.moves, Move{FragmentID: frag.ID, From: donor.Number, To: target.Number, Phase: phase})
}
