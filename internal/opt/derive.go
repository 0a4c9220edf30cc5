package opt

import (
	"fmt"
	"math"
	"time"
)

// OverwidthInches is the width above which a line is tracked as overwidth.
const OverwidthInches = 96.0

// nearDueDays is the inclusive horizon for the NearDue bucket.
const nearDueDays = 3

// Skip reasons reported in Plan.Skipped.
const (
	SkipNoPieces       = "non-positive ready pieces"
	SkipNoWeight       = "missing ready weight"
	SkipNegativeWeight = "negative ready weight"
)

// Today truncates now to midnight in loc. A nil loc means UTC.
// Every lateness comparison in one run uses the value captured here.
func Today(now time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := now.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// derivedLine is a working copy of an OrderLine with its computed attributes.
type derivedLine struct {
	src            OrderLine
	index          int
	seq            int // position after sorting
	id             string
	key            PartitionKey
	weightPerPiece float64
	width          float64
	late           bool
	daysUntilLate  int
	hasLatest      bool
	overwidth      bool
	bucket         Bucket
}

func (d *derivedLine) releasable(today time.Time) bool {
	return d.src.EarliestDue == nil || !d.src.EarliestDue.After(today)
}

// derive annotates one line. It returns a skip reason instead of a line when the
// line cannot be packed.
func derive(l OrderLine, index int, today time.Time) (*derivedLine, string) {
	if l.ReadyPieces <= 0 {
		return nil, SkipNoPieces
	}
	if l.ReadyWeight == nil || math.IsNaN(*l.ReadyWeight) {
		return nil, SkipNoWeight
	}
	if *l.ReadyWeight < 0 {
		return nil, SkipNegativeWeight
	}

	d := &derivedLine{
		src:            l,
		index:          index,
		id:             fmt.Sprintf("%s-%s", l.SalesOrder, l.Line),
		key:            keyFor(l),
		weightPerPiece: *l.ReadyWeight / float64(l.ReadyPieces),
		bucket:         BucketWithinWindow,
	}
	if l.Width != nil && !math.IsNaN(*l.Width) {
		d.width = *l.Width
	}
	d.overwidth = d.width > OverwidthInches

	if l.LatestDue != nil {
		d.hasLatest = true
		d.late = l.LatestDue.Before(today)
		d.daysUntilLate = int(math.Floor(l.LatestDue.Sub(today).Hours() / 24))
		switch {
		case d.late:
			d.bucket = BucketLate
		case d.daysUntilLate >= 0 && d.daysUntilLate <= nearDueDays:
			d.bucket = BucketNearDue
		}
	}
	return d, ""
}

// keyFor builds the partition key. Zone and route only take part when the line
// carries them.
func keyFor(l OrderLine) PartitionKey {
	k := PartitionKey{Customer: l.Customer, State: l.State, City: l.City}
	if l.Zone != nil {
		k.Zone, k.HasZone = *l.Zone, true
	}
	if l.Route != nil {
		k.Route, k.HasRoute = *l.Route, true
	}
	return k
}
