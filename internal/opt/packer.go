package opt

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"time"
)

// fullFraction is the fill level at which an open truck is closed. It sits below
// 1.0 so loads that land a rounding error short of max do not stay open.
const fullFraction = 0.98

// fitEpsilon absorbs float noise when dividing capacity by piece weight.
const fitEpsilon = 1e-9

// ErrRemainderUnplaceable aborts a run whose remainders can never be placed,
// typically because a single piece outweighs the truck maximum.
var ErrRemainderUnplaceable = errors.New("remainder cannot be placed")

type remainder struct {
	line   *derivedLine
	pieces int
}

// packer fills trucks for one partition. It owns no shared state, so partitions
// can be packed concurrently.
type packer struct {
	today  time.Time
	bounds Bounds

	closed   [][]Fragment
	open     []Fragment
	weight   float64
	hasLate  bool
	earliest *time.Time

	parts  map[int]int // fragments created per line seq
	placed map[int]int // pieces placed per line seq
}

func newPacker(today time.Time, bounds Bounds) *packer {
	return &packer{
		today:  today,
		bounds: bounds,
		parts:  make(map[int]int),
		placed: make(map[int]int),
	}
}

// pack walks the partition once, then drains remainders pass by pass. It returns
// the fragment list of every truck in creation order.
func (p *packer) pack(lines []*derivedLine) ([][]Fragment, error) {
	var pending []remainder
	for _, l := range lines {
		if left := p.place(l, l.src.ReadyPieces, false); left > 0 {
			pending = append(pending, remainder{line: l, pieces: left})
		}
	}

	ceiling := len(pending)
	for _, r := range pending {
		ceiling += r.pieces
	}
	for pass := 0; len(pending) > 0; pass++ {
		if pass >= ceiling {
			r := pending[0]
			return nil, fmt.Errorf("%w: line %s still has %d pieces after %d passes", ErrRemainderUnplaceable, r.line.id, r.pieces, pass)
		}
		slices.SortStableFunc(pending, func(a, b remainder) int { return a.line.seq - b.line.seq })

		var next []remainder
		progressed := false
		for _, r := range pending {
			left := p.place(r.line, r.pieces, true)
			if left < r.pieces {
				progressed = true
			}
			if left > 0 {
				next = append(next, remainder{line: r.line, pieces: left})
			}
		}
		if !progressed {
			r := next[0]
			return nil, fmt.Errorf("%w: line %s weighs %.2f per piece, truck max is %.2f", ErrRemainderUnplaceable, r.line.id, r.line.weightPerPiece, p.bounds.Max)
		}
		pending = next
	}

	p.close()
	return p.closed, nil
}

// place puts as many of pieces as fit on the open truck and returns how many are left.
func (p *packer) place(l *derivedLine, pieces int, isRemainder bool) int {
	if len(p.open) > 0 {
		switch {
		case p.hasLate && !l.releasable(p.today):
			p.close()
		case l.late && p.earliest != nil && p.earliest.After(p.today):
			p.close()
		}
	}

	fit := p.fit(l, pieces)
	if fit == 0 && len(p.open) > 0 {
		p.close()
		fit = p.fit(l, pieces)
	}
	take := min(fit, pieces)
	if take > 0 {
		p.add(l, take, isRemainder)
	}
	if p.weight >= p.bounds.Max*fullFraction {
		p.close()
	}
	return pieces - take
}

// fit returns how many pieces of l fit on the open truck, capped at pieces.
func (p *packer) fit(l *derivedLine, pieces int) int {
	if l.weightPerPiece <= 0 {
		return pieces
	}
	avail := p.bounds.Max - p.weight
	if avail <= 0 {
		return 0
	}
	n := math.Floor(avail/l.weightPerPiece + fitEpsilon)
	if n >= float64(pieces) {
		return pieces
	}
	return int(n)
}

func (p *packer) add(l *derivedLine, take int, isRemainder bool) {
	part := p.parts[l.seq]
	p.parts[l.seq]++
	p.placed[l.seq] += take

	id := l.id
	if part > 0 {
		id = fmt.Sprintf("%s-R%d", l.id, part)
	}
	total := l.src.ReadyPieces
	f := Fragment{
		ID:              id,
		SalesOrder:      l.src.SalesOrder,
		Line:            l.src.Line,
		ParentIndex:     l.index,
		Key:             l.key,
		Pieces:          take,
		TotalPieces:     total,
		WeightPerPiece:  l.weightPerPiece,
		Weight:          float64(take) * l.weightPerPiece,
		Width:           l.width,
		Overwidth:       l.overwidth,
		Late:            l.late,
		Bucket:          l.bucket,
		EarliestDue:     l.src.EarliestDue,
		LatestDue:       l.src.LatestDue,
		Partial:         take < total,
		RemainingPieces: total - p.placed[l.seq],
		Remainder:       isRemainder,
		Grade:           l.src.Grade,
		Thickness:       l.src.Thickness,
		TransportID:     l.src.TransportID,
	}

	p.open = append(p.open, f)
	p.weight += f.Weight
	p.hasLate = p.hasLate || f.Late
	if f.EarliestDue != nil && (p.earliest == nil || f.EarliestDue.Before(*p.earliest)) {
		p.earliest = f.EarliestDue
	}
}

// close hands the open truck over and starts an empty one.
func (p *packer) close() {
	if len(p.open) == 0 {
		return
	}
	p.closed = append(p.closed, p.open)
	p.open = nil
	p.weight = 0
	p.hasLate = false
	p.earliest = nil
}
