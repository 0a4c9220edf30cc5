package opt

import (
	"fmt"
	"slices"
)

// Finalize computes the truck summary for a fragment set. The fragment slice is
// copied and every copy is stamped with number. Calling it again on an unchanged
// fragment set yields an identical truck.
func Finalize(number int, key PartitionKey, bounds Bounds, frags []Fragment) Truck {
	t := Truck{
		Number:    number,
		Key:       key,
		City:      key.City,
		State:     key.State,
		Bounds:    bounds,
		Bucket:    BucketWithinWindow,
		Fragments: make([]Fragment, len(frags)),
	}

	orders := make(map[string]struct{})
	customers := make(map[string]struct{})
	var overwidthWeight float64
	nearDue := false
	for i, f := range frags {
		f.TruckNumber = number
		t.Fragments[i] = f

		t.Weight += f.Weight
		t.Pieces += f.Pieces
		orders[f.SalesOrder] = struct{}{}
		customers[f.Key.Customer] = struct{}{}
		if f.Width > t.MaxWidth {
			t.MaxWidth = f.Width
		}
		if f.Overwidth {
			overwidthWeight += f.Weight
		}
		if f.Late {
			t.ContainsLate = true
		}
		switch f.Bucket {
		case BucketLate:
			t.Bucket = BucketLate
		case BucketNearDue:
			nearDue = true
		}
		if f.EarliestDue != nil && (t.EarliestDue == nil || f.EarliestDue.Before(*t.EarliestDue)) {
			d := *f.EarliestDue
			t.EarliestDue = &d
		}
	}
	if t.Bucket != BucketLate && nearDue {
		t.Bucket = BucketNearDue
	}

	t.Lines = len(frags)
	t.Orders = len(orders)
	if t.Weight > 0 {
		t.PercentOverwidth = overwidthWeight / t.Weight * 100
	}
	t.BelowMinimum = t.Weight < bounds.Min

	for c := range customers {
		t.Customers = append(t.Customers, c)
	}
	slices.Sort(t.Customers)
	switch len(t.Customers) {
	case 0:
		t.CustomerName = key.Customer
	case 1:
		t.CustomerName = t.Customers[0]
	default:
		t.CustomerName = fmt.Sprintf("Multi-Stop (%d customers)", len(t.Customers))
	}
	return t
}

// refinalize recomputes t in place from its current fragments.
func (t *Truck) refinalize() {
	*t = Finalize(t.Number, t.Key, t.Bounds, t.Fragments)
}
