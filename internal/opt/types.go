package opt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// Bucket is the delivery-urgency classification of a line, fragment or truck.
type Bucket string

const (
	BucketLate         Bucket = "Late"
	BucketNearDue      Bucket = "NearDue"
	BucketWithinWindow Bucket = "WithinWindow"
)

// Buckets lists every bucket in precedence order.
var Buckets = []Bucket{BucketLate, BucketNearDue, BucketWithinWindow}

// Rank is the sort tie-break for a bucket. Unknown values rank as WithinWindow.
func (b Bucket) Rank() int {
	switch b {
	case BucketLate:
		return 0
	case BucketNearDue:
		return 1
	default:
		return 2
	}
}

// OrderLine is one shippable sales-order line as handed over by ingestion.
// Optional numeric columns are nil when the source value was missing or non-numeric.
// Zone and Route are nil when the source data does not carry the column at all.
type OrderLine struct {
	SalesOrder  string     `json:"so"`
	Line        string     `json:"line"`
	Customer    string     `json:"customer"`
	City        string     `json:"city"`
	State       string     `json:"state"`
	ReadyWeight *float64   `json:"readyWeight,omitempty"`
	ReadyPieces int        `json:"readyPieces"`
	Grade       string     `json:"grade,omitempty"`
	Thickness   string     `json:"thickness,omitempty"`
	Width       *float64   `json:"width,omitempty"`
	EarliestDue *time.Time `json:"earliestDue,omitempty"`
	LatestDue   *time.Time `json:"latestDue,omitempty"`
	Zone        *string    `json:"zone,omitempty"`
	Route       *string    `json:"route,omitempty"`
	TransportID string     `json:"transportId,omitempty"`
}

// PartitionKey is the grouping identity that confines which lines may share a truck.
// A missing zone or route is part of the identity: HasZone=false never equals HasZone=true.
type PartitionKey struct {
	Zone     string `json:"zone,omitempty"`
	HasZone  bool   `json:"hasZone"`
	Route    string `json:"route,omitempty"`
	HasRoute bool   `json:"hasRoute"`
	Customer string `json:"customer"`
	State    string `json:"state"`
	City     string `json:"city"`
}

func (k PartitionKey) String() string {
	var b strings.Builder
	if k.HasZone {
		b.WriteString("zone=" + k.Zone + " ")
	}
	if k.HasRoute {
		b.WriteString("route=" + k.Route + " ")
	}
	fmt.Fprintf(&b, "%s/%s/%s", k.Customer, k.State, k.City)
	return b.String()
}

// Bounds is a truck weight window in pounds.
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// WeightConfig selects truck weight bounds by destination state class.
type WeightConfig struct {
	HighVolumeStates []string `json:"highVolumeStates" yaml:"high_volume_states"`
	HighVolume       Bounds   `json:"highVolume" yaml:"high_volume"`
	Other            Bounds   `json:"other" yaml:"other"`
}

// DefaultWeightConfig mirrors the planning desk's standing limits.
func DefaultWeightConfig() WeightConfig {
	return WeightConfig{
		HighVolumeStates: []string{"TX", "TEXAS"},
		HighVolume:       Bounds{Min: 47000, Max: 52000},
		Other:            Bounds{Min: 44000, Max: 48000},
	}
}

// ErrInvalidWeightConfig is returned before any packing when bounds are unusable.
var ErrInvalidWeightConfig = errors.New("invalid weight config")

// Validate rejects non-positive bounds and max <= min.
func (c WeightConfig) Validate() error {
	check := func(name string, b Bounds) error {
		if b.Min <= 0 || b.Max <= 0 {
			return fmt.Errorf("%w: %s bounds must be positive (min=%v max=%v)", ErrInvalidWeightConfig, name, b.Min, b.Max)
		}
		if b.Max <= b.Min {
			return fmt.Errorf("%w: %s max %v must exceed min %v", ErrInvalidWeightConfig, name, b.Max, b.Min)
		}
		return nil
	}
	if err := check("high-volume", c.HighVolume); err != nil {
		return err
	}
	return check("other", c.Other)
}

// IsHighVolume reports whether state belongs to the high-volume class.
func (c WeightConfig) IsHighVolume(state string) bool {
	s := strings.ToUpper(strings.TrimSpace(state))
	return slices.ContainsFunc(c.HighVolumeStates, func(v string) bool {
		return strings.ToUpper(strings.TrimSpace(v)) == s
	})
}

// BoundsFor returns the weight window that applies to a destination state.
func (c WeightConfig) BoundsFor(state string) Bounds {
	if c.IsHighVolume(state) {
		return c.HighVolume
	}
	return c.Other
}

// Fragment is a possibly partial slice of one order line's pieces placed on one truck.
type Fragment struct {
	TruckNumber     int          `json:"truckNumber"`
	ID              string       `json:"id"`
	SalesOrder      string       `json:"so"`
	Line            string       `json:"line"`
	ParentIndex     int          `json:"parentIndex"`
	Key             PartitionKey `json:"key"`
	Pieces          int          `json:"piecesOnTransport"`
	TotalPieces     int          `json:"totalReadyPieces"`
	WeightPerPiece  float64      `json:"weightPerPiece"`
	Weight          float64      `json:"totalWeight"`
	Width           float64      `json:"width"`
	Overwidth       bool         `json:"isOverwidth"`
	Late            bool         `json:"isLate"`
	Bucket          Bucket       `json:"priorityBucket"`
	EarliestDue     *time.Time   `json:"earliestDue,omitempty"`
	LatestDue       *time.Time   `json:"latestDue,omitempty"`
	Partial         bool         `json:"isPartial"`
	RemainingPieces int          `json:"remainingPieces"`
	Remainder       bool         `json:"isRemainder"`
	Grade           string       `json:"grade,omitempty"`
	Thickness       string       `json:"thickness,omitempty"`
	TransportID     string       `json:"transportId,omitempty"`
}

// Releasable reports whether the fragment may ship on or before today.
// A fragment without an earliest-due date is always releasable.
func (f Fragment) Releasable(today time.Time) bool {
	return f.EarliestDue == nil || !f.EarliestDue.After(today)
}

// Truck is a finalized load with its aggregate summary.
type Truck struct {
	Number           int          `json:"truckNumber"`
	Key              PartitionKey `json:"key"`
	CustomerName     string       `json:"customerName"`
	Customers        []string     `json:"customers"`
	City             string       `json:"customerCity"`
	State            string       `json:"customerState"`
	Bounds           Bounds       `json:"bounds"`
	Weight           float64      `json:"totalWeight"`
	Orders           int          `json:"totalOrders"`
	Lines            int          `json:"totalLines"`
	Pieces           int          `json:"totalPieces"`
	MaxWidth         float64      `json:"maxWidth"`
	PercentOverwidth float64      `json:"percentOverwidth"`
	ContainsLate     bool         `json:"containsLate"`
	Bucket           Bucket       `json:"priorityBucket"`
	EarliestDue      *time.Time   `json:"earliestDue,omitempty"`
	BelowMinimum     bool         `json:"belowMinimum"`
	Fragments        []Fragment   `json:"fragments"`
}

// SkippedLine records an input line filtered out before partitioning.
type SkippedLine struct {
	Index      int    `json:"index"`
	SalesOrder string `json:"so"`
	Line       string `json:"line"`
	Reason     string `json:"reason"`
}

// Move records one whole fragment changing trucks.
type Move struct {
	FragmentID string `json:"fragmentId"`
	From       int    `json:"from"`
	To         int    `json:"to"`
	Phase      string `json:"phase"`
}
