// Package ingest turns tabular order exports into typed order lines.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"loadplanner/internal/opt"
)

// Canonical column names, as the planning desk's spreadsheet export spells them.
const (
	ColSalesOrder  = "SO"
	ColLine        = "Line"
	ColCustomer    = "Customer"
	ColCity        = "shipping_city"
	ColState       = "shipping_state"
	ColReadyWeight = "Ready Weight"
	ColReadyPieces = "RPcs"
	ColGrade       = "Grd"
	ColSize        = "Size"
	ColWidth       = "Width"
	ColEarliestDue = "Earliest Due"
	ColLatestDue   = "Latest Due"
	ColZone        = "Zone"
	ColRoute       = "Route"
	ColTransportID = "trttav_no"
)

// RequiredColumns must all be present after alias mapping.
var RequiredColumns = []string{
	ColSalesOrder, ColLine, ColCustomer, ColCity, ColState, ColReadyWeight,
	ColReadyPieces, ColGrade, ColSize, ColWidth, ColEarliestDue, ColLatestDue,
}

var knownColumns = append(append([]string{}, RequiredColumns...), ColZone, ColRoute, ColTransportID)

// aliases maps database export column names onto canonical ones.
var aliases = map[string]string{
	"so_num":               ColSalesOrder,
	"so_line":              ColLine,
	"customer_name":        ColCustomer,
	"balance_weight":       ColReadyWeight,
	"balance_pcs":          ColReadyPieces,
	"grade":                ColGrade,
	"size":                 ColSize,
	"width":                ColWidth,
	"due_dt":               ColEarliestDue,
	"due_dt2":              ColLatestDue,
	"transport_zone":       ColZone,
	"final_modified_route": ColRoute,
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
}

// ErrMissingColumns is returned when the header lacks required columns.
var ErrMissingColumns = errors.New("missing required columns")

// Batch is a parsed upload.
type Batch struct {
	Headers []string
	Lines   []opt.OrderLine
	// HasZone and HasRoute report whether the optional columns were supplied.
	HasZone  bool
	HasRoute bool
}

// canonical resolves a raw header to its canonical column name.
func canonical(h string) string {
	h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	if c, ok := aliases[strings.ToLower(h)]; ok {
		return c
	}
	for _, c := range knownColumns {
		if strings.EqualFold(c, h) {
			return c
		}
	}
	return h
}

func columnIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		c := canonical(h)
		if _, dup := idx[c]; !dup {
			idx[c] = i
		}
	}
	return idx
}

func missingColumns(idx map[string]int) []string {
	missing := []string{}
	for _, c := range RequiredColumns {
		if _, ok := idx[c]; !ok {
			missing = append(missing, c)
		}
	}
	return missing
}

func newReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr
}

// ReadCSV parses a header-mapped CSV export. Unparseable numbers and dates
// become absent values rather than errors. Dates without a zone are read in loc;
// a nil loc means UTC.
func ReadCSV(r io.Reader, loc *time.Location) (Batch, error) {
	if loc == nil {
		loc = time.UTC
	}
	cr := newReader(r)
	headers, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Batch{}, fmt.Errorf("ingest: empty file: %w", ErrMissingColumns)
		}
		return Batch{}, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := columnIndex(headers)
	if missing := missingColumns(idx); len(missing) > 0 {
		return Batch{}, fmt.Errorf("ingest: %w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	b := Batch{Headers: headers}
	_, b.HasZone = idx[ColZone]
	_, b.HasRoute = idx[ColRoute]
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Batch{}, fmt.Errorf("ingest: row %d: %w", len(b.Lines)+2, err)
		}
		if blank(rec) {
			continue
		}
		b.Lines = append(b.Lines, toLine(rec, idx, loc, b.HasZone, b.HasRoute))
	}
	return b, nil
}

func blank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func toLine(rec []string, idx map[string]int, loc *time.Location, hasZone, hasRoute bool) opt.OrderLine {
	get := func(col string) string {
		i, ok := idx[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}
	l := opt.OrderLine{
		SalesOrder:  get(ColSalesOrder),
		Line:        get(ColLine),
		Customer:    get(ColCustomer),
		City:        get(ColCity),
		State:       get(ColState),
		ReadyWeight: parseNumber(get(ColReadyWeight)),
		Grade:       get(ColGrade),
		Thickness:   get(ColSize),
		Width:       parseNumber(get(ColWidth)),
		EarliestDue: parseDate(get(ColEarliestDue), loc),
		LatestDue:   parseDate(get(ColLatestDue), loc),
		TransportID: get(ColTransportID),
	}
	l.ReadyPieces = parsePieces(get(ColReadyPieces))
	if hasZone {
		z := get(ColZone)
		l.Zone = &z
	}
	if hasRoute {
		rt := get(ColRoute)
		l.Route = &rt
	}
	return l
}

func parseNumber(s string) *float64 {
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// parsePieces accepts whole counts in int32 range. Anything else yields 0 so
// the line is skipped for non-positive pieces.
func parsePieces(s string) int {
	p := parseNumber(s)
	if p == nil || *p != math.Trunc(*p) || *p < math.MinInt32 || *p > math.MaxInt32 {
		return 0
	}
	return int(*p)
}

func parseDate(s string, loc *time.Location) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return &t
		}
	}
	return nil
}
