package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const header = "SO,Line,Customer,shipping_city,shipping_state,Ready Weight,RPcs,Grd,Size,Width,Earliest Due,Latest Due"

func TestReadCSV(t *testing.T) {
	in := header + ",Zone,trttav_no\n" +
		`SO100,10,Acme Steel,Tulsa,OK,"12,000",24,A36,0.25,98.5,2025-01-08,01/12/2025,N,T-9` + "\n" +
		"SO101,20,Acme Steel,Tulsa,OK,n/a,x,A36,0.5,,bad,2025-01-20T00:00:00Z,,\n" +
		",,,,,,,,,,,\n"

	b, err := ReadCSV(strings.NewReader(in), nil)
	require.NoError(t, err)
	assert.True(t, b.HasZone)
	assert.False(t, b.HasRoute)
	require.Len(t, b.Lines, 2)

	l := b.Lines[0]
	assert.Equal(t, "SO100", l.SalesOrder)
	assert.Equal(t, "10", l.Line)
	assert.Equal(t, "Tulsa", l.City)
	require.NotNil(t, l.ReadyWeight)
	assert.InDelta(t, 12000, *l.ReadyWeight, 1e-9)
	assert.Equal(t, 24, l.ReadyPieces)
	assert.Equal(t, "0.25", l.Thickness)
	assert.InDelta(t, 98.5, *l.Width, 1e-9)
	assert.Equal(t, time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC), *l.EarliestDue)
	assert.Equal(t, time.Date(2025, 1, 12, 0, 0, 0, 0, time.UTC), *l.LatestDue)
	require.NotNil(t, l.Zone)
	assert.Equal(t, "N", *l.Zone)
	assert.Nil(t, l.Route)
	assert.Equal(t, "T-9", l.TransportID)

	l = b.Lines[1]
	assert.Nil(t, l.ReadyWeight)
	assert.Zero(t, l.ReadyPieces)
	assert.Nil(t, l.Width)
	assert.Nil(t, l.EarliestDue)
	require.NotNil(t, l.LatestDue)
	require.NotNil(t, l.Zone)
	assert.Equal(t, "", *l.Zone)
}

func TestReadCSVRejectsFractionalPieces(t *testing.T) {
	in := header + "\n" +
		"A,1,C,Tulsa,OK,1000,2.5,G,S,1,,\n" +
		"B,1,C,Tulsa,OK,1000,1e20,G,S,1,,\n" +
		"C,1,C,Tulsa,OK,1000,\"1,200\",G,S,1,,\n" +
		"D,1,C,Tulsa,OK,1000,-3,G,S,1,,\n"
	b, err := ReadCSV(strings.NewReader(in), nil)
	require.NoError(t, err)
	require.Len(t, b.Lines, 4)
	assert.Zero(t, b.Lines[0].ReadyPieces)
	assert.Zero(t, b.Lines[1].ReadyPieces)
	assert.Equal(t, 1200, b.Lines[2].ReadyPieces)
	assert.Equal(t, -3, b.Lines[3].ReadyPieces)
}

func TestReadCSVAliases(t *testing.T) {
	in := "so_num,so_line,customer_name,shipping_city,shipping_state,balance_weight,balance_pcs,grade,size,width,due_dt,due_dt2,transport_zone,final_modified_route\n" +
		"7,1,Bolt,Dallas,TX,5000,10,X,1,60,2025-02-01,2025-02-03,S,R1\n"
	b, err := ReadCSV(strings.NewReader(in), nil)
	require.NoError(t, err)
	require.Len(t, b.Lines, 1)
	assert.True(t, b.HasZone)
	assert.True(t, b.HasRoute)
	assert.Equal(t, "R1", *b.Lines[0].Route)
	assert.Equal(t, 10, b.Lines[0].ReadyPieces)
}

func TestReadCSVLocation(t *testing.T) {
	central := time.FixedZone("CST", -6*60*60)
	b, err := ReadCSV(strings.NewReader(header+"\nA,1,C,X,OK,1,1,G,S,1,,2025-01-02\n"), central)
	require.NoError(t, err)
	assert.Equal(t, central, b.Lines[0].LatestDue.Location())
}

func TestReadCSVMissingColumns(t *testing.T) {
	_, err := ReadCSV(strings.NewReader("SO,Line,Customer\nA,1,B\n"), nil)
	require.ErrorIs(t, err, ErrMissingColumns)
	assert.Contains(t, err.Error(), "Ready Weight")

	_, err = ReadCSV(strings.NewReader(""), nil)
	require.ErrorIs(t, err, ErrMissingColumns)
}

func TestPreviewCSV(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("SO,Line,Customer,RPcs\n")
	for range 8 {
		sb.WriteString("A,1,Acme,3\n")
	}
	p, err := PreviewCSV(strings.NewReader(sb.String()), 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"SO", "Line", "Customer", "RPcs"}, p.Headers)
	assert.Equal(t, 8, p.RowCount)
	assert.Len(t, p.Sample, DefaultSampleRows)
	assert.Equal(t, "Acme", p.Sample[0]["Customer"])
	assert.Contains(t, p.MissingRequiredColumns, "Ready Weight")
	assert.NotContains(t, p.MissingRequiredColumns, "RPcs")
}
