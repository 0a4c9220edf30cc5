package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaEmbedded(t *testing.T) {
	for _, table := range []string{"plans", "weight_config", "plan_metrics"} {
		assert.Contains(t, schemaSQL, "CREATE TABLE IF NOT EXISTS "+table)
	}
}

func TestDecodePlan(t *testing.T) {
	p, err := decodePlan([]byte(`{"today":"2025-01-10T00:00:00Z","trucks":[{"truckNumber":3,"fragments":[]}],"nextTruckNumber":4}`))
	require.NoError(t, err)
	require.Len(t, p.Trucks, 1)
	assert.Equal(t, 3, p.Trucks[0].Number)
	assert.Equal(t, 4, p.NextTruckNumber)

	_, err = decodePlan([]byte(`{"trucks":`))
	require.Error(t, err)
}

func TestNullIfEmpty(t *testing.T) {
	assert.Nil(t, nullIfEmpty(""))
	assert.Equal(t, "x", nullIfEmpty("x"))
}

func TestPageLimit(t *testing.T) {
	assert.Equal(t, defaultPageSize, pageLimit(0))
	assert.Equal(t, defaultPageSize, pageLimit(maxPageSize+1))
	assert.Equal(t, 7, pageLimit(7))
}
