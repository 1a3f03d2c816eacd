package columnar

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/deltastream/errors"
)

func sensorSchema() Schema {
	return Schema{
		{Name: "id", Type: TypeInt32},
		{Name: "site", Type: TypeString},
		{Name: "temp", Type: TypeFloat64},
	}
}

func sensorTable(t *testing.T, rows []Row) *Table {
	t.Helper()
	tbl, err := NewTable(sensorSchema(), len(rows))
	require.NoError(t, err)
	require.NoError(t, tbl.BulkInsert(rows))
	return tbl
}

func sampleRows() []Row {
	return []Row{
		{"id": int32(1), "site": "oslo", "temp": 12.5},
		{"id": int32(2), "site": "oslo", "temp": 14.0},
		{"id": int32(3), "site": "kiel", "temp": 9.5},
		{"id": int32(4), "site": "turku", "temp": -2.0},
	}
}

func TestNewTable_Validation(t *testing.T) {
	_, err := NewTable(Schema{}, 0)
	require.Error(t, err)

	dup := Schema{{Name: "a", Type: TypeInt32}, {Name: "a", Type: TypeString}}
	_, err = NewTable(dup, 0)
	require.Error(t, err)
}

func TestTable_BulkInsert(t *testing.T) {
	tbl := sensorTable(t, sampleRows())
	assert.Equal(t, 4, tbl.Rows())
	assert.Len(t, tbl.Schema(), 3)
}

func TestTable_BulkInsertCoercions(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 2)
	require.NoError(t, err)

	// Whole floats and plain ints coerce into int32; ints coerce into float64.
	err = tbl.BulkInsert([]Row{
		{"id": float64(7), "site": "oslo", "temp": 3},
		{"id": 8, "site": "kiel", "temp": int64(4)},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Rows())
}

func TestTable_BulkInsertAllOrNothing(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 2)
	require.NoError(t, err)

	rows := []Row{
		{"id": int32(1), "site": "oslo", "temp": 1.0},
		{"id": "bad", "site": "oslo", "temp": 2.0},
	}
	err = tbl.BulkInsert(rows)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchemaMismatch)

	// The valid first row must not have been appended.
	assert.Equal(t, 0, tbl.Rows())
}

func TestTable_BulkInsertRejectsInt32Overflow(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 2)
	require.NoError(t, err)

	for _, raw := range []any{
		int64(math.MaxInt32) + 1,
		int64(math.MinInt32) - 1,
		int(math.MaxInt32) + 1,
	} {
		err := tbl.BulkInsert([]Row{{"id": raw, "site": "oslo", "temp": 1.0}})
		require.Error(t, err, "value %v must not fit an int32 column", raw)
		assert.ErrorIs(t, err, errors.ErrSchemaMismatch)
	}

	// Nothing was stored, so aggregates see an empty table.
	assert.Equal(t, 0, tbl.Rows())
	sum, err := tbl.Sum("id")
	require.NoError(t, err)
	assert.Zero(t, sum)

	// Boundary values still pass.
	require.NoError(t, tbl.BulkInsert([]Row{
		{"id": int64(math.MaxInt32), "site": "oslo", "temp": 1.0},
		{"id": int64(math.MinInt32), "site": "kiel", "temp": 2.0},
	}))
	assert.Equal(t, 2, tbl.Rows())
}

func TestTable_BulkInsertUnknownColumn(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 1)
	require.NoError(t, err)

	err = tbl.BulkInsert([]Row{{"id": int32(1), "site": "oslo", "temp": 1.0, "extra": 1}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchemaMismatch)
}

func TestTable_BulkInsertMissingColumn(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 1)
	require.NoError(t, err)

	err = tbl.BulkInsert([]Row{{"id": int32(1), "site": "oslo"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSchemaMismatch)
}

func TestTable_Aggregates(t *testing.T) {
	tbl := sensorTable(t, sampleRows())

	assert.Equal(t, 4, tbl.Count())

	sum, err := tbl.Sum("temp")
	require.NoError(t, err)
	assert.InDelta(t, 34.0, sum, 1e-9)

	avg, err := tbl.Avg("temp")
	require.NoError(t, err)
	assert.InDelta(t, 8.5, avg, 1e-9)

	mn, err := tbl.Min("temp")
	require.NoError(t, err)
	assert.InDelta(t, -2.0, mn, 1e-9)

	mx, err := tbl.Max("temp")
	require.NoError(t, err)
	assert.InDelta(t, 14.0, mx, 1e-9)

	// Int columns aggregate too.
	idSum, err := tbl.Sum("id")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, idSum, 1e-9)
}

func TestTable_AggregatesEmptyTable(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 0)
	require.NoError(t, err)

	for _, agg := range []func(string) (float64, error){tbl.Sum, tbl.Avg, tbl.Min, tbl.Max} {
		v, err := agg("temp")
		require.NoError(t, err)
		assert.Zero(t, v)
	}
}

func TestTable_AggregateErrors(t *testing.T) {
	tbl := sensorTable(t, sampleRows())

	_, err := tbl.Sum("nope")
	assert.ErrorIs(t, err, errors.ErrUnknownColumn)

	_, err = tbl.Min("site")
	assert.ErrorIs(t, err, errors.ErrColumnType)
}

// Masked aggregates must agree with filtering the rows up front.
func TestTable_MaskedAggregatesMatchNaive(t *testing.T) {
	rows := make([]Row, 0, 100)
	var wantCount int
	var wantSum float64
	for i := 0; i < 100; i++ {
		site := "oslo"
		if i%3 == 0 {
			site = "kiel"
		}
		temp := float64(i) / 2
		rows = append(rows, Row{"id": int32(i), "site": site, "temp": temp})
		if site == "oslo" {
			wantCount++
			wantSum += temp
		}
	}
	tbl := sensorTable(t, rows)

	mask, err := tbl.CreateMaskString("site", OpEq, "oslo")
	require.NoError(t, err)

	n, err := tbl.CountMasked(mask)
	require.NoError(t, err)
	assert.Equal(t, wantCount, n)

	s, err := tbl.SumMasked("temp", mask)
	require.NoError(t, err)
	assert.InDelta(t, wantSum, s, 1e-9)
}

func TestTable_SumMaskedErrors(t *testing.T) {
	tbl := sensorTable(t, sampleRows())
	other := sensorTable(t, sampleRows()[:2])

	mask, err := other.CreateMaskString("site", OpEq, "oslo")
	require.NoError(t, err)

	_, err = tbl.SumMasked("temp", mask)
	assert.ErrorIs(t, err, errors.ErrMaskLengthMismatch)
}

func TestTable_RowsGrow(t *testing.T) {
	tbl, err := NewTable(sensorSchema(), 1)
	require.NoError(t, err)

	var rows []Row
	for i := 0; i < 10; i++ {
		rows = append(rows, Row{"id": int32(i), "site": fmt.Sprintf("s%d", i), "temp": 0.0})
	}
	require.NoError(t, tbl.BulkInsert(rows))
	assert.Equal(t, 10, tbl.Rows())
}
