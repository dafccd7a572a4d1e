package fields

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickPrefersEarlierKeys(t *testing.T) {
	source := map[string]any{"a": "first", "b": "second", "c": "third"}

	for _, others := range []map[string]any{
		{"b": nil, "c": nil},
		{"b": "", "c": 42},
		{"b": "shadow"},
	} {
		merged := map[string]any{"a": source["a"]}
		for k, v := range others {
			merged[k] = v
		}
		value, ok := Pick(merged, "a", "b", "c")
		require.True(t, ok)
		assert.Equal(t, "first", value)
	}
}

func TestPickSkipsNilAndMissing(t *testing.T) {
	source := map[string]any{"a": nil, "c": "third"}

	value, ok := Pick(source, "a", "b", "c")
	require.True(t, ok)
	assert.Equal(t, "third", value)

	_, ok = Pick(source, "x", "a")
	assert.False(t, ok)
}

func TestPickKeepsEmptyString(t *testing.T) {
	value, ok := Pick(map[string]any{"a": "", "b": "later"}, "a", "b")
	require.True(t, ok)
	assert.Equal(t, "", value)
}

func TestVariantOrders(t *testing.T) {
	v := Variants{
		Canonical: "discharge_reason",
		Columns:   []string{"Reason_for_discharge", "discharge_reason"},
		Inputs:    []string{"dischargeReason", "reason"},
	}
	assert.Equal(t, []string{"discharge_reason", "Reason_for_discharge", "dischargeReason", "reason"}, v.ReadOrder())
	assert.Equal(t, []string{"discharge_reason", "dischargeReason", "reason", "Reason_for_discharge"}, v.WriteOrder())
	assert.Equal(t, []string{"discharge_reason", "Reason_for_discharge"}, v.ColumnNames())
}

func TestString(t *testing.T) {
	assert.Equal(t, "12", String(int64(12)))
	assert.Equal(t, "1.5", String(1.5))
	assert.Equal(t, "raw", String([]byte("raw")))
	assert.Equal(t, "a, b", String([]any{"a", "b"}))
	assert.Equal(t, "", String(nil))
}

func TestInt64(t *testing.T) {
	n, ok := Int64(" 7 ")
	require.True(t, ok)
	assert.Equal(t, int64(7), n)

	_, ok = Int64("seven")
	assert.False(t, ok)

	n, ok = Int64(float64(3))
	require.True(t, ok)
	assert.Equal(t, int64(3), n)
}

func TestTime(t *testing.T) {
	want := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	for _, input := range []any{
		"2024-03-01 09:30:00",
		"2024-03-01T09:30:00Z",
		"2024-03-01T10:30:00+01:00",
		want,
		[]byte("2024-03-01 09:30:00"),
	} {
		got, ok := Time(input)
		require.True(t, ok, "input %v", input)
		assert.True(t, want.Equal(got), "input %v gave %v", input, got)
	}

	_, ok := Time("not a date")
	assert.False(t, ok)
	_, ok = Time(nil)
	assert.False(t, ok)
}

func TestTruthy(t *testing.T) {
	assert.True(t, Truthy(int64(1)))
	assert.True(t, Truthy("yes"))
	assert.False(t, Truthy("0"))
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(int64(0)))
}
