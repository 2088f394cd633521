package grants

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func floatPtr(f float64) *float64 { return &f }

func TestPredicateEquality(t *testing.T) {
	p := Predicate{"department": {Eq: "finance"}}

	require.True(t, p.Matches(map[string]any{"department": "finance"}))
	require.False(t, p.Matches(map[string]any{"department": "sales"}))
}

func TestPredicateNumericBounds(t *testing.T) {
	p := Predicate{"amount": {Max: floatPtr(10000)}}

	require.True(t, p.Matches(map[string]any{"amount": 9999}))
	require.False(t, p.Matches(map[string]any{"amount": 10001}))
	require.True(t, p.Matches(map[string]any{"amount": 10000}), "bounds are inclusive")
}

func TestPredicateMinAndMax(t *testing.T) {
	p := Predicate{"amount": {Min: floatPtr(100), Max: floatPtr(500)}}

	require.False(t, p.Matches(map[string]any{"amount": 99}))
	require.True(t, p.Matches(map[string]any{"amount": 100}))
	require.True(t, p.Matches(map[string]any{"amount": 500}))
	require.False(t, p.Matches(map[string]any{"amount": 501}))
}

func TestPredicateMembership(t *testing.T) {
	p := Predicate{"region": {In: []any{"eu", "us"}}}

	require.True(t, p.Matches(map[string]any{"region": "eu"}))
	require.False(t, p.Matches(map[string]any{"region": "apac"}))
}

func TestPredicateMissingFieldFailsClosed(t *testing.T) {
	p := Predicate{"amount": {Max: floatPtr(10000)}}

	require.False(t, p.Matches(map[string]any{}))
	require.False(t, p.Matches(nil))
}

func TestPredicateAllFieldsMustMatch(t *testing.T) {
	p := Predicate{
		"amount": {Max: floatPtr(10000)},
		"region": {Eq: "eu"},
	}

	require.True(t, p.Matches(map[string]any{"amount": 500, "region": "eu"}))
	require.False(t, p.Matches(map[string]any{"amount": 500, "region": "us"}))
	require.False(t, p.Matches(map[string]any{"amount": 500}))
}

func TestPredicateNumericEqualityAcrossTypes(t *testing.T) {
	p := Predicate{"level": {Eq: float64(3)}}

	require.True(t, p.Matches(map[string]any{"level": 3}))
	require.True(t, p.Matches(map[string]any{"level": int64(3)}))
	require.False(t, p.Matches(map[string]any{"level": "3"}))
}

func TestPredicateBoundRejectsNonNumeric(t *testing.T) {
	p := Predicate{"amount": {Max: floatPtr(10)}}

	require.False(t, p.Matches(map[string]any{"amount": "cheap"}))
}

func TestConstraintJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"amount":{"min":1,"max":10000},"region":{"in":["eu","us"]},"department":"finance"}`)

	var p Predicate
	require.NoError(t, json.Unmarshal(raw, &p))
	require.True(t, p.Matches(map[string]any{"amount": 50, "region": "us", "department": "finance"}))
	require.False(t, p.Matches(map[string]any{"amount": 0.5, "region": "us", "department": "finance"}))

	encoded, err := json.Marshal(p)
	require.NoError(t, err)
	var again Predicate
	require.NoError(t, json.Unmarshal(encoded, &again))
	require.True(t, again.Matches(map[string]any{"amount": 50, "region": "us", "department": "finance"}))
}

func TestConstraintRejectsUnknownKeys(t *testing.T) {
	var p Predicate
	err := json.Unmarshal([]byte(`{"amount":{"gte":5}}`), &p)
	require.Error(t, err)
}
