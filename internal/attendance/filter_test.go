package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildFilter_LimitDefaults(t *testing.T) {
	t.Parallel()

	cases := map[string]int{
		"":     DefaultListLimit,
		"abc":  DefaultListLimit,
		"0":    DefaultListLimit,
		"-5":   DefaultListLimit,
		"2.5":  DefaultListLimit,
		"7":    7,
		" 12 ": 12,
	}
	for raw, want := range cases {
		f := BuildFilter(FilterParams{Limit: raw})
		assert.Equal(t, want, f.Limit, "limit %q", raw)
	}
}

func TestBuildFilter_Bounds(t *testing.T) {
	t.Parallel()

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 3, 12, 30, 0, 0, time.UTC)

	t.Run("neither", func(t *testing.T) {
		f := BuildFilter(FilterParams{})
		assert.Nil(t, f.From)
		assert.Nil(t, f.To)
		assert.Empty(t, f.DeviceID)
	})

	t.Run("only from", func(t *testing.T) {
		f := BuildFilter(FilterParams{From: "2024-01-01"})
		require.NotNil(t, f.From)
		assert.True(t, from.Equal(*f.From))
		assert.Nil(t, f.To)
	})

	t.Run("only to", func(t *testing.T) {
		f := BuildFilter(FilterParams{To: "2024-01-03T12:30:00Z"})
		assert.Nil(t, f.From)
		require.NotNil(t, f.To)
		assert.True(t, to.Equal(*f.To))
	})

	t.Run("both", func(t *testing.T) {
		f := BuildFilter(FilterParams{DeviceID: "dev1", From: "2024-01-01", To: "2024-01-03T14:30:00+02:00"})
		require.NotNil(t, f.From)
		require.NotNil(t, f.To)
		assert.True(t, from.Equal(*f.From))
		assert.True(t, to.Equal(*f.To))
		assert.Equal(t, "dev1", f.DeviceID)
	})

	t.Run("malformed bounds are dropped", func(t *testing.T) {
		f := BuildFilter(FilterParams{From: "yesterday", To: "2024-13-45"})
		assert.Nil(t, f.From)
		assert.Nil(t, f.To)
	})
}

func TestBuildFilter_Idempotent(t *testing.T) {
	t.Parallel()

	p := FilterParams{DeviceID: "dev1", From: "2024-01-01", To: "2024-02-01", Limit: "9"}
	assert.Equal(t, BuildFilter(p), BuildFilter(p))
}

func TestParseInstant(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want time.Time
	}{
		{"2024-01-03T10:15:30Z", time.Date(2024, 1, 3, 10, 15, 30, 0, time.UTC)},
		{"2024-01-03T10:15:30.250Z", time.Date(2024, 1, 3, 10, 15, 30, 250_000_000, time.UTC)},
		{"2024-01-03T12:15:30+02:00", time.Date(2024, 1, 3, 10, 15, 30, 0, time.UTC)},
		{"2024-01-03T10:15:30", time.Date(2024, 1, 3, 10, 15, 30, 0, time.UTC)},
		{"2024-01-03T10:15", time.Date(2024, 1, 3, 10, 15, 0, 0, time.UTC)},
		{"2024-01-03", time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, ok := ParseInstant(tc.raw)
		require.True(t, ok, tc.raw)
		assert.True(t, tc.want.Equal(got), "%s: got %s", tc.raw, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, bad := range []string{"", "  ", "not a date", "03/01/2024", "1704067200000"} {
		_, ok := ParseInstant(bad)
		assert.False(t, ok, bad)
	}
}

func TestParseWireTimestamp(t *testing.T) {
	t.Parallel()

	ts, ok := ParseWireTimestamp("2024-01-03T10:00:00+01:00")
	require.True(t, ok)
	assert.True(t, time.Date(2024, 1, 3, 9, 0, 0, 0, time.UTC).Equal(ts))

	ts, ok = ParseWireTimestamp(float64(1704067200123))
	require.True(t, ok)
	assert.Equal(t, int64(1704067200123), ts.UnixMilli())
	assert.Equal(t, time.UTC, ts.Location())

	ts, ok = ParseWireTimestamp(json.Number("1704067200000"))
	require.True(t, ok)
	assert.Equal(t, 2024, ts.Year())

	for _, bad := range []any{nil, true, "tomorrow", json.Number("1.5e"), []any{}} {
		_, ok := ParseWireTimestamp(bad)
		assert.False(t, ok, "%v", bad)
	}
}

func TestParseWireTimestamp_Range(t *testing.T) {
	t.Parallel()

	for _, v := range []any{float64(MinInstant.UnixMilli()), float64(MaxInstant.UnixMilli()), json.Number("0")} {
		ts, ok := ParseWireTimestamp(v)
		require.True(t, ok, "%v", v)
		_, err := ts.MarshalJSON()
		assert.NoError(t, err, "%v", v)
	}

	outside := []any{
		1e17,
		-1e17,
		1e300,
		float64(MaxInstant.UnixMilli() + 1),
		float64(MinInstant.UnixMilli() - 1),
		json.Number("100000000000000000"),
		json.Number("-100000000000000000"),
		"0000-01-01T00:00:00+01:00",
	}
	for _, v := range outside {
		_, ok := ParseWireTimestamp(v)
		assert.False(t, ok, "%v", v)
	}

	_, ok := ParseInstant("9999-12-31T23:59:59-01:00")
	assert.False(t, ok)
	ts, ok := ParseInstant("9999-12-31T23:59:59Z")
	require.True(t, ok)
	assert.True(t, InRange(ts))
}
