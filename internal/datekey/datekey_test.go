package datekey

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUTCRangeStartsAtBangkokMidnight(t *testing.T) {
	start, end, err := UTCRange("2026-01-10")
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 1, 9, 17, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 1, 10, 16, 59, 59, int(999*time.Millisecond), time.UTC), end)
}

func TestRangeRoundTrip(t *testing.T) {
	keys := []string{"2026-01-10", "2024-02-29", "1999-12-31", "2026-03-01", "2100-07-04"}
	for _, key := range keys {
		start, end, err := UTCRange(key)
		require.NoError(t, err, key)
		assert.Equal(t, key, FromTime(start), "start of %s", key)
		assert.Equal(t, key, FromTime(end), "end of %s", key)
		assert.NotEqual(t, key, FromTime(start.Add(-time.Millisecond)), "before %s", key)
		assert.NotEqual(t, key, FromTime(end.Add(time.Millisecond)), "after %s", key)
	}
}

func TestFromTimeAppliesFixedOffset(t *testing.T) {
	assert.Equal(t, "2026-01-10", FromTime(time.Date(2026, 1, 9, 17, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2026-01-09", FromTime(time.Date(2026, 1, 9, 16, 59, 59, 0, time.UTC)))

	// Zone of the input must not matter.
	ny := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2026-01-10", FromTime(time.Date(2026, 1, 9, 12, 30, 0, 0, ny)))
}

func TestParseRejectsMalformedKeys(t *testing.T) {
	bad := []string{"", "2026-1-10", "2026/01/10", "2026-02-30", "2026-13-01", "26-01-10", "2026-01-10T00:00:00Z", " 2026-01-10"}
	for _, key := range bad {
		_, err := Parse(key)
		assert.True(t, errors.Is(err, ErrInvalidDateKey), "expected invalid for %q", key)

		_, _, err = UTCRange(key)
		assert.ErrorIs(t, err, ErrInvalidDateKey)
	}
}

func TestSame(t *testing.T) {
	a := time.Date(2026, 3, 1, 0, 30, 0, 0, time.UTC)  // 07:30 Bangkok
	b := time.Date(2026, 3, 1, 16, 59, 0, 0, time.UTC) // 23:59 Bangkok
	c := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)  // next Bangkok day

	assert.True(t, Same(a, b))
	assert.False(t, Same(b, c))
}

func TestSpanAndMonthBounds(t *testing.T) {
	start, end, err := SpanUTC("2026-02-01", "2026-02-28")
	require.NoError(t, err)
	assert.Equal(t, "2026-02-01", FromTime(start))
	assert.Equal(t, "2026-02-28", FromTime(end))

	_, _, err = SpanUTC("2026-03-02", "2026-03-01")
	assert.ErrorIs(t, err, ErrInvalidDateKey)

	first, last, err := MonthBounds("2024-02-14")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-01", first)
	assert.Equal(t, "2024-02-29", last)

	next, err := AddDays("2026-12-31", 1)
	require.NoError(t, err)
	assert.Equal(t, "2027-01-01", next)
}
