package clipping

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidclip/pkg/models"
)

const (
	testPeriodDurationUs = 1_000_000
	testClipAmountUs     = 300_000
	fakeWindowDurationUs = 1_000_000
)

// fakeTimeline builds windowCount seekable single-period windows with ids id, id+1, ...
func fakeTimeline(t *testing.T, windowCount int, id int) models.Timeline {
	t.Helper()

	specs := make([]models.WindowSpec, windowCount)
	for i := range specs {
		specs[i] = models.WindowSpec{
			ID:         id + i,
			IsSeekable: true,
			Periods:    []models.PeriodSpec{{ID: id + i, DurationUs: fakeWindowDurationUs}},
		}
	}
	timeline, err := models.NewTimeline(specs)
	require.NoError(t, err)
	return timeline
}

func assertDurations(t *testing.T, timeline models.Timeline, wantUs int64) {
	t.Helper()

	require.Equal(t, 1, timeline.GetWindowCount())
	require.Equal(t, 1, timeline.GetPeriodCount())

	window, err := timeline.GetWindow(0)
	require.NoError(t, err)
	period, err := timeline.GetPeriod(0)
	require.NoError(t, err)

	assert.Equal(t, wantUs, window.DurationUs, "window duration")
	assert.Equal(t, wantUs, period.DurationUs, "period duration")
}

func TestClipNoClipping(t *testing.T) {
	for _, seekable := range []bool{true, false} {
		upstream := models.SinglePeriodTimeline(testPeriodDurationUs, seekable, nil)

		clipped, err := Clip(upstream, 0, models.TimeEndOfSource)
		require.NoError(t, err)
		assertDurations(t, clipped, testPeriodDurationUs)
	}
}

func TestClipUnseekableWindow(t *testing.T) {
	upstream := models.SinglePeriodTimeline(testPeriodDurationUs, false, nil)

	// The whole window may be "clipped" even though it cannot seek.
	clipped, err := Clip(upstream, 0, testPeriodDurationUs)
	require.NoError(t, err)
	assertDurations(t, clipped, testPeriodDurationUs)

	_, err = Clip(upstream, 1, testPeriodDurationUs)
	require.ErrorIs(t, err, ErrUnseekable)

	_, err = Clip(upstream, 0, testPeriodDurationUs-1)
	require.ErrorIs(t, err, ErrUnseekable)

	var clipErr *Error
	require.True(t, errors.As(err, &clipErr))
	assert.Equal(t, ReasonUnseekable, clipErr.Reason)
	assert.Equal(t, int64(testPeriodDurationUs-1), clipErr.EndUs)
	assert.Equal(t, int64(testPeriodDurationUs), clipErr.DurationUs)
}

func TestClipDurations(t *testing.T) {
	tests := []struct {
		name    string
		startUs int64
		endUs   int64
		wantUs  int64
	}{
		{"start", testClipAmountUs, testPeriodDurationUs, testPeriodDurationUs - testClipAmountUs},
		{"start to end of source", testClipAmountUs, models.TimeEndOfSource, testPeriodDurationUs - testClipAmountUs},
		{"end", 0, testPeriodDurationUs - testClipAmountUs, testPeriodDurationUs - testClipAmountUs},
		{"start and end", testClipAmountUs, testPeriodDurationUs - testClipAmountUs*2, testPeriodDurationUs - testClipAmountUs*3},
		{"end beyond duration is clamped", testClipAmountUs, testPeriodDurationUs * 2, testPeriodDurationUs - testClipAmountUs},
		{"empty range", testClipAmountUs, testClipAmountUs, 0},
		{"start at end", testPeriodDurationUs, models.TimeEndOfSource, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := models.SinglePeriodTimeline(testPeriodDurationUs, true, nil)

			clipped, err := Clip(upstream, tt.startUs, tt.endUs)
			require.NoError(t, err)
			assertDurations(t, clipped, tt.wantUs)

			window, err := clipped.GetWindow(0)
			require.NoError(t, err)
			assert.True(t, window.IsSeekable)
		})
	}
}

func TestClipInvalidRange(t *testing.T) {
	tests := []struct {
		name    string
		startUs int64
		endUs   int64
	}{
		{"start after end", testClipAmountUs * 2, testClipAmountUs},
		{"start after duration", testPeriodDurationUs + 1, models.TimeEndOfSource},
		{"start after clamped end", testPeriodDurationUs + 1, testPeriodDurationUs * 2},
		{"negative start", -1, models.TimeEndOfSource},
		{"negative end", 0, -5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := models.SinglePeriodTimeline(testPeriodDurationUs, true, nil)

			_, err := Clip(upstream, tt.startUs, tt.endUs)
			require.ErrorIs(t, err, ErrInvalidRange)
			assert.Equal(t, "invalid_range", Outcome(err))
		})
	}
}

func TestClipMultiPeriodUnsupported(t *testing.T) {
	multiPeriod, err := models.NewTimeline([]models.WindowSpec{{
		ID:         "w",
		IsSeekable: true,
		Periods: []models.PeriodSpec{
			{ID: "p0", DurationUs: 500_000},
			{ID: "p1", DurationUs: 500_000},
		},
	}})
	require.NoError(t, err)

	tests := []struct {
		name     string
		upstream models.Timeline
	}{
		{"empty", models.EmptyTimeline()},
		{"two windows", fakeTimeline(t, 2, 111)},
		{"two periods", multiPeriod},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Clip(tt.upstream, 0, models.TimeEndOfSource)
			require.ErrorIs(t, err, ErrMultiPeriodUnsupported)
			assert.NotErrorIs(t, err, ErrUnseekable)
		})
	}
}

func TestClipWindowAndPeriodIndices(t *testing.T) {
	upstream := fakeTimeline(t, 1, 111)

	clipped, err := Clip(upstream, testClipAmountUs, testPeriodDurationUs-testClipAmountUs)
	require.NoError(t, err)

	require.Equal(t, 1, clipped.GetWindowCount())
	require.Equal(t, 1, clipped.GetPeriodCount())

	window, err := clipped.GetWindow(0)
	require.NoError(t, err)
	assert.Equal(t, int64(111), window.ID)
	assert.Equal(t, 1, window.PeriodCount())

	tests := []struct {
		mode   models.RepeatMode
		wantOK bool
	}{
		{models.RepeatModeOff, false},
		{models.RepeatModeOne, true},
		{models.RepeatModeAll, true},
	}

	for _, tt := range tests {
		t.Run(tt.mode.String(), func(t *testing.T) {
			prev, ok := clipped.PreviousWindowIndex(0, tt.mode)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, 0, prev)

			next, ok := clipped.NextWindowIndex(0, tt.mode)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, 0, next)
		})
	}
}

func TestClipIsIdempotentForFullRange(t *testing.T) {
	upstreams := []models.Timeline{
		models.SinglePeriodTimeline(testPeriodDurationUs, true, "a"),
		models.SinglePeriodTimeline(testPeriodDurationUs, false, "b"),
		models.SinglePeriodTimeline(models.TimeUnset, false, "c"),
	}

	for _, upstream := range upstreams {
		once, err := Apply(upstream, models.FullRange())
		require.NoError(t, err)
		assert.True(t, once.Equal(upstream))

		twice, err := Apply(once, models.FullRange())
		require.NoError(t, err)
		assert.True(t, twice.Equal(once))
	}
}

func TestClipLeavesUpstreamUntouched(t *testing.T) {
	upstream := models.SinglePeriodTimeline(testPeriodDurationUs, true, 7)
	before := models.SinglePeriodTimeline(testPeriodDurationUs, true, 7)

	_, err := Clip(upstream, testClipAmountUs, models.TimeEndOfSource)
	require.NoError(t, err)
	assert.True(t, upstream.Equal(before))
}

func TestClipPositions(t *testing.T) {
	upstream, err := models.NewTimeline([]models.WindowSpec{{
		ID:                1,
		IsSeekable:        true,
		DefaultPositionUs: 100_000,
		Periods:           []models.PeriodSpec{{ID: 1, DurationUs: testPeriodDurationUs}},
	}})
	require.NoError(t, err)

	tests := []struct {
		name           string
		startUs        int64
		endUs          int64
		wantDefaultUs  int64
		wantPositionUs int64
	}{
		{"default inside range", 50_000, models.TimeEndOfSource, 50_000, 50_000},
		{"default before start", testClipAmountUs, models.TimeEndOfSource, 0, testClipAmountUs},
		{"default after end", 0, 80_000, 80_000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clipped, err := Clip(upstream, tt.startUs, tt.endUs)
			require.NoError(t, err)

			window, err := clipped.GetWindow(0)
			require.NoError(t, err)
			period, err := clipped.GetPeriod(0)
			require.NoError(t, err)

			assert.Equal(t, tt.wantDefaultUs, window.DefaultPositionUs)
			assert.Equal(t, tt.wantPositionUs, window.PositionInFirstPeriodUs)
			assert.Equal(t, -tt.wantPositionUs, period.PositionInWindowUs)
		})
	}
}

func TestClipUnknownDuration(t *testing.T) {
	upstream := models.SinglePeriodTimeline(models.TimeUnset, true, nil)

	clipped, err := Clip(upstream, testClipAmountUs, models.TimeEndOfSource)
	require.NoError(t, err)
	assertDurations(t, clipped, models.TimeUnset)

	clipped, err = Clip(upstream, testClipAmountUs, testPeriodDurationUs)
	require.NoError(t, err)
	assertDurations(t, clipped, testPeriodDurationUs-testClipAmountUs)

	// Without a known duration only the open-ended clip from zero is a no-op.
	unseekable := models.SinglePeriodTimeline(models.TimeUnset, false, nil)
	_, err = Clip(unseekable, 0, testPeriodDurationUs)
	require.ErrorIs(t, err, ErrUnseekable)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, "ok", Outcome(nil))
	assert.Equal(t, "unseekable", Outcome(ErrUnseekable))
	assert.Equal(t, "multi_period_unsupported", Outcome(ErrMultiPeriodUnsupported))
	assert.Equal(t, "error", Outcome(errors.New("boom")))
}

func TestIsNoOp(t *testing.T) {
	assert.True(t, IsNoOp(models.FullRange(), models.TimeUnset))
	assert.True(t, IsNoOp(models.ClipBounds{StartUs: 0, EndUs: 10}, 10))
	assert.True(t, IsNoOp(models.ClipBounds{StartUs: 0, EndUs: 20}, 10))
	assert.False(t, IsNoOp(models.ClipBounds{StartUs: 0, EndUs: 9}, 10))
	assert.False(t, IsNoOp(models.ClipBounds{StartUs: 1, EndUs: models.TimeEndOfSource}, 10))
}
