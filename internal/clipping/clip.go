// Package clipping derives timelines restricted to a sub-range of an upstream
// single-window, single-period timeline.
package clipping

import (
	"strconv"

	"rapidclip/pkg/models"
)

// Clip returns a timeline covering [startUs, endUs) of upstream's only window.
// endUs may be models.TimeEndOfSource to keep everything after startUs; an end
// beyond the window duration is clamped to it.
//
// A clip that keeps the whole window always succeeds. Any other clip of an
// unseekable window fails with ErrUnseekable. The upstream timeline is not
// modified; the result carries its ids and seekability.
func Clip(upstream models.Timeline, startUs, endUs int64) (models.Timeline, error) {
	if upstream.GetWindowCount() != 1 || upstream.GetPeriodCount() != 1 {
		return models.Timeline{}, newError(ReasonMultiPeriodUnsupported, startUs, endUs, models.TimeUnset,
			"clipping supports a single window with a single period, got %d windows and %d periods",
			upstream.GetWindowCount(), upstream.GetPeriodCount())
	}

	window, err := upstream.GetWindow(0)
	if err != nil {
		return models.Timeline{}, err
	}
	period, err := upstream.GetPeriod(0)
	if err != nil {
		return models.Timeline{}, err
	}
	durationUs := window.DurationUs

	if startUs < 0 {
		return models.Timeline{}, newError(ReasonInvalidRange, startUs, endUs, durationUs,
			"clip start %d is negative", startUs)
	}
	if endUs != models.TimeEndOfSource && endUs < 0 {
		return models.Timeline{}, newError(ReasonInvalidRange, startUs, endUs, durationUs,
			"clip end %d is negative", endUs)
	}

	if !isFullRange(startUs, endUs, durationUs) && !window.IsSeekable {
		return models.Timeline{}, newError(ReasonUnseekable, startUs, endUs, durationUs,
			"cannot clip [%d, %s) of an unseekable window", startUs, formatEnd(endUs))
	}

	resolvedEndUs := resolveEnd(endUs, durationUs)
	if resolvedEndUs != models.TimeUnset && startUs > resolvedEndUs {
		return models.Timeline{}, newError(ReasonInvalidRange, startUs, endUs, durationUs,
			"clip start %d is after resolved end %d", startUs, resolvedEndUs)
	}

	clippedDurationUs := models.TimeUnset
	if resolvedEndUs != models.TimeUnset {
		clippedDurationUs = resolvedEndUs - startUs
	}

	clippedWindow := window
	clippedWindow.DurationUs = clippedDurationUs
	clippedWindow.PositionInFirstPeriodUs = window.PositionInFirstPeriodUs + startUs
	if window.DefaultPositionUs != models.TimeUnset {
		position := max(window.DefaultPositionUs, startUs)
		if resolvedEndUs != models.TimeUnset {
			position = min(position, resolvedEndUs)
		}
		clippedWindow.DefaultPositionUs = position - startUs
	}

	clippedPeriod := period
	clippedPeriod.DurationUs = clippedDurationUs
	clippedPeriod.PositionInWindowUs = -clippedWindow.PositionInFirstPeriodUs

	return models.NewTimelineFromParts([]models.Window{clippedWindow}, []models.Period{clippedPeriod})
}

// Apply clips upstream to bounds
func Apply(upstream models.Timeline, bounds models.ClipBounds) (models.Timeline, error) {
	return Clip(upstream, bounds.StartUs, bounds.EndUs)
}

// IsNoOp reports whether bounds keep the whole of a window lasting durationUs
func IsNoOp(bounds models.ClipBounds, durationUs int64) bool {
	return isFullRange(bounds.StartUs, bounds.EndUs, durationUs)
}

func isFullRange(startUs, endUs, durationUs int64) bool {
	if startUs != 0 {
		return false
	}
	if endUs == models.TimeEndOfSource {
		return true
	}
	return durationUs != models.TimeUnset && endUs >= durationUs
}

// resolveEnd clamps endUs to the window; an unknown window duration leaves it unclamped
func resolveEnd(endUs, durationUs int64) int64 {
	if endUs == models.TimeEndOfSource {
		return durationUs
	}
	if durationUs == models.TimeUnset {
		return endUs
	}
	return min(endUs, durationUs)
}

func formatEnd(endUs int64) string {
	if endUs == models.TimeEndOfSource {
		return "end"
	}
	return strconv.FormatInt(endUs, 10)
}
