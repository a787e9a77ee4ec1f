package models

import (
	"errors"
	"fmt"
	"math"
)

const (
	// TimeUnset marks a duration or position that is not known.
	TimeUnset int64 = math.MinInt64 + 1

	// TimeEndOfSource is the clip end bound meaning "keep everything up to the end".
	TimeEndOfSource int64 = math.MinInt64
)

// ErrIndexOutOfRange is returned by window and period lookups given an invalid index.
var ErrIndexOutOfRange = errors.New("index out of range")

// Window is one user-navigable segment of content.
type Window struct {
	ID                      any   // Comparable tag identifying the window
	DurationUs              int64 // Playable duration, or TimeUnset
	DefaultPositionUs       int64 // Default start position within the window, or TimeUnset
	PositionInFirstPeriodUs int64 // Offset of the window start inside its first period
	IsSeekable              bool  // Whether arbitrary positions can be seeked to
	FirstPeriodIndex        int   // Index of the window's first period in the timeline
	LastPeriodIndex         int   // Index of the window's last period in the timeline
}

// PeriodCount returns the number of periods the window spans
func (w Window) PeriodCount() int {
	return w.LastPeriodIndex - w.FirstPeriodIndex + 1
}

// Period is one contiguous decodable unit inside a window.
type Period struct {
	ID                 any   // Comparable tag identifying the period
	WindowIndex        int   // Index of the owning window
	DurationUs         int64 // Duration of the period, or TimeUnset
	PositionInWindowUs int64 // Start of the period relative to the start of its window
}

// PeriodSpec describes a period when building a timeline with NewTimeline.
type PeriodSpec struct {
	ID         any
	DurationUs int64
}

// WindowSpec describes a window when building a timeline with NewTimeline.
type WindowSpec struct {
	ID                any
	IsSeekable        bool
	DefaultPositionUs int64
	Periods           []PeriodSpec
}

// Timeline is an immutable, ordered sequence of windows, each owning an
// ordered run of periods. The zero value is an empty timeline.
type Timeline struct {
	windows []Window
	periods []Period
}

// EmptyTimeline returns a timeline with no windows and no periods.
func EmptyTimeline() Timeline {
	return Timeline{}
}

// SinglePeriodTimeline returns a timeline with one window holding one period.
// The window and the period share the given id. Ids that are not strings,
// numbers or booleans are stored in their fmt.Sprint form.
func SinglePeriodTimeline(durationUs int64, isSeekable bool, id any) Timeline {
	if normalized, err := NormalizeID(id); err == nil {
		id = normalized
	} else {
		id = fmt.Sprint(id)
	}
	return Timeline{
		windows: []Window{{
			ID:                id,
			DurationUs:        durationUs,
			DefaultPositionUs: 0,
			IsSeekable:        isSeekable,
		}},
		periods: []Period{{
			ID:         id,
			DurationUs: durationUs,
		}},
	}
}

// NewTimeline lays out windows back to back. A window's duration is the sum of
// its period durations, or TimeUnset if any period duration is unknown.
func NewTimeline(specs []WindowSpec) (Timeline, error) {
	var t Timeline
	for wi, spec := range specs {
		if len(spec.Periods) == 0 {
			return Timeline{}, fmt.Errorf("window %d has no periods", wi)
		}

		windowID, err := NormalizeID(spec.ID)
		if err != nil {
			return Timeline{}, fmt.Errorf("window %d: %w", wi, err)
		}
		w := Window{
			ID:                windowID,
			DefaultPositionUs: spec.DefaultPositionUs,
			IsSeekable:        spec.IsSeekable,
			FirstPeriodIndex:  len(t.periods),
			LastPeriodIndex:   len(t.periods) + len(spec.Periods) - 1,
		}

		var position int64
		for pi, ps := range spec.Periods {
			if ps.DurationUs < 0 && ps.DurationUs != TimeUnset {
				return Timeline{}, fmt.Errorf("window %d period %d has negative duration %d", wi, pi, ps.DurationUs)
			}
			periodID, err := NormalizeID(ps.ID)
			if err != nil {
				return Timeline{}, fmt.Errorf("window %d period %d: %w", wi, pi, err)
			}
			t.periods = append(t.periods, Period{
				ID:                 periodID,
				WindowIndex:        wi,
				DurationUs:         ps.DurationUs,
				PositionInWindowUs: position,
			})
			if position != TimeUnset && ps.DurationUs != TimeUnset {
				position += ps.DurationUs
			} else {
				position = TimeUnset
			}
		}
		w.DurationUs = position

		t.windows = append(t.windows, w)
	}
	return t, nil
}

// NewTimelineFromParts assembles a timeline from fully specified windows and
// periods, checking that the window/period index ranges agree and that known
// window durations match their periods.
func NewTimelineFromParts(windows []Window, periods []Period) (Timeline, error) {
	windows = append([]Window(nil), windows...)
	periods = append([]Period(nil), periods...)

	for pi := range periods {
		id, err := NormalizeID(periods[pi].ID)
		if err != nil {
			return Timeline{}, fmt.Errorf("period %d: %w", pi, err)
		}
		periods[pi].ID = id
	}

	next := 0
	for wi := range windows {
		id, err := NormalizeID(windows[wi].ID)
		if err != nil {
			return Timeline{}, fmt.Errorf("window %d: %w", wi, err)
		}
		windows[wi].ID = id
		w := windows[wi]

		if w.FirstPeriodIndex != next || w.LastPeriodIndex < w.FirstPeriodIndex {
			return Timeline{}, fmt.Errorf("window %d covers periods [%d, %d], expected to start at %d",
				wi, w.FirstPeriodIndex, w.LastPeriodIndex, next)
		}
		if w.LastPeriodIndex >= len(periods) {
			return Timeline{}, fmt.Errorf("window %d ends at period %d of %d", wi, w.LastPeriodIndex, len(periods))
		}
		for pi := w.FirstPeriodIndex; pi <= w.LastPeriodIndex; pi++ {
			if periods[pi].WindowIndex != wi {
				return Timeline{}, fmt.Errorf("period %d belongs to window %d, expected %d", pi, periods[pi].WindowIndex, wi)
			}
		}
		if expected := expectedWindowDuration(w, periods); w.DurationUs != TimeUnset && expected != TimeUnset && w.DurationUs != expected {
			return Timeline{}, fmt.Errorf("window %d duration %d does not match its periods (%d)", wi, w.DurationUs, expected)
		}
		next = w.LastPeriodIndex + 1
	}
	if next != len(periods) {
		return Timeline{}, fmt.Errorf("%d periods are not owned by any window", len(periods)-next)
	}

	return Timeline{windows: windows, periods: periods}, nil
}

// expectedWindowDuration is the duration a window's periods imply: the period
// duration for a single-period window, otherwise the summed period durations
// minus the offset into the first period.
func expectedWindowDuration(w Window, periods []Period) int64 {
	owned := periods[w.FirstPeriodIndex : w.LastPeriodIndex+1]
	if len(owned) == 1 {
		return owned[0].DurationUs
	}
	return sumDurations(owned, w.PositionInFirstPeriodUs)
}

// GetWindowCount returns the number of windows
func (t Timeline) GetWindowCount() int {
	return len(t.windows)
}

// GetPeriodCount returns the number of periods across all windows
func (t Timeline) GetPeriodCount() int {
	return len(t.periods)
}

// IsEmpty reports whether the timeline has no windows
func (t Timeline) IsEmpty() bool {
	return len(t.windows) == 0
}

// GetWindow returns the window at index
func (t Timeline) GetWindow(index int) (Window, error) {
	if index < 0 || index >= len(t.windows) {
		return Window{}, fmt.Errorf("window %d of %d: %w", index, len(t.windows), ErrIndexOutOfRange)
	}
	return t.windows[index], nil
}

// GetPeriod returns the period at index
func (t Timeline) GetPeriod(index int) (Period, error) {
	if index < 0 || index >= len(t.periods) {
		return Period{}, fmt.Errorf("period %d of %d: %w", index, len(t.periods), ErrIndexOutOfRange)
	}
	return t.periods[index], nil
}

// FirstWindowIndex returns the index of the first window, if any
func (t Timeline) FirstWindowIndex() (int, bool) {
	if t.IsEmpty() {
		return 0, false
	}
	return 0, true
}

// LastWindowIndex returns the index of the last window, if any
func (t Timeline) LastWindowIndex() (int, bool) {
	if t.IsEmpty() {
		return 0, false
	}
	return len(t.windows) - 1, true
}

// NextWindowIndex returns the window played after windowIndex under mode.
// The second result is false when there is none.
func (t Timeline) NextWindowIndex(windowIndex int, mode RepeatMode) (int, bool) {
	return nextWindowIndex(windowIndex, mode, len(t.windows))
}

// PreviousWindowIndex returns the window played before windowIndex under mode.
// The second result is false when there is none.
func (t Timeline) PreviousWindowIndex(windowIndex int, mode RepeatMode) (int, bool) {
	return previousWindowIndex(windowIndex, mode, len(t.windows))
}

// NextPeriodIndex returns the period played after periodIndex under mode,
// crossing into the next window's first period at a window boundary.
func (t Timeline) NextPeriodIndex(periodIndex int, mode RepeatMode) (int, bool) {
	if periodIndex < 0 || periodIndex >= len(t.periods) {
		return 0, false
	}
	windowIndex := t.periods[periodIndex].WindowIndex
	if t.windows[windowIndex].LastPeriodIndex != periodIndex {
		return periodIndex + 1, true
	}
	next, ok := t.NextWindowIndex(windowIndex, mode)
	if !ok {
		return 0, false
	}
	return t.windows[next].FirstPeriodIndex, true
}

// IsLastPeriod reports whether nothing plays after periodIndex under mode
func (t Timeline) IsLastPeriod(periodIndex int, mode RepeatMode) bool {
	_, ok := t.NextPeriodIndex(periodIndex, mode)
	return !ok
}

// IndexOfPeriod returns the index of the first period whose ID equals id
func (t Timeline) IndexOfPeriod(id any) (int, bool) {
	id, err := NormalizeID(id)
	if err != nil {
		return 0, false
	}
	for i, p := range t.periods {
		if p.ID == id {
			return i, true
		}
	}
	return 0, false
}

// Equal reports whether both timelines hold the same windows and periods.
func (t Timeline) Equal(other Timeline) bool {
	if len(t.windows) != len(other.windows) || len(t.periods) != len(other.periods) {
		return false
	}
	for i := range t.windows {
		if t.windows[i] != other.windows[i] {
			return false
		}
	}
	for i := range t.periods {
		if t.periods[i] != other.periods[i] {
			return false
		}
	}
	return true
}

// Windows returns a copy of the timeline's windows
func (t Timeline) Windows() []Window {
	return append([]Window(nil), t.windows...)
}

// Periods returns a copy of the timeline's periods
func (t Timeline) Periods() []Period {
	return append([]Period(nil), t.periods...)
}

// String returns a compact description for logs
func (t Timeline) String() string {
	return fmt.Sprintf("Timeline{windows=%d, periods=%d}", len(t.windows), len(t.periods))
}

func nextWindowIndex(index int, mode RepeatMode, count int) (int, bool) {
	if index < 0 || index >= count {
		return 0, false
	}
	switch mode {
	case RepeatModeOff:
		if index == count-1 {
			return 0, false
		}
		return index + 1, true
	case RepeatModeOne:
		return index, true
	case RepeatModeAll:
		if index == count-1 {
			return 0, true
		}
		return index + 1, true
	default:
		panic(fmt.Sprintf("unknown repeat mode %d", mode))
	}
}

func previousWindowIndex(index int, mode RepeatMode, count int) (int, bool) {
	if index < 0 || index >= count {
		return 0, false
	}
	switch mode {
	case RepeatModeOff:
		if index == 0 {
			return 0, false
		}
		return index - 1, true
	case RepeatModeOne:
		return index, true
	case RepeatModeAll:
		if index == 0 {
			return count - 1, true
		}
		return index - 1, true
	default:
		panic(fmt.Sprintf("unknown repeat mode %d", mode))
	}
}
