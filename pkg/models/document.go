package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
)

// TimelineDocument is the JSON form of a Timeline used by the HTTP API and
// snapshot storage. Unknown durations and positions are omitted.
type TimelineDocument struct {
	Windows []WindowDocument `json:"windows"`
}

// WindowDocument is the JSON form of a Window and its periods.
type WindowDocument struct {
	ID                      any              `json:"id,omitempty"`
	IsSeekable              bool             `json:"isSeekable"`
	DurationUs              *int64           `json:"durationUs,omitempty"` // Derived from periods when omitted
	DefaultPositionUs       *int64           `json:"defaultPositionUs,omitempty"`
	PositionInFirstPeriodUs int64            `json:"positionInFirstPeriodUs,omitempty"`
	Periods                 []PeriodDocument `json:"periods"`
}

// PeriodDocument is the JSON form of a Period.
type PeriodDocument struct {
	ID                 any    `json:"id,omitempty"`
	DurationUs         *int64 `json:"durationUs,omitempty"`
	PositionInWindowUs *int64 `json:"positionInWindowUs,omitempty"` // Laid out back to back when omitted
}

// Document converts the timeline into its JSON form
func (t Timeline) Document() TimelineDocument {
	doc := TimelineDocument{Windows: make([]WindowDocument, 0, len(t.windows))}
	for _, w := range t.windows {
		wd := WindowDocument{
			ID:                      w.ID,
			IsSeekable:              w.IsSeekable,
			DurationUs:              knownOrNil(w.DurationUs),
			DefaultPositionUs:       knownOrNil(w.DefaultPositionUs),
			PositionInFirstPeriodUs: w.PositionInFirstPeriodUs,
			Periods:                 make([]PeriodDocument, 0, w.PeriodCount()),
		}
		for _, p := range t.periods[w.FirstPeriodIndex : w.LastPeriodIndex+1] {
			position := p.PositionInWindowUs
			wd.Periods = append(wd.Periods, PeriodDocument{
				ID:                 p.ID,
				DurationUs:         knownOrNil(p.DurationUs),
				PositionInWindowUs: &position,
			})
		}
		doc.Windows = append(doc.Windows, wd)
	}
	return doc
}

// Timeline builds a timeline from the document
func (d TimelineDocument) Timeline() (Timeline, error) {
	windows := make([]Window, 0, len(d.Windows))
	var periods []Period

	for wi, wd := range d.Windows {
		if len(wd.Periods) == 0 {
			return Timeline{}, fmt.Errorf("window %d has no periods", wi)
		}

		windowID, err := NormalizeID(wd.ID)
		if err != nil {
			return Timeline{}, fmt.Errorf("window %d: %w", wi, err)
		}
		w := Window{
			ID:                      windowID,
			IsSeekable:              wd.IsSeekable,
			DefaultPositionUs:       valueOrUnset(wd.DefaultPositionUs),
			PositionInFirstPeriodUs: wd.PositionInFirstPeriodUs,
			FirstPeriodIndex:        len(periods),
			LastPeriodIndex:         len(periods) + len(wd.Periods) - 1,
		}

		position := -wd.PositionInFirstPeriodUs
		for pi, pd := range wd.Periods {
			duration := valueOrUnset(pd.DurationUs)
			if duration < 0 && duration != TimeUnset {
				return Timeline{}, fmt.Errorf("window %d period %d has negative duration %d", wi, pi, duration)
			}
			periodID, err := NormalizeID(pd.ID)
			if err != nil {
				return Timeline{}, fmt.Errorf("window %d period %d: %w", wi, pi, err)
			}
			p := Period{
				ID:          periodID,
				WindowIndex: wi,
				DurationUs:  duration,
			}
			if pd.PositionInWindowUs != nil {
				position = *pd.PositionInWindowUs
			}
			p.PositionInWindowUs = position
			if position != TimeUnset && duration != TimeUnset {
				position += duration
			} else {
				position = TimeUnset
			}
			periods = append(periods, p)
		}

		if wd.DurationUs != nil {
			w.DurationUs = *wd.DurationUs
		} else {
			w.DurationUs = expectedWindowDuration(w, periods)
		}
		if w.DurationUs < 0 && w.DurationUs != TimeUnset {
			return Timeline{}, fmt.Errorf("window %d has negative duration %d", wi, w.DurationUs)
		}

		windows = append(windows, w)
	}

	return NewTimelineFromParts(windows, periods)
}

// MarshalJSON encodes the timeline as a TimelineDocument
func (t Timeline) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Document())
}

// UnmarshalJSON decodes a TimelineDocument. Integral ids decode as int64.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc TimelineDocument
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode timeline: %w", err)
	}

	parsed, err := doc.Timeline()
	if err != nil {
		return fmt.Errorf("invalid timeline: %w", err)
	}
	*t = parsed
	return nil
}

func sumDurations(periods []Period, positionInFirstPeriodUs int64) int64 {
	total := -positionInFirstPeriodUs
	windowIndex := -1
	for _, p := range periods {
		if windowIndex == -1 {
			windowIndex = p.WindowIndex
		}
		if p.WindowIndex != windowIndex {
			break
		}
		if p.DurationUs == TimeUnset {
			return TimeUnset
		}
		total += p.DurationUs
	}
	return total
}

func knownOrNil(v int64) *int64 {
	if v == TimeUnset {
		return nil
	}
	return &v
}

func valueOrUnset(v *int64) int64 {
	if v == nil {
		return TimeUnset
	}
	return *v
}

// NormalizeID turns an id into the comparable form timelines store: integers
// become int64, integral floats become int64 and other floats float64, so an id
// compares equal after a JSON round trip. Strings, booleans and nil are kept.
// Any other type is rejected.
func NormalizeID(id any) (any, error) {
	switch v := id.(type) {
	case nil, string, bool:
		return v, nil
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return normalizeUint(uint64(v)), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		return normalizeUint(v), nil
	case float32:
		return normalizeFloat(float64(v)), nil
	case float64:
		return normalizeFloat(v), nil
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		if f, err := v.Float64(); err == nil {
			return normalizeFloat(f), nil
		}
		return v.String(), nil
	default:
		return nil, fmt.Errorf("id must be a string, number or boolean, got %T", id)
	}
}

func normalizeUint(v uint64) any {
	if v <= math.MaxInt64 {
		return int64(v)
	}
	return float64(v)
}

func normalizeFloat(v float64) any {
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return int64(v)
	}
	return v
}
