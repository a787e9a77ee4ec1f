// Package probe builds upstream timelines from media container headers.
package probe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Eyevinn/dash-mpd/mpd"
	"github.com/Eyevinn/mp4ff/mp4"

	"rapidclip/pkg/models"
)

var (
	// ErrLive is returned for presentations without a fixed timeline
	ErrLive = errors.New("live presentation")

	// ErrUnsupportedFormat is returned for unknown file extensions
	ErrUnsupportedFormat = errors.New("unsupported media format")
)

// ProbeFile opens path and probes it according to its extension.
// The window id is the file's base name.
func ProbeFile(path string) (models.Timeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.Timeline{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	id := filepath.Base(path)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".m4v", ".m4a", ".mov", ".ismv", ".cmfv":
		return ProbeMP4(f, id)
	case ".mpd":
		return ProbeMPD(f, id)
	default:
		return models.Timeline{}, fmt.Errorf("%s: %w", path, ErrUnsupportedFormat)
	}
}

// ProbeMP4 reads the movie header of an MP4 file. The result has one window
// and one period. A zero duration is reported as unknown. Fragmented files are
// seekable only when they carry a movie fragment random access box.
func ProbeMP4(r io.Reader, id any) (models.Timeline, error) {
	f, err := mp4.DecodeFile(r)
	if err != nil {
		return models.Timeline{}, fmt.Errorf("failed to decode mp4: %w", err)
	}
	if f.Moov == nil || f.Moov.Mvhd == nil {
		return models.Timeline{}, fmt.Errorf("mp4 has no movie header")
	}

	mvhd := f.Moov.Mvhd
	duration := mvhd.Duration
	if duration == 0 && f.Moov.Mvex != nil && f.Moov.Mvex.Mehd != nil {
		duration = uint64(f.Moov.Mvex.Mehd.FragmentDuration)
	}

	durationUs := models.TimeUnset
	if duration > 0 && mvhd.Timescale > 0 {
		durationUs = scaleToMicros(duration, uint64(mvhd.Timescale))
	}

	seekable := !f.IsFragmented() || f.Mfra != nil

	return models.SinglePeriodTimeline(durationUs, seekable, id), nil
}

// ProbeMPD reads a static DASH manifest. The result has one seekable window
// with one period per Period element.
func ProbeMPD(r io.Reader, id any) (models.Timeline, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return models.Timeline{}, fmt.Errorf("failed to read mpd: %w", err)
	}

	manifest, err := mpd.ReadFromString(string(data))
	if err != nil {
		return models.Timeline{}, fmt.Errorf("failed to parse mpd: %w", err)
	}

	if manifest.Type != nil && *manifest.Type == "dynamic" {
		return models.Timeline{}, fmt.Errorf("dynamic mpd: %w", ErrLive)
	}
	if len(manifest.Periods) == 0 {
		return models.Timeline{}, fmt.Errorf("mpd has no periods")
	}

	total := models.TimeUnset
	if manifest.MediaPresentationDuration != nil {
		total = micros(*manifest.MediaPresentationDuration)
	}

	periods := make([]models.PeriodSpec, 0, len(manifest.Periods))
	var start int64
	for i, p := range manifest.Periods {
		if p.Start != nil {
			start = micros(*p.Start)
		}

		durationUs := models.TimeUnset
		switch {
		case p.Duration != nil:
			durationUs = micros(*p.Duration)
		case i+1 < len(manifest.Periods) && manifest.Periods[i+1].Start != nil:
			durationUs = micros(*manifest.Periods[i+1].Start) - start
		case i+1 == len(manifest.Periods) && total != models.TimeUnset:
			durationUs = total - start
		}
		if durationUs < 0 && durationUs != models.TimeUnset {
			return models.Timeline{}, fmt.Errorf("period %d has negative duration", i)
		}

		var periodID any = p.Id
		if p.Id == "" {
			periodID = fmt.Sprintf("p%d", i)
		}
		periods = append(periods, models.PeriodSpec{ID: periodID, DurationUs: durationUs})

		if durationUs != models.TimeUnset {
			start += durationUs
		}
	}

	return models.NewTimeline([]models.WindowSpec{{
		ID:                id,
		IsSeekable:        true,
		DefaultPositionUs: 0,
		Periods:           periods,
	}})
}

func micros(d mpd.Duration) int64 {
	return time.Duration(d).Microseconds()
}

// scaleToMicros converts a duration in timescale units without overflowing
func scaleToMicros(duration, timescale uint64) int64 {
	whole := duration / timescale
	rest := duration % timescale
	return int64(whole*1_000_000 + rest*1_000_000/timescale)
}
