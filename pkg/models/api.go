package models

// CreateSourceRequest registers a source, optionally with its first timeline
type CreateSourceRequest struct {
	Key       string    `json:"key"`
	Timeline  *Timeline `json:"timeline"`
	ExpiresIn int       `json:"expiresIn"` // Seconds until the publish token expires (0 uses the server default)
}

// CreateSourceResponse is returned when a source is registered
type CreateSourceResponse struct {
	Key       string `json:"key"`
	State     string `json:"state"`
	Token     string `json:"token"`
	ExpiresAt string `json:"expiresAt"`
}

// CreateClipRequest wraps an existing source in a clipping source
type CreateClipRequest struct {
	Key     string `json:"key"`
	StartUs int64  `json:"startUs"`
	EndUs   *int64 `json:"endUs"` // Omitted means end of source
}

// ClipRequest clips a timeline without registering anything
type ClipRequest struct {
	Timeline *Timeline `json:"timeline" binding:"required"`
	StartUs  int64     `json:"startUs"`
	EndUs    *int64    `json:"endUs"`
}

// Bounds resolves the request's clip bounds
func (r CreateClipRequest) Bounds() ClipBounds {
	return boundsOf(r.StartUs, r.EndUs)
}

// Bounds resolves the request's clip bounds
func (r ClipRequest) Bounds() ClipBounds {
	return boundsOf(r.StartUs, r.EndUs)
}

func boundsOf(startUs int64, endUs *int64) ClipBounds {
	if endUs == nil {
		return ClipBounds{StartUs: startUs, EndUs: TimeEndOfSource}
	}
	return ClipBounds{StartUs: startUs, EndUs: *endUs}
}

// SourceInfo represents source metadata returned by the API
type SourceInfo struct {
	Key                string      `json:"key"`
	State              string      `json:"state"`
	UpstreamKey        string      `json:"upstreamKey,omitempty"`
	Clip               *ClipBounds `json:"clip,omitempty"`
	CreatedAt          string      `json:"createdAt"`
	PreparedAt         string      `json:"preparedAt,omitempty"`
	WindowCount        int         `json:"windowCount"`
	PeriodCount        int         `json:"periodCount"`
	DurationUs         *int64      `json:"durationUs,omitempty"` // First window duration, when known
	Error              string      `json:"error,omitempty"`
	TimelinesPublished uint64      `json:"timelinesPublished"`
	DroppedUpdates     uint64      `json:"droppedUpdates"`
}

// SourceListResponse represents a list of sources
type SourceListResponse struct {
	Sources []SourceInfo `json:"sources"`
	Total   int          `json:"total"`
}

// NavigationResponse reports the neighbours of a window under a repeat mode
type NavigationResponse struct {
	WindowIndex int    `json:"windowIndex"`
	RepeatMode  string `json:"repeatMode"`
	Previous    *int   `json:"previous"` // null when there is no previous window
	Next        *int   `json:"next"`     // null when there is no next window
}
