package models

import (
	"fmt"
	"strconv"
	"sync"
	"time"
)

// SourceState represents the current state of a media source
type SourceState string

const (
	SourceStatePending  SourceState = "pending"
	SourceStatePrepared SourceState = "prepared"
	SourceStateFailed   SourceState = "failed"
	SourceStateReleased SourceState = "released"
)

// ClipBounds is the [StartUs, EndUs) range a clipping source restricts playback to.
// EndUs may be TimeEndOfSource.
type ClipBounds struct {
	StartUs int64 `json:"startUs"`
	EndUs   int64 `json:"endUs"`
}

// String formats the bounds as a half-open range, printing "end" for TimeEndOfSource
func (b ClipBounds) String() string {
	end := "end"
	if b.EndUs != TimeEndOfSource {
		end = strconv.FormatInt(b.EndUs, 10)
	}
	return fmt.Sprintf("[%d, %s)", b.StartUs, end)
}

// FullRange returns bounds that clip nothing
func FullRange() ClipBounds {
	return ClipBounds{StartUs: 0, EndUs: TimeEndOfSource}
}

// Source is a media source that publishes timelines once they are known.
type Source struct {
	Key         string      // Unique source key
	UpstreamKey string      // Key of the wrapped source (clipping sources only)
	Clip        *ClipBounds // Clip bounds (clipping sources only)
	State       SourceState // Current state
	CreatedAt   time.Time   // When the source was registered
	PreparedAt  time.Time   // When the first timeline was published
	ReleasedAt  *time.Time  // When the source was released (if released)

	// Stats
	Stats SourceStats

	timeline    Timeline
	hasTimeline bool
	err         error
	ready       chan struct{} // Closed once the source is prepared, failed or released

	mu sync.RWMutex // Protects concurrent access
}

// SourceStats tracks source statistics
type SourceStats struct {
	TimelinesPublished uint64    // Total timelines published
	DroppedUpdates     uint64    // Updates dropped because a subscriber was full
	LastPublished      time.Time // Time of the last published timeline
}

// NewSource creates a pending source
func NewSource(key string) *Source {
	return &Source{
		Key:       key,
		State:     SourceStatePending,
		CreatedAt: time.Now(),
		ready:     make(chan struct{}),
	}
}

// SetTimeline stores a newly published timeline and marks the source prepared
func (s *Source) SetTimeline(t Timeline) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.timeline = t
	s.hasTimeline = true
	s.Stats.TimelinesPublished++
	s.Stats.LastPublished = time.Now()

	if s.State == SourceStatePending {
		s.State = SourceStatePrepared
		s.PreparedAt = s.Stats.LastPublished
		s.resolve()
	}
}

// GetTimeline safely returns the current timeline, if one has been published
func (s *Source) GetTimeline() (Timeline, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.timeline, s.hasTimeline
}

// Fail marks the source as permanently failed
func (s *Source) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State == SourceStateReleased {
		return
	}
	s.State = SourceStateFailed
	s.err = err
	s.resolve()
}

// Err returns the error that failed the source, if any
func (s *Source) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Release marks the source as released
func (s *Source) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.State = SourceStateReleased
	s.ReleasedAt = &now
	s.resolve()
}

// GetState safely returns the current source state
func (s *Source) GetState() SourceState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.State
}

// GetPreparedAt returns when the first timeline was published (zero while pending)
func (s *Source) GetPreparedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.PreparedAt
}

// GetStats safely returns a copy of the source statistics
func (s *Source) GetStats() SourceStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Stats
}

// IncrementDroppedUpdates increments the dropped updates counter
func (s *Source) IncrementDroppedUpdates() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Stats.DroppedUpdates++
}

// Ready returns a channel closed once the source leaves the pending state
func (s *Source) Ready() <-chan struct{} {
	return s.ready
}

// resolve closes the ready channel once; callers hold s.mu
func (s *Source) resolve() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}
