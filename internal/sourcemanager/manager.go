package sourcemanager

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"sync"

	"github.com/google/uuid"

	"rapidclip/internal/clipping"
	"rapidclip/internal/metrics"
	"rapidclip/pkg/models"
)

var (
	// ErrSourceNotFound is returned for unknown source keys
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceExists is returned when registering a key that is already in use
	ErrSourceExists = errors.New("source already exists")

	// ErrTooManySources is returned when the source limit is reached
	ErrTooManySources = errors.New("too many sources")

	// ErrSourceClosed is returned when publishing to a failed or released source
	ErrSourceClosed = errors.New("source is failed or released")

	// ErrInvalidSourceKey is returned for keys outside [A-Za-z0-9_-]{1,128}
	ErrInvalidSourceKey = errors.New("invalid source key")
)

// Source keys name storage directories and URL path segments
var validSourceKey = regexp.MustCompile(`^[A-Za-z0-9_-]{1,128}$`)

// Manager handles source lifecycle and maintains in-memory registry
type Manager struct {
	sources    map[string]*models.Source // sourceKey -> Source
	clippers   map[string]func()         // clipping sourceKey -> upstream unsubscribe
	mu         sync.RWMutex
	maxSources int

	// Channels for pub/sub
	subscribers map[string][]chan models.Timeline // sourceKey -> list of subscriber channels
	subMu       sync.RWMutex
	publishMu   sync.Mutex

	metrics *metrics.Metrics
}

// New creates a new source manager. maxSources <= 0 means unlimited.
func New(m *metrics.Metrics, maxSources int) *Manager {
	return &Manager{
		sources:     make(map[string]*models.Source),
		clippers:    make(map[string]func()),
		maxSources:  maxSources,
		subscribers: make(map[string][]chan models.Timeline),
		metrics:     m,
	}
}

// CreateSource registers a pending source. An empty key gets a generated one.
func (m *Manager) CreateSource(sourceKey string) (*models.Source, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	source, err := m.registerLocked(sourceKey)
	if err != nil {
		return nil, err
	}

	m.metrics.RecordSourceCreated(false)
	log.Printf("Created source %s", source.Key)
	return source, nil
}

// CreateClippingSource registers a source that publishes upstreamKey's timelines
// clipped to bounds. If the upstream is already prepared the clip is applied
// immediately and a clipping error is returned without registering anything.
// Later clipping errors fail the source permanently.
func (m *Manager) CreateClippingSource(sourceKey, upstreamKey string, bounds models.ClipBounds, bufferSize int) (*models.Source, error) {
	// Subscribe before looking the upstream up so a concurrent release always
	// closes the subscription
	updates, unsubscribe := m.Subscribe(upstreamKey, bufferSize)

	upstream, exists := m.GetSource(upstreamKey)
	if !exists {
		unsubscribe()
		return nil, fmt.Errorf("upstream %s: %w", upstreamKey, ErrSourceNotFound)
	}

	var initial *models.Timeline
	if current, ok := upstream.GetTimeline(); ok {
		clipped, err := m.clip(current, bounds)
		if err != nil {
			unsubscribe()
			return nil, err
		}
		initial = &clipped
	}

	m.mu.Lock()
	source, err := m.registerLocked(sourceKey)
	if err != nil {
		m.mu.Unlock()
		unsubscribe()
		return nil, err
	}
	source.UpstreamKey = upstreamKey
	clip := bounds
	source.Clip = &clip
	m.clippers[source.Key] = unsubscribe
	m.mu.Unlock()

	m.metrics.RecordSourceCreated(true)
	log.Printf("Created clipping source %s over %s %s", source.Key, upstreamKey, bounds)

	if initial != nil {
		if err := m.PublishTimeline(source.Key, *initial); err != nil {
			log.Printf("Failed to publish initial timeline for source %s: %v", source.Key, err)
		}
	}

	go m.processUpstream(source, upstream, bounds, updates)

	return source, nil
}

// processUpstream re-clips the upstream's current timeline whenever it signals
// an update, until the subscription closes or a clip fails. Reading the current
// timeline means coalesced updates never leave the clip behind its upstream.
func (m *Manager) processUpstream(source, upstream *models.Source, bounds models.ClipBounds, updates <-chan models.Timeline) {
	for range updates {
		current, ok := upstream.GetTimeline()
		if !ok {
			continue
		}

		clipped, err := m.clip(current, bounds)
		if err != nil {
			m.failSource(source, err)
			return
		}

		if err := m.PublishTimeline(source.Key, clipped); err != nil {
			log.Printf("Stopped clipping for source %s: %v", source.Key, err)
			return
		}
	}

	// The upstream went away; a clip that never prepared cannot prepare now
	if _, ok := source.GetTimeline(); ok {
		return
	}
	if registered, exists := m.GetSource(source.Key); !exists || registered != source {
		return
	}
	m.failSource(source, fmt.Errorf("upstream %s released before preparing: %w", source.UpstreamKey, ErrSourceClosed))
}

func (m *Manager) clip(upstream models.Timeline, bounds models.ClipBounds) (models.Timeline, error) {
	clipped, err := clipping.Apply(upstream, bounds)

	durationUs := models.TimeUnset
	if err == nil {
		if w, werr := clipped.GetWindow(0); werr == nil {
			durationUs = w.DurationUs
		}
	}
	m.metrics.RecordClip(clipping.Outcome(err), durationUs)

	return clipped, err
}

func (m *Manager) failSource(source *models.Source, err error) {
	m.metrics.RecordSourceFailed()
	log.Printf("Source %s failed: %v", source.Key, err)
	source.Fail(err)

	m.mu.Lock()
	unsubscribe := m.clippers[source.Key]
	delete(m.clippers, source.Key)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	m.closeSubscribers(source.Key)
}

// registerLocked creates and stores a source; callers hold m.mu
func (m *Manager) registerLocked(sourceKey string) (*models.Source, error) {
	if sourceKey == "" {
		sourceKey = uuid.NewString()
	}
	if !validSourceKey.MatchString(sourceKey) {
		return nil, fmt.Errorf("source %q: %w", sourceKey, ErrInvalidSourceKey)
	}

	if _, exists := m.sources[sourceKey]; exists {
		return nil, fmt.Errorf("source %s: %w", sourceKey, ErrSourceExists)
	}

	if m.maxSources > 0 && len(m.sources) >= m.maxSources {
		return nil, fmt.Errorf("limit of %d reached: %w", m.maxSources, ErrTooManySources)
	}

	source := models.NewSource(sourceKey)
	m.sources[sourceKey] = source
	return source, nil
}

// GetSource retrieves a source by key
func (m *Manager) GetSource(sourceKey string) (*models.Source, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	source, exists := m.sources[sourceKey]
	return source, exists
}

// GetAllSources returns all sources
func (m *Manager) GetAllSources() []*models.Source {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sources := make([]*models.Source, 0, len(m.sources))
	for _, source := range m.sources {
		sources = append(sources, source)
	}

	return sources
}

// GetSourceCount returns the total number of sources
func (m *Manager) GetSourceCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sources)
}

// PublishTimeline stores a new timeline for a source and sends it to all subscribers
func (m *Manager) PublishTimeline(sourceKey string, timeline models.Timeline) error {
	source, exists := m.GetSource(sourceKey)
	if !exists {
		return fmt.Errorf("source %s: %w", sourceKey, ErrSourceNotFound)
	}

	switch source.GetState() {
	case models.SourceStateFailed, models.SourceStateReleased:
		return fmt.Errorf("source %s: %w", sourceKey, ErrSourceClosed)
	}

	// Serialize the store and the fan-out so subscribers see updates in the
	// order the source stored them
	m.publishMu.Lock()
	defer m.publishMu.Unlock()

	source.SetTimeline(timeline)
	m.metrics.RecordTimelinePublished()

	// Hold the read lock while sending so no channel is closed underneath us
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	// Send to all subscribers (non-blocking)
	for _, ch := range m.subscribers[sourceKey] {
		select {
		case ch <- timeline:
			continue
		default:
		}

		// Channel is full, drop the oldest update to make room for the newest
		select {
		case <-ch:
			source.IncrementDroppedUpdates()
			m.metrics.RecordUpdateDropped()
		default:
		}
		select {
		case ch <- timeline:
		default:
			source.IncrementDroppedUpdates()
			m.metrics.RecordUpdateDropped()
		}
	}

	return nil
}

// WaitForTimeline blocks until the source has a timeline, fails, is released
// or ctx is done
func (m *Manager) WaitForTimeline(ctx context.Context, sourceKey string) (models.Timeline, error) {
	source, exists := m.GetSource(sourceKey)
	if !exists {
		return models.Timeline{}, fmt.Errorf("source %s: %w", sourceKey, ErrSourceNotFound)
	}

	select {
	case <-source.Ready():
	case <-ctx.Done():
		return models.Timeline{}, fmt.Errorf("waiting for source %s: %w", sourceKey, ctx.Err())
	}

	if err := source.Err(); err != nil {
		return models.Timeline{}, err
	}
	timeline, ok := source.GetTimeline()
	if !ok {
		return models.Timeline{}, fmt.Errorf("source %s: %w", sourceKey, ErrSourceClosed)
	}
	return timeline, nil
}

// ReleaseSource releases a source and removes it from the registry
func (m *Manager) ReleaseSource(sourceKey string) error {
	m.mu.Lock()
	source, exists := m.sources[sourceKey]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("source %s: %w", sourceKey, ErrSourceNotFound)
	}
	delete(m.sources, sourceKey)
	unsubscribe := m.clippers[sourceKey]
	delete(m.clippers, sourceKey)
	m.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	source.Release()

	// Close all subscriber channels
	m.closeSubscribers(sourceKey)

	m.metrics.RecordSourceReleased()
	log.Printf("Released source %s", sourceKey)
	return nil
}

// Subscribe creates a subscription to a source's timeline updates
// Returns a channel that will receive timelines and a cleanup function.
// A full channel keeps the newest updates and drops the oldest.
func (m *Manager) Subscribe(sourceKey string, bufferSize int) (<-chan models.Timeline, func()) {
	if bufferSize < 1 {
		bufferSize = 1
	}

	m.subMu.Lock()
	defer m.subMu.Unlock()

	// Create subscriber channel
	ch := make(chan models.Timeline, bufferSize)

	// Add to subscribers list
	m.subscribers[sourceKey] = append(m.subscribers[sourceKey], ch)

	// Return cleanup function
	cleanup := func() {
		m.unsubscribe(sourceKey, ch)
	}

	return ch, cleanup
}

// unsubscribe removes a subscriber channel
func (m *Manager) unsubscribe(sourceKey string, ch chan models.Timeline) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subscribers, exists := m.subscribers[sourceKey]
	if !exists {
		return
	}

	// Find and remove the channel
	for i, subCh := range subscribers {
		if subCh == ch {
			m.subscribers[sourceKey] = append(subscribers[:i:i], subscribers[i+1:]...)
			close(ch)
			break
		}
	}

	// Clean up empty subscriber lists
	if len(m.subscribers[sourceKey]) == 0 {
		delete(m.subscribers, sourceKey)
	}
}

// closeSubscribers closes all subscriber channels for a source
func (m *Manager) closeSubscribers(sourceKey string) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subscribers, exists := m.subscribers[sourceKey]
	if !exists {
		return
	}

	// Close all channels
	for _, ch := range subscribers {
		close(ch)
	}

	delete(m.subscribers, sourceKey)
}
