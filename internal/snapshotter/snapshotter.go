package snapshotter

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"rapidclip/internal/metrics"
	"rapidclip/internal/sourcemanager"
	"rapidclip/internal/storage"
	"rapidclip/pkg/models"
)

var (
	// ErrNotTracking is returned for sources without snapshot history
	ErrNotTracking = errors.New("source is not tracked")

	// ErrAlreadyTracking is returned when tracking a source twice
	ErrAlreadyTracking = errors.New("source is already tracked")

	// ErrRevisionNotFound is returned for revisions outside the retained window
	ErrRevisionNotFound = errors.New("revision not found")
)

const (
	snapshotPrefix = "timeline_"
	snapshotSuffix = ".json"
)

// Snapshotter persists every timeline a source publishes
type Snapshotter struct {
	storage       storage.Storage
	sourceManager *sourcemanager.Manager
	trackers      map[string]*Tracker
	mu            sync.RWMutex
	metrics       *metrics.Metrics

	// Config
	maxRevisions int
	bufferSize   int
}

// New creates a new snapshotter keeping the last maxRevisions snapshots per source
func New(store storage.Storage, sourceManager *sourcemanager.Manager, maxRevisions, bufferSize int, m *metrics.Metrics) *Snapshotter {
	if maxRevisions < 1 {
		maxRevisions = 1
	}
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Snapshotter{
		storage:       store,
		sourceManager: sourceManager,
		trackers:      make(map[string]*Tracker),
		metrics:       m,
		maxRevisions:  maxRevisions,
		bufferSize:    bufferSize,
	}
}

// StartTracking starts writing snapshots for a source. Revisions already in
// storage for the key are picked up and numbering continues after them.
func (s *Snapshotter) StartTracking(sourceKey string) error {
	source, exists := s.sourceManager.GetSource(sourceKey)
	if !exists {
		return fmt.Errorf("source %s: %w", sourceKey, sourcemanager.ErrSourceNotFound)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if t, exists := s.trackers[sourceKey]; exists && !t.stopped() {
		return fmt.Errorf("source %s: %w", sourceKey, ErrAlreadyTracking)
	}

	t := &Tracker{
		sourceKey:   sourceKey,
		snapshotter: s,
		snapshots:   make([]models.Snapshot, 0, s.maxRevisions+1),
		done:        make(chan struct{}),
	}
	if err := t.loadExisting(); err != nil {
		return err
	}

	// Subscribe before reading the current timeline so no update is missed
	updates, cleanup := s.sourceManager.Subscribe(sourceKey, s.bufferSize)
	t.cleanup = cleanup

	if current, ok := source.GetTimeline(); ok {
		t.write(current)
	}

	s.trackers[sourceKey] = t
	go t.processTimelines(updates)

	log.Printf("Started snapshots for source %s", sourceKey)
	return nil
}

// StopTracking stops writing snapshots for a source. Written snapshots stay readable.
func (s *Snapshotter) StopTracking(sourceKey string) {
	s.mu.RLock()
	t, exists := s.trackers[sourceKey]
	s.mu.RUnlock()
	if !exists {
		return
	}

	if t.cleanup != nil {
		t.cleanup()
	}
	<-t.done

	log.Printf("Stopped snapshots for source %s", sourceKey)
}

// Forget stops tracking and drops the in-memory history of a source
func (s *Snapshotter) Forget(sourceKey string) {
	s.StopTracking(sourceKey)

	s.mu.Lock()
	delete(s.trackers, sourceKey)
	s.mu.Unlock()
}

// ListRevisions returns the retained snapshots of a source, oldest first
func (s *Snapshotter) ListRevisions(sourceKey string) ([]models.Snapshot, error) {
	t, err := s.tracker(sourceKey)
	if err != nil {
		return nil, err
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	snapshots := make([]models.Snapshot, len(t.snapshots))
	copy(snapshots, t.snapshots)
	return snapshots, nil
}

// GetRevision reads one retained snapshot
func (s *Snapshotter) GetRevision(sourceKey string, revision uint64) (models.Snapshot, models.Timeline, error) {
	t, err := s.tracker(sourceKey)
	if err != nil {
		return models.Snapshot{}, models.Timeline{}, err
	}

	t.mu.RLock()
	var snapshot *models.Snapshot
	for i := range t.snapshots {
		if t.snapshots[i].Revision == revision {
			snap := t.snapshots[i]
			snapshot = &snap
			break
		}
	}
	t.mu.RUnlock()

	if snapshot == nil {
		return models.Snapshot{}, models.Timeline{}, fmt.Errorf("source %s revision %d: %w", sourceKey, revision, ErrRevisionNotFound)
	}

	timeline, err := s.readTimeline(snapshot.FilePath)
	if err != nil {
		return models.Snapshot{}, models.Timeline{}, err
	}
	return *snapshot, timeline, nil
}

// GetLatest reads the newest snapshot of a source
func (s *Snapshotter) GetLatest(sourceKey string) (models.Snapshot, models.Timeline, error) {
	t, err := s.tracker(sourceKey)
	if err != nil {
		return models.Snapshot{}, models.Timeline{}, err
	}

	t.mu.RLock()
	if len(t.snapshots) == 0 {
		t.mu.RUnlock()
		return models.Snapshot{}, models.Timeline{}, fmt.Errorf("source %s has no snapshots: %w", sourceKey, ErrRevisionNotFound)
	}
	latest := t.snapshots[len(t.snapshots)-1]
	t.mu.RUnlock()

	timeline, err := s.readTimeline(latest.FilePath)
	if err != nil {
		return models.Snapshot{}, models.Timeline{}, err
	}
	return latest, timeline, nil
}

func (s *Snapshotter) tracker(sourceKey string) (*Tracker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, exists := s.trackers[sourceKey]
	if !exists {
		return nil, fmt.Errorf("source %s: %w", sourceKey, ErrNotTracking)
	}
	return t, nil
}

func (s *Snapshotter) readTimeline(path string) (models.Timeline, error) {
	data, err := s.storage.Read(path)
	if err != nil {
		return models.Timeline{}, fmt.Errorf("failed to read snapshot %s: %w", path, err)
	}

	var timeline models.Timeline
	if err := json.Unmarshal(data, &timeline); err != nil {
		return models.Timeline{}, fmt.Errorf("failed to decode snapshot %s: %w", path, err)
	}
	return timeline, nil
}

// Tracker writes the snapshots of one source
type Tracker struct {
	sourceKey    string
	snapshotter  *Snapshotter
	snapshots    []models.Snapshot
	nextRevision uint64
	last         *models.Timeline
	cleanup      func()
	done         chan struct{}
	mu           sync.RWMutex
}

// processTimelines writes incoming timelines until the subscription closes
func (t *Tracker) processTimelines(updates <-chan models.Timeline) {
	defer close(t.done)

	for timeline := range updates {
		t.write(timeline)
	}
}

func (t *Tracker) stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// loadExisting picks up revisions left in storage by an earlier run, trims
// them to the retention window and remembers the newest timeline so an
// unchanged source is not written again
func (t *Tracker) loadExisting() error {
	store := t.snapshotter.storage

	names, err := store.List(t.sourceKey)
	if err != nil {
		return fmt.Errorf("failed to list snapshots for source %s: %w", t.sourceKey, err)
	}

	revisions := make([]uint64, 0, len(names))
	for _, name := range names {
		if rev, ok := parseSnapshotName(name); ok {
			revisions = append(revisions, rev)
		}
	}
	sort.Slice(revisions, func(i, j int) bool { return revisions[i] < revisions[j] })

	var newest []byte
	for _, rev := range revisions {
		t.nextRevision = rev + 1

		path := snapshotPath(t.sourceKey, rev)
		data, err := store.Read(path)
		if err != nil {
			log.Printf("Skipping snapshot %s: %v", path, err)
			continue
		}
		t.snapshots = append(t.snapshots, models.Snapshot{
			SourceKey: t.sourceKey,
			Revision:  rev,
			FilePath:  path,
			FileSize:  int64(len(data)),
		})
		newest = data
	}

	for len(t.snapshots) > t.snapshotter.maxRevisions {
		old := t.snapshots[0]
		t.snapshots = t.snapshots[1:]
		if err := store.Delete(old.FilePath); err != nil {
			log.Printf("Failed to delete snapshot %d for source %s: %v", old.Revision, t.sourceKey, err)
		}
	}

	if newest != nil {
		var last models.Timeline
		if err := json.Unmarshal(newest, &last); err != nil {
			log.Printf("Ignoring undecodable latest snapshot for source %s: %v", t.sourceKey, err)
		} else {
			t.last = &last
		}
	}

	return nil
}

// write stores a timeline as the next revision unless it repeats the last one
func (t *Tracker) write(timeline models.Timeline) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.last != nil && t.last.Equal(timeline) {
		return
	}

	s := t.snapshotter
	data, err := json.Marshal(timeline)
	if err != nil {
		s.metrics.RecordSnapshotError()
		log.Printf("Failed to encode snapshot for source %s: %v", t.sourceKey, err)
		return
	}

	revision := t.nextRevision
	path := snapshotPath(t.sourceKey, revision)
	if err := s.storage.Write(path, data); err != nil {
		s.metrics.RecordSnapshotError()
		log.Printf("Failed to write snapshot %d for source %s: %v", revision, t.sourceKey, err)
		return
	}
	t.nextRevision++
	t.last = &timeline

	t.snapshots = append(t.snapshots, models.Snapshot{
		SourceKey: t.sourceKey,
		Revision:  revision,
		FilePath:  path,
		FileSize:  int64(len(data)),
		CreatedAt: time.Now(),
	})
	s.metrics.RecordSnapshot(int64(len(data)))

	// Maintain sliding window
	for len(t.snapshots) > s.maxRevisions {
		old := t.snapshots[0]
		t.snapshots = t.snapshots[1:]

		if err := s.storage.Delete(old.FilePath); err != nil {
			log.Printf("Failed to delete snapshot %d for source %s: %v", old.Revision, t.sourceKey, err)
			continue
		}
		s.metrics.RecordSnapshotPruned()
	}

	log.Printf("Wrote snapshot %d for source %s (%d bytes)", revision, t.sourceKey, len(data))
}

func snapshotPath(sourceKey string, revision uint64) string {
	return fmt.Sprintf("%s/%s%d%s", sourceKey, snapshotPrefix, revision, snapshotSuffix)
}

func parseSnapshotName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, snapshotPrefix) || !strings.HasSuffix(name, snapshotSuffix) {
		return 0, false
	}
	rev, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, snapshotPrefix), snapshotSuffix), 10, 64)
	if err != nil {
		return 0, false
	}
	return rev, true
}
