package snapshotter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rapidclip/internal/metrics"
	"rapidclip/internal/sourcemanager"
	"rapidclip/internal/storage"
	"rapidclip/pkg/models"
)

type fixture struct {
	store   *storage.LocalStorage
	manager *sourcemanager.Manager
	snap    *Snapshotter
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, maxRevisions int) *fixture {
	t.Helper()

	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	mgr := sourcemanager.New(m, 0)
	return &fixture{
		store:   store,
		manager: mgr,
		snap:    New(store, mgr, maxRevisions, 16, m),
		metrics: m,
	}
}

func timelineOf(durationUs int64) models.Timeline {
	return models.SinglePeriodTimeline(durationUs, true, "cam")
}

func waitForRevisions(t *testing.T, s *Snapshotter, key string, want ...uint64) {
	t.Helper()
	require.Eventually(t, func() bool {
		snapshots, err := s.ListRevisions(key)
		if err != nil || len(snapshots) != len(want) {
			return false
		}
		for i, snap := range snapshots {
			if snap.Revision != want[i] {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSnapshotsFollowPublishedTimelines(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.snap.StartTracking("cam"))

	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(1_000)))
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(2_000)))
	waitForRevisions(t, f.snap, "cam", 0, 1)

	snapshot, timeline, err := f.snap.GetLatest("cam")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), snapshot.Revision)
	assert.Equal(t, "cam/timeline_1.json", snapshot.FilePath)
	assert.Positive(t, snapshot.FileSize)
	assert.True(t, timeline.Equal(timelineOf(2_000)))

	_, first, err := f.snap.GetRevision("cam", 0)
	require.NoError(t, err)
	assert.True(t, first.Equal(timelineOf(1_000)))

	_, _, err = f.snap.GetRevision("cam", 7)
	assert.ErrorIs(t, err, ErrRevisionNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SnapshotsWritten))
}

func TestSnapshotsSkipRepeatedTimeline(t *testing.T) {
	f := newFixture(t, 10)

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(1_000)))

	// The current timeline is written immediately
	require.NoError(t, f.snap.StartTracking("cam"))
	waitForRevisions(t, f.snap, "cam", 0)

	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(1_000)))
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(3_000)))
	waitForRevisions(t, f.snap, "cam", 0, 1)
}

func TestSnapshotRetention(t *testing.T) {
	f := newFixture(t, 2)

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.snap.StartTracking("cam"))

	for i := int64(1); i <= 4; i++ {
		require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(i*1_000)))
	}
	waitForRevisions(t, f.snap, "cam", 2, 3)

	files, err := f.store.List("cam")
	require.NoError(t, err)
	assert.Equal(t, []string{"timeline_2.json", "timeline_3.json"}, files)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SnapshotsPruned))
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.SnapshotsStored))
}

func TestStartTrackingErrors(t *testing.T) {
	f := newFixture(t, 2)

	assert.ErrorIs(t, f.snap.StartTracking("missing"), sourcemanager.ErrSourceNotFound)

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.snap.StartTracking("cam"))
	assert.ErrorIs(t, f.snap.StartTracking("cam"), ErrAlreadyTracking)

	_, err = f.snap.ListRevisions("other")
	assert.ErrorIs(t, err, ErrNotTracking)

	_, _, err = f.snap.GetLatest("cam")
	assert.ErrorIs(t, err, ErrRevisionNotFound)
}

func TestStopTrackingKeepsHistory(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.snap.StartTracking("cam"))
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(1_000)))
	waitForRevisions(t, f.snap, "cam", 0)

	f.snap.StopTracking("cam")
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(2_000)))

	snapshots, err := f.snap.ListRevisions("cam")
	require.NoError(t, err)
	assert.Len(t, snapshots, 1)

	// Tracking again resumes numbering from storage
	require.NoError(t, f.snap.StartTracking("cam"))
	waitForRevisions(t, f.snap, "cam", 0, 1)

	f.snap.Forget("cam")
	_, err = f.snap.ListRevisions("cam")
	assert.ErrorIs(t, err, ErrNotTracking)
}

func TestStartTrackingTrimsAndSeedsFromStorage(t *testing.T) {
	f := newFixture(t, 2)

	for rev := uint64(0); rev < 4; rev++ {
		data, err := json.Marshal(timelineOf(int64(rev+1) * 1_000))
		require.NoError(t, err)
		require.NoError(t, f.store.Write(snapshotPath("cam", rev), data))
	}

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(4_000)))

	// The current timeline equals the newest stored revision, so nothing is written
	require.NoError(t, f.snap.StartTracking("cam"))
	waitForRevisions(t, f.snap, "cam", 2, 3)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.SnapshotsWritten))

	names, err := f.store.List("cam")
	require.NoError(t, err)
	assert.Equal(t, []string{"timeline_2.json", "timeline_3.json"}, names)

	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(5_000)))
	waitForRevisions(t, f.snap, "cam", 3, 4)
}

func TestReleasedSourceEndsTracking(t *testing.T) {
	f := newFixture(t, 5)

	_, err := f.manager.CreateSource("cam")
	require.NoError(t, err)
	require.NoError(t, f.snap.StartTracking("cam"))
	require.NoError(t, f.manager.PublishTimeline("cam", timelineOf(1_000)))
	waitForRevisions(t, f.snap, "cam", 0)

	require.NoError(t, f.manager.ReleaseSource("cam"))
	assert.NotPanics(t, func() { f.snap.StopTracking("cam") })

	_, timeline, err := f.snap.GetLatest("cam")
	require.NoError(t, err)
	assert.True(t, timeline.Equal(timelineOf(1_000)))
}

func TestParseSnapshotName(t *testing.T) {
	rev, ok := parseSnapshotName("timeline_42.json")
	assert.True(t, ok)
	assert.Equal(t, uint64(42), rev)

	for _, name := range []string{"timeline_.json", "timeline_x.json", "init.mp4", "timeline_1.json.tmp"} {
		_, ok := parseSnapshotName(name)
		assert.False(t, ok, name)
	}
}
