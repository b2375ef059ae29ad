package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/pkg/logger"
)

func newTestStorage(t *testing.T, detailTTL time.Duration) *QueueStorage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "queue.db")
	storage, err := NewQueueStorage(dbPath, detailTTL, logger.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })
	return storage
}

func detail(uamID string, battery float64) uam.Telemetry {
	return uam.Telemetry{
		UAMID:          uamID,
		BatteryPercent: battery,
		DestinationKey: "jamsil",
		Timestamp:      time.Now().UnixMilli(),
	}
}

func TestUpsertAndTopKOrdering(t *testing.T) {
	s := newTestStorage(t, time.Minute)

	require.NoError(t, s.Upsert("UAM-001", 100, detail("UAM-001", 50)))
	require.NoError(t, s.Upsert("UAM-002", 300, detail("UAM-002", 18)))
	require.NoError(t, s.Upsert("UAM-003", 200, detail("UAM-003", 30)))

	entries, err := s.TopK(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	assert.Equal(t, "UAM-002", entries[0].UAMID)
	assert.Equal(t, "UAM-003", entries[1].UAMID)
	assert.Equal(t, "UAM-001", entries[2].UAMID)

	require.NotNil(t, entries[0].Detail)
	assert.Equal(t, 18.0, entries[0].Detail.BatteryPercent)
}

func TestTopKLimit(t *testing.T) {
	s := newTestStorage(t, time.Minute)

	for i, id := range []string{"UAM-001", "UAM-002", "UAM-003", "UAM-004"} {
		require.NoError(t, s.Upsert(id, float64(100+i), detail(id, 50)))
	}

	entries, err := s.TopK(2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "UAM-004", entries[0].UAMID)
	assert.Equal(t, "UAM-003", entries[1].UAMID)
}

func TestEqualScoresRankEarliestInsertedFirst(t *testing.T) {
	s := newTestStorage(t, time.Minute)

	require.NoError(t, s.Upsert("UAM-002", 150, detail("UAM-002", 50)))
	require.NoError(t, s.Upsert("UAM-001", 150, detail("UAM-001", 50)))
	require.NoError(t, s.Upsert("UAM-003", 150, detail("UAM-003", 50)))

	entries, err := s.TopK(10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "UAM-002", entries[0].UAMID)
	assert.Equal(t, "UAM-001", entries[1].UAMID)
	assert.Equal(t, "UAM-003", entries[2].UAMID)
}

func TestUpsertKeepsInsertionSequenceOnRescore(t *testing.T) {
	s := newTestStorage(t, time.Minute)

	require.NoError(t, s.Upsert("UAM-001", 100, detail("UAM-001", 50)))
	require.NoError(t, s.Upsert("UAM-002", 200, detail("UAM-002", 50)))

	// Rescoring the older entry to tie with the newer one must not move it
	// behind: ties break on original insertion order.
	require.NoError(t, s.Upsert("UAM-001", 200, detail("UAM-001", 50)))

	entries, err := s.TopK(10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "UAM-001", entries[0].UAMID)
	assert.Equal(t, "UAM-002", entries[1].UAMID)
}

func TestExpiredDetailReturnsNil(t *testing.T) {
	s := newTestStorage(t, 20*time.Millisecond)

	require.NoError(t, s.Upsert("UAM-001", 100, detail("UAM-001", 50)))
	time.Sleep(50 * time.Millisecond)

	entries, err := s.TopK(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// The score entry survives its detail.
	assert.Equal(t, 100.0, entries[0].Score)
	assert.Nil(t, entries[0].Detail)
}

func TestUpsertRefreshesDetailTTL(t *testing.T) {
	s := newTestStorage(t, 80*time.Millisecond)

	require.NoError(t, s.Upsert("UAM-001", 100, detail("UAM-001", 50)))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Upsert("UAM-001", 100, detail("UAM-001", 49)))
	time.Sleep(50 * time.Millisecond)

	// 100ms after the first write, but only 50ms after the refresh.
	entries, err := s.TopK(10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].Detail)
	assert.Equal(t, 49.0, entries[0].Detail.BatteryPercent)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s := newTestStorage(t, time.Minute)

	require.NoError(t, s.Upsert("UAM-001", 100, detail("UAM-001", 50)))
	require.NoError(t, s.Remove("UAM-001"))
	require.NoError(t, s.Remove("UAM-001"))
	require.NoError(t, s.Remove("UAM-999"))

	count, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestStartupClearsPreviousState(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "queue.db")

	first, err := NewQueueStorage(dbPath, time.Minute, logger.NewNop())
	require.NoError(t, err)
	require.NoError(t, first.Upsert("UAM-001", 100, detail("UAM-001", 50)))
	require.NoError(t, first.AppendLanded(uam.LandedRecord{UAMID: "UAM-001", LandedAt: time.Now()}))
	require.NoError(t, first.Close())

	second, err := NewQueueStorage(dbPath, time.Minute, logger.NewNop())
	require.NoError(t, err)
	defer second.Close()

	count, err := second.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	records, err := second.LandedNewest()
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLandedLedgerNewestFirst(t *testing.T) {
	s := newTestStorage(t, time.Minute)

	base := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.AppendLanded(uam.LandedRecord{UAMID: "UAM-001", LandedAt: base}))
	require.NoError(t, s.AppendLanded(uam.LandedRecord{UAMID: "UAM-002", LandedAt: base.Add(time.Second)}))
	require.NoError(t, s.AppendLanded(uam.LandedRecord{UAMID: "UAM-003", LandedAt: base.Add(2 * time.Second)}))

	records, err := s.LandedNewest()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "UAM-003", records[0].UAMID)
	assert.Equal(t, "UAM-002", records[1].UAMID)
	assert.Equal(t, "UAM-001", records[2].UAMID)
}
