package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/storage/sqlite"
	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/internal/websocket"
	"github.com/skysched/vertiport/pkg/logger"
)

type fakeSource struct {
	fleet  []uam.Telemetry
	ranked []sqlite.RankedEntry
}

func (s *fakeSource) FleetSnapshot() []uam.Telemetry                { return s.fleet }
func (s *fakeSource) RankedSnapshot() ([]sqlite.RankedEntry, error) { return s.ranked, nil }

type fakeBroadcaster struct {
	mu       sync.Mutex
	messages []*websocket.Message
}

func (b *fakeBroadcaster) Broadcast(message *websocket.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, message)
}

func (b *fakeBroadcaster) byType(messageType string) []*websocket.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*websocket.Message
	for _, m := range b.messages {
		if m.Type == messageType {
			out = append(out, m)
		}
	}
	return out
}

type fakeListener struct {
	mu        sync.Mutex
	snapshots [][]sqlite.RankedEntry
}

func (l *fakeListener) OnRankedSnapshot(entries []sqlite.RankedEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, entries)
}

func testBroadcastConfig() config.BroadcastConfig {
	return config.BroadcastConfig{
		FleetIntervalMs:  500,
		RankedIntervalMs: 1000,
		TopK:             10,
		RecencyCapacity:  50,
	}
}

func rankedEntry(uamID string, score float64, withDetail bool) sqlite.RankedEntry {
	e := sqlite.RankedEntry{UAMID: uamID, Score: score}
	if withDetail {
		e.Detail = &uam.Telemetry{UAMID: uamID, BatteryPercent: 50}
	}
	return e
}

func TestPublishRankedFiltersExpiredDetails(t *testing.T) {
	source := &fakeSource{ranked: []sqlite.RankedEntry{
		rankedEntry("UAM-001", 300, true),
		rankedEntry("UAM-002", 200, false), // score without current telemetry
		rankedEntry("UAM-003", 100, true),
	}}
	sink := &fakeBroadcaster{}
	s := NewScheduler(testBroadcastConfig(), source, sink, nil, logger.NewNop())

	s.publishRanked()

	messages := sink.byType(websocket.MessageTypeQueueUpdate)
	require.Len(t, messages, 1)

	slots := messages[0].Data["queue"].([]QueueSlot)
	require.Len(t, slots, 2)
	assert.Equal(t, "UAM-001", slots[0].UAMID)
	assert.Equal(t, 1, slots[0].Rank)
	assert.Equal(t, "UAM-003", slots[1].UAMID)
	assert.Equal(t, 2, slots[1].Rank)
	assert.Equal(t, 2, messages[0].Data["count"])
}

func TestPublishRankedNotifiesListeners(t *testing.T) {
	source := &fakeSource{ranked: []sqlite.RankedEntry{
		rankedEntry("UAM-001", 300, true),
		rankedEntry("UAM-002", 200, false),
	}}
	sink := &fakeBroadcaster{}
	listener := &fakeListener{}

	s := NewScheduler(testBroadcastConfig(), source, sink, nil, logger.NewNop())
	s.AddListener(listener)
	s.publishRanked()

	listener.mu.Lock()
	defer listener.mu.Unlock()
	require.Len(t, listener.snapshots, 1)
	// Listeners see the same filtered view observers do.
	require.Len(t, listener.snapshots[0], 1)
	assert.Equal(t, "UAM-001", listener.snapshots[0][0].UAMID)
}

func TestPublishFleet(t *testing.T) {
	source := &fakeSource{fleet: []uam.Telemetry{
		{UAMID: "UAM-001"},
		{UAMID: "UAM-002"},
	}}
	sink := &fakeBroadcaster{}
	s := NewScheduler(testBroadcastConfig(), source, sink, nil, logger.NewNop())

	s.publishFleet()

	messages := sink.byType(websocket.MessageTypeFleetUpdate)
	require.Len(t, messages, 1)
	assert.Equal(t, 2, messages[0].Data["count"])
}

func TestSchedulerPublishesOnCadence(t *testing.T) {
	cfg := testBroadcastConfig()
	cfg.FleetIntervalMs = 20
	cfg.RankedIntervalMs = 30

	source := &fakeSource{
		fleet:  []uam.Telemetry{{UAMID: "UAM-001"}},
		ranked: []sqlite.RankedEntry{rankedEntry("UAM-001", 100, true)},
	}
	sink := &fakeBroadcaster{}
	s := NewScheduler(cfg, source, sink, nil, logger.NewNop())

	s.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, len(sink.byType(websocket.MessageTypeFleetUpdate)), 3)
	assert.GreaterOrEqual(t, len(sink.byType(websocket.MessageTypeQueueUpdate)), 2)
}
