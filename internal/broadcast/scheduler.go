// Package broadcast drives the periodic observer feeds: the full-fleet view
// and the ranked landing queue.
package broadcast

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/metrics"
	"github.com/skysched/vertiport/internal/storage/sqlite"
	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/internal/websocket"
	"github.com/skysched/vertiport/pkg/logger"
)

// Source provides the snapshots the scheduler publishes.
type Source interface {
	FleetSnapshot() []uam.Telemetry
	RankedSnapshot() ([]sqlite.RankedEntry, error)
}

// Broadcaster pushes messages to all connected observers.
type Broadcaster interface {
	Broadcast(message *websocket.Message)
}

// SnapshotListener receives every published ranked snapshot, exactly as
// observers see it. The escalation monitor registers here so it reasons
// about the same queue ordering the operators are looking at.
type SnapshotListener interface {
	OnRankedSnapshot(entries []sqlite.RankedEntry)
}

// QueueSlot is one published slot of the ranked queue.
type QueueSlot struct {
	Rank      int            `json:"rank"`
	UAMID     string         `json:"uamId"`
	Score     float64        `json:"score"`
	Telemetry *uam.Telemetry `json:"telemetry"`
}

// Scheduler publishes fleet and ranked-queue snapshots on independent
// cadences.
type Scheduler struct {
	cfg       config.BroadcastConfig
	source    Source
	wsServer  Broadcaster
	pipeline  *metrics.Pipeline
	logger    *logger.Logger
	listeners []SnapshotListener

	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewScheduler creates a broadcast scheduler.
func NewScheduler(
	cfg config.BroadcastConfig,
	source Source,
	wsServer Broadcaster,
	pipeline *metrics.Pipeline,
	log *logger.Logger,
) *Scheduler {
	return &Scheduler{
		cfg:      cfg,
		source:   source,
		wsServer: wsServer,
		pipeline: pipeline,
		logger:   log.Named("broadcast"),
	}
}

// AddListener registers a ranked-snapshot listener. Must be called before
// Start.
func (s *Scheduler) AddListener(l SnapshotListener) {
	s.listeners = append(s.listeners, l)
}

// Start launches the two feed loops. They run until ctx is cancelled or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)

	s.logger.Info("Starting broadcast scheduler",
		logger.Int("fleet_interval_ms", s.cfg.FleetIntervalMs),
		logger.Int("ranked_interval_ms", s.cfg.RankedIntervalMs),
		logger.Int("top_k", s.cfg.TopK))

	s.group.Go(func() error {
		return s.runLoop(ctx, time.Duration(s.cfg.FleetIntervalMs)*time.Millisecond, s.publishFleet)
	})
	s.group.Go(func() error {
		return s.runLoop(ctx, time.Duration(s.cfg.RankedIntervalMs)*time.Millisecond, s.publishRanked)
	})
}

// Stop halts both feed loops and waits for them to drain.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.group != nil {
		s.group.Wait()
	}
	s.logger.Info("Broadcast scheduler stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, interval time.Duration, publish func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			publish()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// publishFleet pushes the recency view of the fleet.
func (s *Scheduler) publishFleet() {
	fleet := s.source.FleetSnapshot()

	s.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeFleetUpdate,
		Data: map[string]any{
			"vehicles": fleet,
			"count":    len(fleet),
		},
	})
	if s.pipeline != nil {
		s.pipeline.SnapshotSent("fleet")
	}
}

// publishRanked pushes the top slots of the landing queue. Entries whose
// telemetry detail has expired still hold a score but say nothing current
// about the vehicle, so they are dropped from the published view.
func (s *Scheduler) publishRanked() {
	entries, err := s.source.RankedSnapshot()
	if err != nil {
		s.logger.Error("Failed to read ranked snapshot", logger.Error(err))
		return
	}

	live := make([]sqlite.RankedEntry, 0, len(entries))
	for _, e := range entries {
		if e.Detail != nil {
			live = append(live, e)
		}
	}

	slots := make([]QueueSlot, len(live))
	for i, e := range live {
		slots[i] = QueueSlot{
			Rank:      i + 1,
			UAMID:     e.UAMID,
			Score:     e.Score,
			Telemetry: e.Detail,
		}
	}

	s.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeQueueUpdate,
		Data: map[string]any{
			"queue": slots,
			"count": len(slots),
		},
	})
	if s.pipeline != nil {
		s.pipeline.SnapshotSent("ranked")
	}

	for _, l := range s.listeners {
		l.OnRankedSnapshot(live)
	}
}
