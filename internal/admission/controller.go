// Package admission owns the landing pipeline: it ingests telemetry, ranks
// vehicles competing for a vertiport, and processes landing approvals with
// exactly-once semantics.
package admission

import (
	"fmt"
	"sync"
	"time"

	"github.com/skysched/vertiport/internal/metrics"
	"github.com/skysched/vertiport/internal/recency"
	"github.com/skysched/vertiport/internal/scoring"
	"github.com/skysched/vertiport/internal/storage/sqlite"
	"github.com/skysched/vertiport/internal/uam"
	"github.com/skysched/vertiport/internal/websocket"
	"github.com/skysched/vertiport/pkg/logger"
)

// Status is the outcome of an approval command.
type Status string

const (
	// StatusSent means the clearance was issued by this call.
	StatusSent Status = "sent"
	// StatusAlreadyLanded means the vehicle was approved or landed previously.
	StatusAlreadyLanded Status = "already_landed"
	// StatusUnknown means no vehicle with that id is currently flying.
	StatusUnknown Status = "unknown"
)

// Store persists the ranked landing queue and the landed ledger.
type Store interface {
	Upsert(uamID string, score float64, detail uam.Telemetry) error
	TopK(k int) ([]sqlite.RankedEntry, error)
	Remove(uamID string) error
	Count() (int, error)
	AppendLanded(rec uam.LandedRecord) error
	LandedNewest() ([]uam.LandedRecord, error)
}

// FleetCommander is the controller's view of the vehicle fleet: it can check
// whether a vehicle is flying and deliver a landing clearance to it.
type FleetCommander interface {
	HasVehicle(uamID string) bool
	SendLandingClearance(cmd uam.LandingCommand) error
}

// Broadcaster pushes messages to all connected observers.
type Broadcaster interface {
	Broadcast(message *websocket.Message)
}

// CountdownCanceler is notified when a vehicle is approved manually, so any
// pending automatic escalation for it can be cancelled.
type CountdownCanceler interface {
	NoteManualApproval(uamID string)
}

// Controller is the admission controller for a set of vertiports.
type Controller struct {
	destinations uam.DestinationSet
	scorer       *scoring.Scorer
	store        Store
	recency      *recency.Buffer
	fleet        FleetCommander
	wsServer     Broadcaster
	pipeline     *metrics.Pipeline
	logger       *logger.Logger
	topK         int

	mu     sync.Mutex
	landed map[string]bool
	cancel CountdownCanceler
}

// NewController creates an admission controller. The fleet commander, the
// countdown canceler, and the metrics pipeline are attached after
// construction since they are built later in the wiring order.
func NewController(
	destinations uam.DestinationSet,
	scorer *scoring.Scorer,
	store Store,
	recencyBuffer *recency.Buffer,
	wsServer Broadcaster,
	topK int,
	log *logger.Logger,
) *Controller {
	return &Controller{
		destinations: destinations,
		scorer:       scorer,
		store:        store,
		recency:      recencyBuffer,
		wsServer:     wsServer,
		logger:       log.Named("admission"),
		topK:         topK,
		landed:       make(map[string]bool),
	}
}

// SetFleet attaches the fleet commander used to verify vehicle ids and
// deliver clearances.
func (c *Controller) SetFleet(fleet FleetCommander) {
	c.fleet = fleet
}

// SetPipeline attaches the metrics pipeline. The pipeline's queue-depth gauge
// samples the controller, so it is built after the controller and attached
// here.
func (c *Controller) SetPipeline(pipeline *metrics.Pipeline) {
	c.pipeline = pipeline
}

// SetCountdownCanceler attaches the escalation monitor notified on manual
// approvals.
func (c *Controller) SetCountdownCanceler(canceler CountdownCanceler) {
	c.cancel = canceler
}

// Ingest processes one telemetry snapshot: the vehicle is moved to the front
// of the fleet recency view and, when its destination maintains a scored
// queue, its queue entry is atomically rewritten with a fresh score.
// Telemetry referencing an undeclared destination is rejected.
func (c *Controller) Ingest(t uam.Telemetry) error {
	dest, ok := c.destinations.Lookup(t.DestinationKey)
	if !ok {
		return fmt.Errorf("telemetry for %s references unknown destination %q", t.UAMID, t.DestinationKey)
	}

	c.mu.Lock()
	alreadyLanded := c.landed[t.UAMID]
	c.mu.Unlock()
	if alreadyLanded {
		// Late snapshot from a vehicle already cleared to land; drop it so the
		// queue and fleet views do not resurrect the entry.
		return nil
	}

	c.recency.Touch(t.UAMID, t)

	if dest.Scored {
		score := c.scorer.Score(t)
		if err := c.store.Upsert(t.UAMID, score, t); err != nil {
			return fmt.Errorf("failed to rank %s: %w", t.UAMID, err)
		}
	}

	// An approval may have finalized the landing between the check above and
	// the writes, in which case its removals raced with this snapshot. Re-check
	// and undo so a landed vehicle never lingers in the live views.
	c.mu.Lock()
	landedMeanwhile := c.landed[t.UAMID]
	c.mu.Unlock()
	if landedMeanwhile {
		if err := c.store.Remove(t.UAMID); err != nil {
			c.logger.Error("Failed to remove landed vehicle from landing queue",
				logger.String("uam_id", t.UAMID),
				logger.Error(err))
		}
		c.recency.Remove(t.UAMID)
		return nil
	}

	if c.pipeline != nil {
		c.pipeline.TelemetryIngested(string(t.DestinationKey))
	}
	return nil
}

// Approve processes a landing-approval command for a vehicle. The first call
// for a given vehicle wins: it issues the clearance, records the landing, and
// returns StatusSent. Every later call returns StatusAlreadyLanded without
// side effects. Commands naming an id that is not flying return StatusUnknown.
func (c *Controller) Approve(uamID string) (Status, error) {
	c.mu.Lock()
	if c.landed[uamID] {
		c.mu.Unlock()
		c.recordApproval(StatusAlreadyLanded)
		return StatusAlreadyLanded, nil
	}
	if c.fleet == nil || !c.fleet.HasVehicle(uamID) {
		c.mu.Unlock()
		c.recordApproval(StatusUnknown)
		return StatusUnknown, nil
	}
	c.landed[uamID] = true
	c.mu.Unlock()

	c.logger.Info("Landing approved", logger.String("uam_id", uamID))

	cmd := uam.NewLandingCommand(uamID, time.Now())
	if err := c.fleet.SendLandingClearance(cmd); err != nil {
		c.logger.Error("Failed to deliver landing clearance",
			logger.String("uam_id", uamID),
			logger.Error(err))
	}

	c.finalizeLanding(uamID)
	if c.cancel != nil {
		c.cancel.NoteManualApproval(uamID)
	}
	c.recordApproval(StatusSent)
	return StatusSent, nil
}

// HandleTouchdown records a landing that completed without a clearance
// command: a vehicle reaching the pad at a destination that does not gate
// descent on approval. Calling it for a vehicle already approved is a no-op,
// so gated and non-gated landings share one ledger entry each.
func (c *Controller) HandleTouchdown(uamID string) {
	c.mu.Lock()
	if c.landed[uamID] {
		c.mu.Unlock()
		return
	}
	c.landed[uamID] = true
	c.mu.Unlock()

	c.logger.Info("Vehicle touched down", logger.String("uam_id", uamID))
	c.finalizeLanding(uamID)
	if c.cancel != nil {
		c.cancel.NoteManualApproval(uamID)
	}
}

// finalizeLanding removes the vehicle from the live views, appends it to the
// ledger, and pushes the updated ledger to observers. Caller must already
// hold the landed mark for the vehicle.
func (c *Controller) finalizeLanding(uamID string) {
	if err := c.store.Remove(uamID); err != nil {
		c.logger.Error("Failed to remove vehicle from landing queue",
			logger.String("uam_id", uamID),
			logger.Error(err))
	}
	c.recency.Remove(uamID)

	rec := uam.LandedRecord{UAMID: uamID, LandedAt: time.Now()}
	if err := c.store.AppendLanded(rec); err != nil {
		c.logger.Error("Failed to append landed record",
			logger.String("uam_id", uamID),
			logger.Error(err))
	}

	c.broadcastLedger()
}

// broadcastLedger pushes the landed ledger, newest first, to all observers.
func (c *Controller) broadcastLedger() {
	records, err := c.store.LandedNewest()
	if err != nil {
		c.logger.Error("Failed to load landed ledger", logger.Error(err))
		return
	}
	c.wsServer.Broadcast(&websocket.Message{
		Type: websocket.MessageTypeLandedUpdate,
		Data: map[string]any{"landed": records},
	})
}

// FleetSnapshot returns the recency view of the fleet, most recently updated
// vehicle last.
func (c *Controller) FleetSnapshot() []uam.Telemetry {
	return c.recency.Snapshot()
}

// RankedSnapshot returns the published slice of the landing queue: the top
// entries by score, ties broken earliest-inserted-first.
func (c *Controller) RankedSnapshot() ([]sqlite.RankedEntry, error) {
	return c.store.TopK(c.topK)
}

// LandedRecords returns the landed ledger ordered newest first.
func (c *Controller) LandedRecords() ([]uam.LandedRecord, error) {
	return c.store.LandedNewest()
}

// QueueDepth returns the current number of scored entries, for the metrics
// gauge callback.
func (c *Controller) QueueDepth() int64 {
	count, err := c.store.Count()
	if err != nil {
		return 0
	}
	return int64(count)
}

func (c *Controller) recordApproval(status Status) {
	if c.pipeline != nil {
		c.pipeline.ApprovalProcessed(string(status))
	}
}
