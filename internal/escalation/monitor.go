// Package escalation watches the published landing queue and automatically
// approves vehicles that sit at the front of it for too long, or are in an
// emergency, without an operator acting.
package escalation

import (
	"sync"
	"time"

	"github.com/skysched/vertiport/internal/admission"
	"github.com/skysched/vertiport/internal/config"
	"github.com/skysched/vertiport/internal/storage/sqlite"
	"github.com/skysched/vertiport/pkg/logger"
)

// Approver issues a landing approval on the vehicle's behalf. Escalated
// approvals take the same path as manual ones.
type Approver interface {
	Approve(uamID string) (admission.Status, error)
}

// track is a running countdown for one vehicle in the priority zone.
type track struct {
	enteredAt time.Time
	timer     *time.Timer
}

// Monitor implements the priority-zone escalation protocol. The zone is the
// top slice of each published ranked snapshot. A vehicle entering the zone
// starts a countdown; leaving cancels it, re-entering starts a fresh one.
// When the countdown elapses with the vehicle still tracked, or when an
// emergency vehicle appears in the zone, the monitor approves it. A vehicle
// is escalated at most once, and a manual approval suppresses any pending or
// future escalation for that vehicle.
type Monitor struct {
	cfg      config.EscalationConfig
	approver Approver
	logger   *logger.Logger

	mu      sync.Mutex
	tracks  map[string]*track
	settled map[string]bool // escalated or manually approved
	stopped bool
}

// NewMonitor creates an escalation monitor.
func NewMonitor(cfg config.EscalationConfig, approver Approver, log *logger.Logger) *Monitor {
	return &Monitor{
		cfg:      cfg,
		approver: approver,
		logger:   log.Named("escalation"),
		tracks:   make(map[string]*track),
		settled:  make(map[string]bool),
	}
}

// OnRankedSnapshot reconciles the countdowns against a freshly published
// queue snapshot.
func (m *Monitor) OnRankedSnapshot(entries []sqlite.RankedEntry) {
	zoneSize := m.cfg.ZoneSize
	if zoneSize > len(entries) {
		zoneSize = len(entries)
	}

	var immediate []string

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}

	inZone := make(map[string]bool, zoneSize)
	for _, e := range entries[:zoneSize] {
		inZone[e.UAMID] = true
		if m.settled[e.UAMID] {
			continue
		}

		emergency := e.Detail != nil &&
			(e.Detail.Emergency || e.Detail.BatteryPercent < m.cfg.EmergencyBatteryPct)
		if emergency {
			// Emergencies skip the countdown entirely.
			m.settled[e.UAMID] = true
			if t, ok := m.tracks[e.UAMID]; ok {
				t.timer.Stop()
				delete(m.tracks, e.UAMID)
			}
			immediate = append(immediate, e.UAMID)
			continue
		}

		if _, tracked := m.tracks[e.UAMID]; !tracked {
			uamID := e.UAMID
			tr := &track{enteredAt: time.Now()}
			tr.timer = time.AfterFunc(
				time.Duration(m.cfg.CountdownSecs)*time.Second,
				func() { m.fire(uamID, tr) },
			)
			m.tracks[uamID] = tr
			m.logger.Debug("Countdown started",
				logger.String("uam_id", uamID),
				logger.Int("countdown_seconds", m.cfg.CountdownSecs))
		}
	}

	// Vehicles that dropped out of the zone lose their countdown; if they
	// climb back in later they start over.
	for uamID, t := range m.tracks {
		if !inZone[uamID] {
			t.timer.Stop()
			delete(m.tracks, uamID)
			m.logger.Debug("Countdown cancelled, vehicle left priority zone",
				logger.String("uam_id", uamID),
				logger.Duration("dwell", time.Since(t.enteredAt)))
		}
	}
	m.mu.Unlock()

	for _, uamID := range immediate {
		m.escalate(uamID, "emergency")
	}
}

// fire runs when a countdown elapses.
func (m *Monitor) fire(uamID string, tr *track) {
	m.mu.Lock()
	if m.stopped || m.settled[uamID] {
		m.mu.Unlock()
		return
	}
	if m.tracks[uamID] != tr {
		// Cancelled between timer fire and lock acquisition; any current
		// track belongs to a later zone entry.
		m.mu.Unlock()
		return
	}
	m.settled[uamID] = true
	delete(m.tracks, uamID)
	m.mu.Unlock()

	m.logger.Debug("Countdown elapsed",
		logger.String("uam_id", uamID),
		logger.Duration("dwell", time.Since(tr.enteredAt)))
	m.escalate(uamID, "countdown_elapsed")
}

// escalate issues the approval for an escalated vehicle.
func (m *Monitor) escalate(uamID string, reason string) {
	m.logger.Info("Escalating landing approval",
		logger.String("uam_id", uamID),
		logger.String("reason", reason))

	status, err := m.approver.Approve(uamID)
	if err != nil {
		m.logger.Error("Escalated approval failed",
			logger.String("uam_id", uamID),
			logger.Error(err))
		return
	}
	if status != admission.StatusSent {
		m.logger.Warn("Escalated approval was not applied",
			logger.String("uam_id", uamID),
			logger.String("status", string(status)))
	}
}

// NoteManualApproval cancels any pending countdown for a vehicle and marks it
// settled so it is never escalated afterwards.
func (m *Monitor) NoteManualApproval(uamID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settled[uamID] = true
	if t, ok := m.tracks[uamID]; ok {
		t.timer.Stop()
		delete(m.tracks, uamID)
		m.logger.Debug("Countdown cancelled by manual approval",
			logger.String("uam_id", uamID),
			logger.Duration("dwell", time.Since(t.enteredAt)))
	}
}

// Stop cancels all pending countdowns. No escalations fire after Stop
// returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stopped = true
	for uamID, t := range m.tracks {
		t.timer.Stop()
		delete(m.tracks, uamID)
	}
	m.logger.Info("Escalation monitor stopped")
}
