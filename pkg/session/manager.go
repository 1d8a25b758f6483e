// Package session tracks the lifecycle of the single chat-network session
// behind the gateway.
//
// Lifecycle events are applied by one writer (Run) under a mutex and
// published with an atomic store, so State and IsReady never block and
// never observe a half-applied transition.
package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/broadcastio/wagateway/pkg/bus"
	"github.com/broadcastio/wagateway/pkg/events"
	"github.com/broadcastio/wagateway/pkg/logger"
	"github.com/broadcastio/wagateway/pkg/whatsapp"
)

// Snapshot is a consistent view of the session for status reporting.
type Snapshot struct {
	State       State     `json:"state"`
	Ready       bool      `json:"ready"`
	Since       time.Time `json:"since"`
	LastReason  string    `json:"last_reason,omitempty"`
	Transitions int64     `json:"transitions"`
	ScanPath    string    `json:"scan_path,omitempty"`
}

// Manager owns the session state.
type Manager struct {
	state atomic.Int32

	mu          sync.Mutex
	since       time.Time
	lastReason  string
	transitions int64
	scanPath    string

	sink ScanSink
	bus  *bus.MessageBus

	// scanGen counts scan payloads seen, guarded by mu. scanMu serializes
	// writes so only the newest payload is left on disk.
	scanGen int64
	scanMu  sync.Mutex
	scanWG  sync.WaitGroup

	runOnce sync.Once
	runDone chan struct{}
}

// NewManager creates a manager in the Uninitialized state. sink and mb may
// be nil.
func NewManager(sink ScanSink, mb *bus.MessageBus) *Manager {
	return &Manager{
		since:   time.Now().UTC(),
		sink:    sink,
		bus:     mb,
		runDone: make(chan struct{}),
	}
}

// State returns the last observed state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsReady reports whether sends may proceed.
func (m *Manager) IsReady() bool {
	return m.State() == Ready
}

// Snapshot returns the current state with its bookkeeping.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.State()
	return Snapshot{
		State:       st,
		Ready:       st == Ready,
		Since:       m.since,
		LastReason:  m.lastReason,
		Transitions: m.transitions,
		ScanPath:    m.scanPath,
	}
}

// Run applies events in arrival order until ctx is done or events closes.
// Done is closed when it returns.
func (m *Manager) Run(ctx context.Context, evs <-chan whatsapp.Event) {
	defer m.runOnce.Do(func() { close(m.runDone) })
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-evs:
			if !ok {
				return
			}
			m.Apply(ev)
		}
	}
}

// Apply applies one lifecycle event. An event for the state the session is
// already in changes nothing, except that every scan payload is handed to
// the sink because scan codes rotate.
func (m *Manager) Apply(ev whatsapp.Event) {
	var to State
	switch ev.Type {
	case whatsapp.EventQR:
		to = AwaitingScan
	case whatsapp.EventReady:
		to = Ready
	case whatsapp.EventAuthFailure:
		to = AuthFailed
	case whatsapp.EventDisconnected:
		to = Disconnected
	default:
		logger.DebugCF("session", "Ignoring unknown lifecycle event", map[string]interface{}{
			"type": string(ev.Type),
		})
		return
	}
	m.transition(to, ev.Reason)

	if ev.Type == whatsapp.EventQR {
		m.saveScan(ev.Payload)
	}
}

func (m *Manager) transition(to State, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.State()
	if from == to {
		return
	}

	m.state.Store(int32(to))
	m.since = time.Now().UTC()
	m.lastReason = reason
	m.transitions++

	fields := map[string]interface{}{
		"from": from.String(),
		"to":   to.String(),
	}
	if reason != "" {
		fields["reason"] = reason
	}

	var eventType string
	switch to {
	case AwaitingScan:
		eventType = events.SessionAwaitingScan
		logger.InfoCF("session", "Credential scan required", fields)
	case Ready:
		eventType = events.SessionReady
		logger.InfoCF("session", "WhatsApp client ready", fields)
	case AuthFailed:
		eventType = events.SessionAuthFailed
		logger.ErrorCF("session", "Auth failure", fields)
	case Disconnected:
		eventType = events.SessionDisconnected
		logger.WarnCF("session", "WhatsApp disconnected", fields)
	}

	// Published under the lock so subscribers see transitions in order.
	if m.bus != nil {
		m.bus.PublishSystem(events.New(eventType, "session", events.SessionEventData{
			From:   from.String(),
			To:     to.String(),
			Reason: reason,
		}))
	}
}

// saveScan hands the payload to the sink in the background. Writes run one
// at a time and a payload superseded by a newer one is skipped, so the sink
// always ends on the latest code. Failures are logged and never reach the
// state machine or any request.
func (m *Manager) saveScan(payload string) {
	if m.sink == nil {
		return
	}
	if payload == "" {
		logger.WarnC("session", "Scan event without payload")
		return
	}

	m.mu.Lock()
	m.scanGen++
	gen := m.scanGen
	m.mu.Unlock()

	m.scanWG.Add(1)
	go func() {
		defer m.scanWG.Done()

		m.scanMu.Lock()
		defer m.scanMu.Unlock()

		if !m.isLatestScan(gen) {
			logger.DebugC("session", "Skipping superseded scan code")
			return
		}

		path, err := m.sink.SaveScan(payload)
		if err != nil {
			logger.ErrorCF("session", "Failed to save scan image", map[string]interface{}{
				"error": err.Error(),
			})
			m.publish(events.SessionScanFailed, events.SessionEventData{Reason: err.Error()})
			return
		}

		m.mu.Lock()
		latest := m.scanGen == gen
		if latest {
			m.scanPath = path
		}
		m.mu.Unlock()
		if !latest {
			// a newer write is queued behind scanMu and will replace this one
			return
		}

		logger.InfoCF("session", "Scan image saved", map[string]interface{}{"path": path})
		m.publish(events.SessionScanSaved, events.SessionEventData{Path: path})
	}()
}

func (m *Manager) isLatestScan(gen int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scanGen == gen
}

func (m *Manager) publish(eventType string, data events.SessionEventData) {
	if m.bus == nil {
		return
	}
	m.bus.PublishSystem(events.New(eventType, "session", data))
}

// Done is closed once Run has returned.
func (m *Manager) Done() <-chan struct{} {
	return m.runDone
}

// WaitScans blocks until background scan writes have finished. Callers must
// not apply events concurrently; after Run, wait for Done first.
func (m *Manager) WaitScans() {
	m.scanWG.Wait()
}
