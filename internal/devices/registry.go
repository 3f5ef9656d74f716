// Package devices tracks the printers, kitchen displays and tablets that are
// connected right now. Sessions live in memory only: a restart drops them
// and devices register again when they reconnect.
//
// The Registry keeps two secondary indexes, by role and by outlet, each
// mapping to a set of connection ids. Buckets are removed as soon as they
// become empty, so lookups cost O(k) in the number of matching devices.
package devices

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tbourn/pos-coordinator/internal/clock"
	"github.com/tbourn/pos-coordinator/internal/sysutil"
)

var connectedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "pos_devices_connected",
	Help: "Devices currently registered.",
})

func init() {
	prometheus.MustRegister(connectedGauge)
}

// DeviceData is what a device announces when it registers.
type DeviceData struct {
	DeviceID       string   `json:"deviceId"`
	OutletID       string   `json:"outletId"`
	Role           string   `json:"role"`
	Location       string   `json:"location"`
	DeviceName     string   `json:"deviceName"`
	AssignedAreas  []string `json:"assignedAreas"`
	AssignedTables []string `json:"assignedTables"`
	OrderTypes     []string `json:"orderTypes"`
	Workstations   []string `json:"workstations"`
	SessionID      string   `json:"sessionId"`
}

// Session is one live connection. It is never mutated after Register.
type Session struct {
	ConnectionID   string      `json:"connectionId"`
	DeviceID       string      `json:"deviceId"`
	OutletID       string      `json:"outletId"`
	Role           string      `json:"role"`
	Location       string      `json:"location"`
	DeviceName     string      `json:"deviceName"`
	AssignedAreas  []string    `json:"assignedAreas"`
	AssignedTables []string    `json:"assignedTables"`
	OrderTypes     []string    `json:"orderTypes"`
	SessionID      string      `json:"sessionId"`
	Workstation    Workstation `json:"-"`
	ConnectedAt    time.Time   `json:"connectedAt"`
}

// AcceptsTable reports whether an order for table should reach this device.
// A device with neither tables nor areas accepts everything; otherwise the
// table must be listed, or its area prefix (first character, upper-cased)
// must be.
func (s Session) AcceptsTable(table string) bool {
	if len(s.AssignedAreas) == 0 && len(s.AssignedTables) == 0 {
		return true
	}
	table = strings.TrimSpace(table)
	if table == "" {
		return false
	}
	for _, t := range s.AssignedTables {
		if t == table {
			return true
		}
	}
	prefix := strings.ToUpper(string([]rune(table)[0]))
	for _, a := range s.AssignedAreas {
		if strings.ToUpper(strings.TrimSpace(a)) == prefix {
			return true
		}
	}
	return false
}

// AcceptsOrderType reports whether the device takes orders of type t. An
// empty declaration, or an order without a type, always passes.
func (s Session) AcceptsOrderType(t string) bool {
	if len(s.OrderTypes) == 0 || strings.TrimSpace(t) == "" {
		return true
	}
	return sysutil.EqualFoldAny(t, s.OrderTypes)
}

// Summary is the diagnostic view of a session.
type Summary struct {
	ConnectionID string    `json:"connectionId"`
	DeviceID     string    `json:"deviceId"`
	OutletID     string    `json:"outletId"`
	Role         string    `json:"role"`
	DeviceName   string    `json:"deviceName"`
	Workstation  string    `json:"workstation"`
	ConnectedAt  time.Time `json:"connectedAt"`
}

// Snapshot is the registry content at one instant.
type Snapshot struct {
	TotalConnected int       `json:"totalConnected"`
	Devices        []Summary `json:"devices"`
}

type idSet map[string]struct{}

// Registry is the authoritative set of connected devices. It is safe for
// concurrent use; mutation happens only through Register and Unregister.
type Registry struct {
	mu       sync.RWMutex
	clock    clock.Clock
	sessions map[string]*Session
	byRole   map[string]idSet // folded role -> connection ids
	byOutlet map[string]idSet
}

// NewRegistry returns an empty registry.
func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:    clk,
		sessions: make(map[string]*Session),
		byRole:   make(map[string]idSet),
		byOutlet: make(map[string]idSet),
	}
}

// Register adds a session for connID. It always succeeds; a duplicate
// connID replaces the earlier session and its index entries.
func (r *Registry) Register(connID string, d DeviceData) Session {
	ws := ResolveWorkstation(d)
	s := &Session{
		ConnectionID:   connID,
		DeviceID:       d.DeviceID,
		OutletID:       strings.TrimSpace(d.OutletID),
		Role:           d.Role,
		Location:       d.Location,
		DeviceName:     d.DeviceName,
		AssignedAreas:  sysutil.Dedupe(d.AssignedAreas),
		AssignedTables: sysutil.Dedupe(d.AssignedTables),
		OrderTypes:     sysutil.Dedupe(d.OrderTypes),
		SessionID:      d.SessionID,
		Workstation:    ws,
		ConnectedAt:    r.clock.Now(),
	}

	r.mu.Lock()
	if old, ok := r.sessions[connID]; ok {
		r.unindexLocked(old)
	}
	r.sessions[connID] = s
	addTo(r.byRole, sysutil.Fold(s.Role), connID)
	addTo(r.byOutlet, s.OutletID, connID)
	n := len(r.sessions)
	r.mu.Unlock()

	connectedGauge.Set(float64(n))
	log.Info().
		Str("component", "devices").
		Str("connection_id", connID).
		Str("device_id", s.DeviceID).
		Str("outlet_id", s.OutletID).
		Str("role", s.Role).
		Str("workstation", ws.String()).
		Msg("device registered")
	return *s
}

// Unregister removes the session for connID. Unknown ids are ignored.
func (r *Registry) Unregister(connID string) {
	r.mu.Lock()
	s, ok := r.sessions[connID]
	if ok {
		delete(r.sessions, connID)
		r.unindexLocked(s)
	}
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	connectedGauge.Set(float64(n))
	log.Info().
		Str("component", "devices").
		Str("connection_id", connID).
		Str("device_id", s.DeviceID).
		Msg("device unregistered")
}

// GetByConnection returns the session for connID.
func (r *Registry) GetByConnection(connID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[connID]
	if !ok {
		return Session{}, false
	}
	return *s, true
}

// GetByDeviceID scans every session for deviceID. When a device holds more
// than one connection the most recent one wins.
func (r *Registry) GetByDeviceID(deviceID string) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *Session
	for _, s := range r.sessions {
		if s.DeviceID != deviceID {
			continue
		}
		if best == nil || s.ConnectedAt.After(best.ConnectedAt) ||
			(s.ConnectedAt.Equal(best.ConnectedAt) && s.ConnectionID > best.ConnectionID) {
			best = s
		}
	}
	if best == nil {
		return Session{}, false
	}
	return *best, true
}

// ListByOutlet returns the sessions of one outlet.
func (r *Registry) ListByOutlet(outletID string) []Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.collectLocked(r.byOutlet[strings.TrimSpace(outletID)], "")
}

// ListByRole returns sessions whose role contains role, ignoring case.
// A non-empty outletID narrows the result to that outlet.
func (r *Registry) ListByRole(role, outletID string) []Session {
	q := sysutil.Fold(role)
	outletID = strings.TrimSpace(outletID)

	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := idSet{}
	for key, set := range r.byRole {
		if !strings.Contains(key, q) {
			continue
		}
		for id := range set {
			ids[id] = struct{}{}
		}
	}
	return r.collectLocked(ids, outletID)
}

// Snapshot returns a diagnostic summary of every session.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	all := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, *s)
	}
	r.mu.RUnlock()

	sortSessions(all)
	out := Snapshot{TotalConnected: len(all), Devices: make([]Summary, 0, len(all))}
	for _, s := range all {
		out.Devices = append(out.Devices, Summary{
			ConnectionID: s.ConnectionID,
			DeviceID:     s.DeviceID,
			OutletID:     s.OutletID,
			Role:         s.Role,
			DeviceName:   s.DeviceName,
			Workstation:  s.Workstation.String(),
			ConnectedAt:  s.ConnectedAt,
		})
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) unindexLocked(s *Session) {
	removeFrom(r.byRole, sysutil.Fold(s.Role), s.ConnectionID)
	removeFrom(r.byOutlet, s.OutletID, s.ConnectionID)
}

func (r *Registry) collectLocked(ids idSet, outletID string) []Session {
	out := make([]Session, 0, len(ids))
	for id := range ids {
		s, ok := r.sessions[id]
		if !ok {
			continue
		}
		if outletID != "" && s.OutletID != outletID {
			continue
		}
		out = append(out, *s)
	}
	sortSessions(out)
	return out
}

func addTo(idx map[string]idSet, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = idSet{}
		idx[key] = set
	}
	set[id] = struct{}{}
}

func removeFrom(idx map[string]idSet, key, id string) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// sortSessions orders by connection time, then connection id.
func sortSessions(ss []Session) {
	sort.Slice(ss, func(i, j int) bool {
		if !ss[i].ConnectedAt.Equal(ss[j].ConnectedAt) {
			return ss[i].ConnectedAt.Before(ss[j].ConnectedAt)
		}
		return ss[i].ConnectionID < ss[j].ConnectionID
	})
}
