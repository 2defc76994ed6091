package bridge

import (
	"sync"
	"time"
)

// Connection states, in the order a Manager moves through them.
const (
	StateDisconnected = "disconnected"
	StateConnecting   = "connecting"
	StateIdentified   = "identified"
	StateClosed       = "closed"
)

// Facade is the read-only view of a running bridge.
type Facade interface {
	// Status is "connected" while the transport is open and "disconnected"
	// otherwise.
	Status() string
	// Commands lists the registered command names.
	Commands() []string
}

// Snapshot is what /status reports.
type Snapshot struct {
	Status      string    `json:"status"`
	State       string    `json:"state"`
	ClientName  string    `json:"client_name"`
	Controller  string    `json:"controller"`
	Commands    []string  `json:"commands"`
	InFlight    int       `json:"in_flight"`
	Reconnects  int       `json:"reconnects"`
	LastError   string    `json:"last_error"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`
	Version     string    `json:"version"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildSHA  string `json:"build_sha"`
	BuildDate string `json:"build_date"`
}

var buildInfo = VersionInfo{Version: "dev", BuildSHA: "unknown", BuildDate: "unknown"}

func SetBuildInfo(v, sha, date string) {
	buildInfo = VersionInfo{Version: v, BuildSHA: sha, BuildDate: date}
}

func GetVersionInfo() VersionInfo {
	return buildInfo
}

// tracker holds the mutable part of a Snapshot.
type tracker struct {
	mu          sync.RWMutex
	state       string
	open        bool
	inFlight    int
	reconnects  int
	lastError   string
	connectedAt time.Time
}

func newTracker() *tracker {
	return &tracker{state: StateDisconnected}
}

func (t *tracker) setState(s string) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

func (t *tracker) setOpen(v bool) {
	t.mu.Lock()
	t.open = v
	if v {
		t.connectedAt = time.Now()
		t.lastError = ""
	}
	t.mu.Unlock()
	setConnected(v)
}

func (t *tracker) setLastError(err error) {
	if err == nil {
		return
	}
	t.mu.Lock()
	t.lastError = err.Error()
	t.mu.Unlock()
}

func (t *tracker) reconnect() {
	t.mu.Lock()
	t.reconnects++
	t.mu.Unlock()
	reconnectsCounter.Inc()
}

func (t *tracker) addInFlight(n int) {
	t.mu.Lock()
	t.inFlight += n
	cur := t.inFlight
	t.mu.Unlock()
	inFlightGauge.Set(float64(cur))
}

func (t *tracker) isOpen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.open
}

func (t *tracker) fill(s *Snapshot) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s.State = t.state
	s.InFlight = t.inFlight
	s.Reconnects = t.reconnects
	s.LastError = t.lastError
	if t.open {
		s.ConnectedAt = t.connectedAt
	}
}
