package server

import (
	"time"

	"github.com/teranos/upilookup/archive"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/results"
	"github.com/teranos/upilookup/server/wslogs"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients
	MaxClients = 100

	// ShutdownTimeout bounds how long Stop waits for goroutines
	ShutdownTimeout = 5 * time.Second

	// clientSendBuffer is the per-client outbound queue depth
	clientSendBuffer = 256

	// defaultRecentEvents is how many activity log entries /api/events returns by default
	defaultRecentEvents = 50
)

// ServerState represents the server lifecycle state
type ServerState int32

const (
	ServerStateRunning  ServerState = iota // Normal operation
	ServerStateDraining                    // Shutdown in progress
	ServerStateStopped                     // Shutdown complete
)

func (s ServerState) String() string {
	switch s {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// StartRunRequest is the body of POST /api/run.
type StartRunRequest struct {
	Numbers []string `json:"numbers"`
	Source  string   `json:"source,omitempty"` // label stored with the archived run
}

// StartRunResponse reports what was accepted from the submitted lines.
type StartRunResponse struct {
	State      async.JobState          `json:"state"`
	Accepted   int                     `json:"accepted"`
	Invalid    []input.ValidationError `json:"invalid,omitempty"`
	Duplicates int                     `json:"duplicates"`
}

// RunStatusResponse is the body of GET /api/run and every control response.
type RunStatusResponse struct {
	State       async.JobState `json:"state"`
	Progress    async.Progress `json:"progress"`
	Percentage  float64        `json:"percentage"`
	SuccessRate float64        `json:"success_rate"`
	ElapsedMS   int64          `json:"elapsed_ms"`
	Throughput  float64        `json:"throughput"` // processed items per second
}

func newRunStatus(state async.JobState) RunStatusResponse {
	progress := state.Progress()
	return RunStatusResponse{
		State:       state,
		Progress:    progress,
		Percentage:  progress.Percentage(),
		SuccessRate: state.SuccessRate(),
		ElapsedMS:   state.Elapsed().Milliseconds(),
		Throughput:  state.Throughput(),
	}
}

// ResultsResponse is the body of GET /api/results.
type ResultsResponse struct {
	Counts  results.Counts  `json:"counts"`
	Entries []results.Entry `json:"entries"`
}

// BanksResponse is the body of GET /api/banks.
type BanksResponse struct {
	Distribution []results.BankCount `json:"distribution"`
	Groups       []results.BankGroup `json:"groups"`
}

// RunHistoryResponse is the body of GET /api/runs/{id}.
type RunHistoryResponse struct {
	Run      *archive.Run        `json:"run"`
	Banks    []results.BankCount `json:"banks"`
	Outcomes []results.Entry     `json:"outcomes"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	ServerState string `json:"server_state"`
	RunStatus   string `json:"run_status"`
	Clients     int    `json:"clients"`

	System async.SystemMetrics `json:"system"`
}

// Message types sent over /ws
const (
	MessageSnapshot = "snapshot" // sent once on connect
	MessageEvent    = "event"
	MessageError    = "error"
	MessageLog      = "log" // server log line at info or above
)

// wsMessage is one frame sent to a WebSocket client.
type wsMessage struct {
	Type   string          `json:"type"`
	Event  *async.Event    `json:"event,omitempty"`
	State  *async.JobState `json:"state,omitempty"`
	Recent []async.Event   `json:"recent,omitempty"`
	Error  string          `json:"error,omitempty"`
	Log    *wslogs.Message `json:"log,omitempty"`
}

// wsCommand is one frame received from a WebSocket client.
type wsCommand struct {
	Action string `json:"action"` // pause, resume, cancel
}
