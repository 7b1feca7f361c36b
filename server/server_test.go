package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/archive"
	"github.com/teranos/upilookup/input"
	testdb "github.com/teranos/upilookup/internal/testing"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/pulse/budget"
	"github.com/teranos/upilookup/results"
)

// createTestDB is a local alias for testdb.CreateTestDB
func createTestDB(t *testing.T) *sql.DB {
	return testdb.CreateTestDB(t)
}

// stubClient resolves numbers ending in 0 to "Alpha Bank", 2 to "Beta Bank",
// and reports everything else as not found. hold blocks lookups until closed.
type stubClient struct {
	hold  chan struct{}
	calls atomic.Int64
}

func (c *stubClient) Lookup(ctx context.Context, phone string) lookup.Outcome {
	c.calls.Add(1)
	if c.hold != nil {
		<-c.hold
	}
	bank := map[byte]string{'0': "Alpha Bank", '2': "Beta Bank"}[phone[len(phone)-1]]
	if bank == "" {
		return lookup.Outcome{Kind: lookup.KindNotFound, Attempts: 1, Reason: "no account"}
	}
	return lookup.Outcome{Kind: lookup.KindSuccess, Attempts: 1, Handle: "@ybl", Record: &lookup.UpiRecord{
		PhoneNumber: phone, UpiID: phone + "@ybl", AccountHolderName: "Holder " + phone, BankName: bank, Handle: "@ybl",
	}}
}

type testEnv struct {
	srv    *Server
	http   *httptest.Server
	client *stubClient
	ctrl   *async.Controller
}

func newTestEnv(t *testing.T, client *stubClient, withArchive bool) *testEnv {
	t.Helper()
	log := zap.NewNop().Sugar()

	normalizer, err := input.NewNormalizer(am.Default().Input)
	require.NoError(t, err)

	ctrl := async.NewController(client, budget.NewLimiter(10000, time.Second), results.NewStore(),
		am.PoolConfig{Workers: 3}, log)

	var store *archive.Store
	if withArchive {
		store = archive.NewStore(createTestDB(t), log)
	}

	srv := New(ctrl, normalizer, store, am.Default().Server, log)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		if client.hold != nil {
			select {
			case <-client.hold:
			default:
				close(client.hold)
			}
		}
		ts.Close()
		srv.Stop()
	})
	return &testEnv{srv: srv, http: ts, client: client, ctrl: ctrl}
}

func (e *testEnv) post(t *testing.T, path string, body interface{}) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(e.http.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (e *testEnv) waitDrained(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.ctrl.Wait(ctx))
}

func TestStartRunAndStatus(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	resp := env.post(t, "/api/run", StartRunRequest{Numbers: []string{
		"9876543210", " 9876543211 ", "", "12345", "9876543210", "9876543212",
	}})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var started StartRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))
	assert.Equal(t, 3, started.Accepted)
	assert.Equal(t, 1, started.Duplicates)
	require.Len(t, started.Invalid, 1)
	assert.Equal(t, "12345", started.Invalid[0].Value)
	assert.NotEmpty(t, started.State.RunID)

	env.waitDrained(t)

	var status RunStatusResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/run", &status))
	assert.Equal(t, async.StatusCompleted, status.State.Status)
	assert.Equal(t, 3, status.State.ProcessedCount)
	assert.Equal(t, 2, status.State.SuccessCount)
	assert.InDelta(t, 100.0, status.Percentage, 0.001)
}

func TestStartRunRejectsAllInvalid(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	resp := env.post(t, "/api/run", StartRunRequest{Numbers: []string{"abc", "123"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error   string                  `json:"error"`
		Invalid []input.ValidationError `json:"invalid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, "no valid phone numbers")
	assert.Len(t, body.Invalid, 2)
	assert.Equal(t, async.StatusIdle, env.ctrl.Snapshot().Status)
}

func TestStartRunBadBody(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	resp, err := http.Post(env.http.URL+"/api/run", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRunActions(t *testing.T) {
	client := &stubClient{hold: make(chan struct{})}
	env := newTestEnv(t, client, false)

	// Nothing to pause yet
	assert.Equal(t, http.StatusConflict, env.post(t, "/api/run/pause", nil).StatusCode)
	assert.Equal(t, http.StatusBadRequest, env.post(t, "/api/run/explode", nil).StatusCode)

	require.Equal(t, http.StatusAccepted,
		env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543210", "9876543211"}}).StatusCode)
	// A second start while running conflicts
	assert.Equal(t, http.StatusConflict,
		env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543212"}}).StatusCode)

	resp := env.post(t, "/api/run/pause", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status RunStatusResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Equal(t, async.StatusPaused, status.State.Status)

	assert.Equal(t, http.StatusConflict, env.post(t, "/api/run/pause", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.post(t, "/api/run/resume", nil).StatusCode)
	assert.Equal(t, http.StatusOK, env.post(t, "/api/run/cancel", nil).StatusCode)

	close(client.hold)
	env.waitDrained(t)
	assert.Equal(t, http.StatusOK, env.post(t, "/api/run/reset", nil).StatusCode)
	assert.Equal(t, async.StatusIdle, env.ctrl.Snapshot().Status)

	resp, err := http.Get(env.http.URL + "/api/run/pause")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestResultsFilters(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)
	numbers := []string{"9876543210", "9876543211", "9876543212", "9876543220", "9876543213"}
	require.Equal(t, http.StatusAccepted, env.post(t, "/api/run", StartRunRequest{Numbers: numbers}).StatusCode)
	env.waitDrained(t)

	tests := []struct {
		name   string
		query  string
		phones []string
	}{
		{"all in input order", "", numbers},
		{"success only", "?kind=success", []string{"9876543210", "9876543212", "9876543220"}},
		{"multiple kinds", "?kind=not_found,success", numbers},
		{"bank filter", "?bank=Alpha%20Bank", []string{"9876543210", "9876543220"}},
		{"search", "?q=beta", []string{"9876543212"}},
		{"search and kind", "?q=98765432&kind=not_found", []string{"9876543211", "9876543213"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body ResultsResponse
			require.Equal(t, http.StatusOK, env.get(t, "/api/results"+tt.query, &body))
			var phones []string
			for _, e := range body.Entries {
				phones = append(phones, e.PhoneNumber)
			}
			assert.Equal(t, tt.phones, phones)
			assert.Equal(t, 5, body.Counts.Total)
			assert.Equal(t, 3, body.Counts.Success)
		})
	}

	var completion ResultsResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/results?order=completion", &completion))
	assert.Len(t, completion.Entries, 5)

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/results?order=random", nil))
	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/results?kind=maybe", nil))
}

func TestBanksAndEvents(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)
	numbers := []string{"9876543210", "9876543212", "9876543220", "9876543211"}
	require.Equal(t, http.StatusAccepted, env.post(t, "/api/run", StartRunRequest{Numbers: numbers}).StatusCode)
	env.waitDrained(t)

	var banks BanksResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/banks", &banks))
	require.Len(t, banks.Distribution, 2)
	assert.Equal(t, results.BankCount{Bank: "Alpha Bank", Count: 2}, banks.Distribution[0])
	assert.Equal(t, results.BankCount{Bank: "Beta Bank", Count: 1}, banks.Distribution[1])
	assert.Len(t, banks.Groups, 2)

	var events []async.Event
	require.Equal(t, http.StatusOK, env.get(t, "/api/events?limit=2", &events))
	require.Len(t, events, 2)
	assert.Equal(t, async.EventRunCompleted, events[1].Kind)

	var all []async.Event
	require.Equal(t, http.StatusOK, env.get(t, "/api/events", &all))
	assert.Len(t, all, 6, "started + 4 settled + completed")

	assert.Equal(t, http.StatusBadRequest, env.get(t, "/api/events?limit=-1", nil))
}

func TestRunHistory(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, true)
	resp := env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543210", "9876543211"}, Source: "upload.txt"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var started StartRunResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&started))

	require.Eventually(t, func() bool {
		runs, err := env.srv.archive.ListRuns(context.Background(), 0)
		return err == nil && len(runs) == 1
	}, 5*time.Second, 10*time.Millisecond)

	var runs []archive.Run
	require.Equal(t, http.StatusOK, env.get(t, "/api/runs", &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, started.State.RunID, runs[0].ID)
	assert.Equal(t, "upload.txt", runs[0].Source)

	var history RunHistoryResponse
	require.Equal(t, http.StatusOK, env.get(t, "/api/runs/"+started.State.RunID, &history))
	assert.Equal(t, async.StatusCompleted, history.Run.Status)
	assert.Len(t, history.Outcomes, 2)
	assert.Equal(t, []results.BankCount{{Bank: "Alpha Bank", Count: 1}}, history.Banks)

	assert.Equal(t, http.StatusNotFound, env.get(t, "/api/runs/does-not-exist", nil))
}

func TestRunHistoryDisabled(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)
	assert.Equal(t, http.StatusServiceUnavailable, env.get(t, "/api/runs", nil))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)

	var health HealthResponse
	require.Equal(t, http.StatusOK, env.get(t, "/health", &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "running", health.ServerState)
	assert.Equal(t, "idle", health.RunStatus)
	assert.Equal(t, 0, health.System.InFlight)
	assert.Positive(t, health.System.WorkersTotal)
}

func TestStartRejectedWhileStopping(t *testing.T) {
	env := newTestEnv(t, &stubClient{}, false)
	env.srv.setState(ServerStateDraining)

	resp := env.post(t, "/api/run", StartRunRequest{Numbers: []string{"9876543210"}})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}
