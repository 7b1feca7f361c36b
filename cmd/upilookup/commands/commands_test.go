package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/upilookup/archive"
	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/results"
)

func TestMain(m *testing.M) {
	pterm.DisableOutput()
	os.Exit(m.Run())
}

// fakeDirectory resolves numbers ending in an even digit and 404s the rest.
func fakeDirectory(t *testing.T) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upiID := r.URL.Query().Get("upi_id")
		phone, _, _ := strings.Cut(upiID, "@")
		last := phone[len(phone)-1] - '0'
		if last%2 != 0 {
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, `{"data":{"vpa_details":{"name":"HOLDER %s","vpa":%q},"bank_details_raw":{"BANK":"State Bank of India"}}}`, phone, upiID)
	}))
	t.Cleanup(ts.Close)
	return ts
}

// writeConfig writes an am.toml pointing at endpoint and returns its path.
func writeConfig(t *testing.T, dir, endpoint, dbPath string) string {
	t.Helper()
	path := filepath.Join(dir, "am.toml")
	body := fmt.Sprintf(`[lookup]
endpoint = %q
handles = ["@ybl"]
max_attempts = 1
block_private_ips = false

[rate_limit]
calls_per_second = 100

[pool]
workers = 2

[database]
path = %q
`, endpoint, dbPath)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// execute runs cmd with args and returns what it wrote to stdout.
func execute(t *testing.T, cmd *cobra.Command, stdin io.Reader, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(stdin)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetIn(nil)
		ConfigPath = ""
	})
	err := cmd.Execute()
	return out.String(), err
}

func TestAmInitWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")

	out, err := execute(t, AmCmd, nil, "init", "--path", path, "--force=false")
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "calls_per_second")

	_, err = execute(t, AmCmd, nil, "init", "--path", path, "--force=false")
	assert.Error(t, err, "existing file is not overwritten without --force")
}

func TestAmShowJSON(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = writeConfig(t, dir, "http://127.0.0.1:1/upi.php?upi_id={upi_id}", "")

	out, err := execute(t, AmCmd, nil, "show", "--format", "json")
	require.NoError(t, err)

	var cfg map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Contains(t, cfg, "RateLimit")
}

func TestRunArchivesAndPrintsJSON(t *testing.T) {
	ts := fakeDirectory(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "runs.db")
	ConfigPath = writeConfig(t, dir, ts.URL+"/upi.php?upi_id={upi_id}", dbPath)

	input := "9876543210\n\nnot-a-number\n9876543211\n9876543210\n9123456782\n"
	out, err := execute(t, RunCmd, strings.NewReader(input),
		"--output", "json", "--workers", "2", "--rate", "50", "--no-archive=false")
	require.NoError(t, err)

	var entries []results.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 3, "invalid and duplicate lines are not looked up")

	byPhone := map[string]lookup.OutcomeKind{}
	for _, e := range entries {
		byPhone[e.PhoneNumber] = e.Outcome.Kind
	}
	assert.Equal(t, lookup.KindSuccess, byPhone["9876543210"])
	assert.Equal(t, lookup.KindNotFound, byPhone["9876543211"])
	assert.Equal(t, lookup.KindSuccess, byPhone["9123456782"])

	ConfigPath = writeConfig(t, dir, ts.URL+"/upi.php?upi_id={upi_id}", dbPath)
	out, err = execute(t, HistoryCmd, nil, "--json", "--limit", "5")
	require.NoError(t, err)

	var runs []archive.Run
	require.NoError(t, json.Unmarshal([]byte(out), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, async.StatusCompleted, runs[0].Status)
	assert.Equal(t, "stdin", runs[0].Source)
	assert.Equal(t, 3, runs[0].TotalItems)
	assert.Equal(t, 2, runs[0].SuccessCount)
	assert.Equal(t, 1, runs[0].FailureCount)

	ConfigPath = writeConfig(t, dir, ts.URL+"/upi.php?upi_id={upi_id}", dbPath)
	out, err = execute(t, HistoryCmd, nil, runs[0].ID, "--json", "--kind", "success")
	require.NoError(t, err)

	var detail struct {
		Run      archive.Run         `json:"run"`
		Outcomes []results.Entry     `json:"outcomes"`
		Banks    []results.BankCount `json:"banks"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &detail))
	assert.Len(t, detail.Outcomes, 2)
	require.Len(t, detail.Banks, 1)
	assert.Equal(t, "State Bank of India", detail.Banks[0].Bank)
	assert.Equal(t, 2, detail.Banks[0].Count)
}

func TestRunRejectsUnknownOutput(t *testing.T) {
	_, err := execute(t, RunCmd, strings.NewReader(""), "--output", "xml")
	assert.ErrorContains(t, err, "unsupported output")
	runOutput = "table"
}

func TestHistoryEmptyDatabase(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = writeConfig(t, dir, "http://127.0.0.1:1/upi.php?upi_id={upi_id}", filepath.Join(dir, "empty.db"))

	out, err := execute(t, HistoryCmd, nil, "--json", "--limit", "5")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)
}

func TestHistoryDisabledWithoutDatabase(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = writeConfig(t, dir, "http://127.0.0.1:1/upi.php?upi_id={upi_id}", "")

	_, err := execute(t, HistoryCmd, nil, "--json=false")
	assert.ErrorContains(t, err, "history is disabled")
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, VersionCmd, nil, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"go_version"`)
}

func TestAmShowYAML(t *testing.T) {
	dir := t.TempDir()
	ConfigPath = writeConfig(t, dir, "http://127.0.0.1:1/upi.php?upi_id={upi_id}", "")

	out, err := execute(t, AmCmd, nil, "show", "--format", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "callspersecond: 100")
}

func TestVersionCheckDevBuild(t *testing.T) {
	_, err := execute(t, VersionCmd, nil, "--json=false", "--check", ">= 1.0")
	assert.NoError(t, err)

	_, err = execute(t, VersionCmd, nil, "--json=false", "--check", "not a constraint")
	assert.Error(t, err)
}

// Given: a progress bar that missed some item events
// When: a later event reports the run state
// Then: the bar catches up to the settled count and never passes the total
func TestAdvanceFollowsSettledCount(t *testing.T) {
	bar := pterm.DefaultProgressbar.WithTotal(10).WithWriter(io.Discard)

	advance(bar, 3)
	assert.Equal(t, 3, bar.Current)

	advance(bar, 2)
	assert.Equal(t, 3, bar.Current, "stale state does not move the bar back")

	advance(bar, 12)
	assert.Equal(t, 10, bar.Current)
}

func TestRenderEventWithoutBar(t *testing.T) {
	e := async.Event{
		Kind:    async.EventItemSettled,
		Phone:   "9876543210",
		Outcome: &lookup.Outcome{Kind: lookup.KindSuccess},
		State:   async.JobState{Status: async.StatusRunning, TotalItems: 2, ProcessedCount: 1},
	}
	assert.NotPanics(t, func() { renderEvent(nil, e) })
	assert.NotPanics(t, func() { advance(nil, 1) })
}
