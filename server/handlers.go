package server

import (
	"net/http"
	"strings"

	"github.com/teranos/upilookup/lookup"
	"github.com/teranos/upilookup/results"
	"github.com/teranos/upilookup/version"
)

// HandleHealth reports liveness and the current run status.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	s.mu.RLock()
	clients := len(s.clients)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Version:     version.Get().Short(),
		ServerState: s.getState().String(),
		RunStatus:   string(s.ctrl.Snapshot().Status),
		Clients:     clients,
		System:      s.ctrl.SystemMetrics(),
	})
}

// HandleRun returns the run status (GET) or starts a run (POST).
func (s *Server) HandleRun(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, newRunStatus(s.ctrl.Snapshot()))

	case http.MethodPost:
		var req StartRunRequest
		if err := readJSON(w, r, &req); err != nil {
			return
		}
		resp, err := s.startRun(req)
		if err != nil {
			if resp.Invalid != nil {
				writeJSON(w, statusFor(err), map[string]interface{}{
					"error":   err.Error(),
					"invalid": resp.Invalid,
				})
				return
			}
			writeErrorFor(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, resp)

	default:
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// HandleRunAction applies pause, resume, cancel or reset.
// Returns 409 when the action is not valid in the current state.
func (s *Server) HandleRunAction(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}

	action := r.PathValue("action")
	if err := s.control(action); err != nil {
		s.logger.Debugw("Control call rejected", "action", action, "error", err)
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newRunStatus(s.ctrl.Snapshot()))
}

// HandleResults lists outcomes of the current run.
//
// Query parameters:
//
//	kind   comma-separated outcome kinds (success,not_found,...)
//	bank   exact bank name
//	q      case-insensitive search over phone, name, bank and UPI ID
//	order  "sequence" (input order, default) or "completion"
func (s *Server) HandleResults(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}

	q := r.URL.Query()
	store := s.ctrl.Store()

	var entries []results.Entry
	switch order := q.Get("order"); order {
	case "", "sequence":
		entries = store.BySequence()
	case "completion":
		entries = store.All()
	default:
		writeError(w, http.StatusBadRequest, "order must be sequence or completion")
		return
	}

	if raw := q.Get("kind"); raw != "" {
		kinds := make(map[lookup.OutcomeKind]bool)
		for _, part := range strings.Split(raw, ",") {
			kind, err := lookup.ParseKind(strings.TrimSpace(part))
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			kinds[kind] = true
		}
		entries = filter(entries, func(e results.Entry) bool { return kinds[e.Outcome.Kind] })
	}

	if bank := q.Get("bank"); bank != "" {
		entries = filter(entries, func(e results.Entry) bool { return e.BankName() == bank })
	}

	if term := q.Get("q"); term != "" {
		matches := make(map[string]bool)
		for _, e := range store.Search(term) {
			matches[e.PhoneNumber] = true
		}
		entries = filter(entries, func(e results.Entry) bool { return matches[e.PhoneNumber] })
	}

	if entries == nil {
		entries = []results.Entry{}
	}
	writeJSON(w, http.StatusOK, ResultsResponse{Counts: store.Counts(), Entries: entries})
}

// HandleBanks returns the bank distribution and per-bank groups.
func (s *Server) HandleBanks(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	store := s.ctrl.Store()
	writeJSON(w, http.StatusOK, BanksResponse{
		Distribution: store.BankDistribution(),
		Groups:       store.GroupByBank(),
	})
}

// HandleEvents returns the latest activity log entries, oldest first.
func (s *Server) HandleEvents(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := queryInt(r, "limit", defaultRecentEvents)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Recent(limit))
}

// HandleRuns lists archived runs, newest first.
func (s *Server) HandleRuns(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	runs, err := s.archive.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Errorw("Failed to list runs", "error", err)
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// HandleRunHistory returns one archived run with its outcomes and bank counts.
func (s *Server) HandleRunHistory(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "run history is disabled")
		return
	}

	id := r.PathValue("id")
	run, err := s.archive.GetRun(r.Context(), id)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	outcomes, err := s.archive.ListOutcomes(r.Context(), id)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	banks, err := s.archive.BankDistribution(r.Context(), id)
	if err != nil {
		writeErrorFor(w, err)
		return
	}
	writeJSON(w, http.StatusOK, RunHistoryResponse{Run: run, Banks: banks, Outcomes: outcomes})
}

func filter(entries []results.Entry, keep func(results.Entry) bool) []results.Entry {
	out := entries[:0:0]
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
