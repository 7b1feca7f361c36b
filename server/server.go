// Package server exposes a batch run over HTTP: control endpoints, result
// queries, run history, and a WebSocket stream of run events.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/archive"
	"github.com/teranos/upilookup/errors"
	"github.com/teranos/upilookup/input"
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/server/wslogs"
	"github.com/teranos/upilookup/sym"
)

// logStreamLevel is the lowest level forwarded to WebSocket clients
const logStreamLevel = zapcore.InfoLevel

// Server drives one Controller from HTTP and fans its events out to
// WebSocket clients.
type Server struct {
	ctrl           *async.Controller
	normalizer     *input.Normalizer
	archive        *archive.Store // nil disables run history
	allowedOrigins []string
	logger         *zap.SugaredLogger

	logs       *wslogs.Transport
	logCh      chan wslogs.Message

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex

	httpServer *http.Server

	// Lifecycle
	ctx            context.Context
	cancel         context.CancelFunc
	wg             sync.WaitGroup
	broadcastDrops atomic.Int64
	state          atomic.Int32
}

// New creates a server and starts its event hub. archiveStore may be nil.
func New(ctrl *async.Controller, normalizer *input.Normalizer, archiveStore *archive.Store, cfg am.ServerConfig, log *zap.SugaredLogger) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	logs := wslogs.NewTransport()
	s := &Server{
		ctrl:           ctrl,
		normalizer:     normalizer,
		archive:        archiveStore,
		allowedOrigins: cfg.AllowedOrigins,
		logger:         wslogs.Tee(log, logStreamLevel, logs).Named("server"),
		logs:           logs,
		logCh:          make(chan wslogs.Message, clientSendBuffer),
		clients:        make(map[*Client]bool),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		ctx:            ctx,
		cancel:         cancel,
	}
	s.state.Store(int32(ServerStateRunning))

	// Subscribe before the hub goroutine starts so no event is missed
	events, unsubscribe := ctrl.Subscribe()
	logs.RegisterClient("hub", s.logCh)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer unsubscribe()
		defer logs.UnregisterClient("hub")
		s.run(events)
	}()

	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.routes()
}

// Start listens on port, or the next free port near it, until Stop is called.
func (s *Server) Start(port int) error {
	actualPort, err := findAvailablePort(port)
	if err != nil {
		return errors.Wrap(err, "failed to find available port")
	}
	if actualPort != port {
		s.logger.Infow("Port in use, using alternative",
			"requested_port", port,
			"actual_port", actualPort,
		)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", actualPort),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.httpServer = srv
	s.mu.Unlock()

	s.logger.Infow(fmt.Sprintf("%s HTTP server listening on port %d", sym.Pulse, actualPort),
		"url", fmt.Sprintf("http://localhost:%d", actualPort))

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen on port %d", actualPort)
	}
	return nil
}

// Stop closes client connections, shuts the HTTP listener down and waits for
// background goroutines, including pending archive writes.
func (s *Server) Stop() error {
	s.logger.Infow("Initiating server shutdown")
	s.setState(ServerStateDraining)

	s.mu.RLock()
	srv := s.httpServer
	s.mu.RUnlock()

	var shutdownErr error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		shutdownErr = srv.Shutdown(ctx)
		cancel()
	}

	// Close all client connections before cancelling context so the pumps exit cleanly
	s.mu.Lock()
	clientsToClose := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clientsToClose = append(clientsToClose, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()
	for _, client := range clientsToClose {
		client.conn.Close()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.logger.Infow("All goroutines stopped cleanly")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Goroutine shutdown timed out, forcing exit", "timeout", ShutdownTimeout)
	}

	s.setState(ServerStateStopped)
	s.logger.Infow("Server shutdown complete",
		"broadcast_drops", s.broadcastDrops.Load(),
		"log_drops", s.logs.Drops())
	return errors.Wrap(shutdownErr, "http shutdown")
}

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", newState.String())
}

// startRun normalizes lines, starts the controller and archives the run once
// it drains.
func (s *Server) startRun(req StartRunRequest) (StartRunResponse, error) {
	if s.getState() != ServerStateRunning {
		return StartRunResponse{}, errors.WithHint(
			errors.Mark(errors.New("server is shutting down"), errors.ErrInvalidTransition),
			"retry once the server has restarted")
	}

	report := s.normalizer.Normalize(req.Numbers)
	if len(report.Items) == 0 && len(report.Invalid) > 0 {
		return StartRunResponse{Invalid: report.Invalid, Duplicates: report.Duplicates},
			errors.Mark(errors.Newf("no valid phone numbers among %d lines", report.TotalLines), errors.ErrValidation)
	}

	if err := s.ctrl.Start(report.Items); err != nil {
		return StartRunResponse{}, err
	}
	state := s.ctrl.Snapshot()

	s.logger.Infow("Run submitted",
		"run_id", shortID(state.RunID),
		"accepted", len(report.Items),
		"invalid", len(report.Invalid),
		"duplicates", report.Duplicates,
	)

	if s.archive != nil {
		source := req.Source
		if source == "" {
			source = "api"
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			// archive even if the server is stopping; the run itself is bounded
			ctx := context.WithoutCancel(s.ctx)
			if _, err := s.archive.SaveWhenDrained(ctx, s.ctrl, source); err != nil {
				s.logger.Warnw("Failed to archive run", "run_id", state.RunID, "error", err)
			}
		}()
	}

	return StartRunResponse{
		State:      state,
		Accepted:   len(report.Items),
		Invalid:    report.Invalid,
		Duplicates: report.Duplicates,
	}, nil
}

// control applies a pause, resume, cancel or reset.
func (s *Server) control(action string) error {
	switch action {
	case "pause":
		return s.ctrl.Pause()
	case "resume":
		return s.ctrl.Resume()
	case "cancel":
		return s.ctrl.Cancel()
	case "reset":
		return s.ctrl.Reset()
	default:
		return errors.NewInvalidRequestError("unknown action %q", action)
	}
}
