package server

import (
	"github.com/teranos/upilookup/pulse/async"
	"github.com/teranos/upilookup/server/wslogs"
)

// run is the hub loop: it owns client registration and fans controller
// events and server log lines out to every client.
func (s *Server) run(events <-chan async.Event) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.handleClientRegister(client)
		case client := <-s.unregister:
			s.handleClientUnregister(client)
		case e, ok := <-events:
			if !ok {
				return
			}
			s.broadcastEvent(e)
		case msg := <-s.logCh:
			s.broadcastLog(msg)
		}
	}
}

// handleClientRegister adds a client and sends it the current snapshot and
// the recent activity log.
func (s *Server) handleClientRegister(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", shortID(client.id),
			"max_clients", MaxClients,
		)
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", shortID(client.id), "total_clients", total)

	state := s.ctrl.Snapshot()
	client.trySend(wsMessage{
		Type:   MessageSnapshot,
		State:  &state,
		Recent: s.ctrl.Recent(defaultRecentEvents),
	})
}

// handleClientUnregister handles a client disconnection
func (s *Server) handleClientUnregister(client *Client) {
	s.mu.Lock()
	_, ok := s.clients[client]
	if ok {
		delete(s.clients, client)
	}
	total := len(s.clients)
	s.mu.Unlock()

	if ok {
		client.close()
		s.logger.Infow("Client disconnected", "client_id", shortID(client.id), "total_clients", total)
	}
}

// broadcastEvent queues e for every client. Slow clients miss events.
func (s *Server) broadcastEvent(e async.Event) {
	msg := wsMessage{Type: MessageEvent, Event: &e}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if !client.trySend(msg) {
			s.broadcastDrops.Add(1)
		}
	}
}

// broadcastLog queues a server log line for every client. It must not log:
// its own output would feed back into logCh.
func (s *Server) broadcastLog(msg wslogs.Message) {
	frame := wsMessage{Type: MessageLog, Log: &msg}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for client := range s.clients {
		if !client.trySend(frame) {
			s.broadcastDrops.Add(1)
		}
	}
}
