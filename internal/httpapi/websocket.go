package httpapi

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventStream upgrades to a websocket and relays every event
// published by the Executor for the lifetime of the connection
// (spec.md §6 `/agent/events`).
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := s.publisher.Subscribe()
	defer s.publisher.Unsubscribe(ch)

	// Drain client-initiated messages (pings, close frames) so the
	// connection is noticed once it goes away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-closed:
			return
		}
	}
}

// readSessionLog loads the worker supervisor's persisted log for a
// task, written by internal/worker.Supervisor.persist.
func readSessionLog(root, taskID string) (json.RawMessage, error) {
	path := filepath.Join(root, "data", taskID+".log.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
