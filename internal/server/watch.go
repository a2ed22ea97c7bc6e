package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const watchPollInterval = time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API has no browser origin policy of its own, clients connect
	// directly.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWatchRun streams run status over a websocket. One status frame
// is sent immediately, then one per poll tick until the run reaches a
// terminal state or the client disconnects.
func (s *Server) handleWatchRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("id")

	// Reject unknown runs before upgrading so the client gets a proper
	// HTTP status instead of a dropped socket.
	status, err := s.runs.GetStatus(r.Context(), runID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "run_id", runID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Read pump: discard client frames, cancel on disconnect.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		if err := conn.WriteJSON(status); err != nil {
			return
		}
		if status.Status.Terminal() {
			deadline := time.Now().Add(time.Second)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"), deadline)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err = s.runs.GetStatus(ctx, runID)
		if err != nil {
			s.logger.Warn("run status poll failed", "run_id", runID, "error", err)
			return
		}
	}
}
