package http

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"quill/internal/shared/async"
)

const streamWriteTimeout = 10 * time.Second

// handleStream upgrades to a websocket and pushes progress snapshots until
// the run is done or the client goes away.
func (s *Server) handleStream(c *gin.Context) {
	runID := c.Param("id")
	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	snapshots, err := s.runs.Watch(ctx, callerID(c), runID)
	if err != nil {
		writeError(c, err)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade for %s failed: %v", runID, err)
		return
	}
	defer func() { _ = conn.Close() }()

	// The read side only detects the client going away.
	readerDone := async.Go(s.logger, "ws-reader-"+runID, func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	for snap := range snapshots {
		msg := StreamMessage{Type: "snapshot", Data: snap, Timestamp: time.Now(), RunID: runID}
		if err := s.writeFrame(conn, msg); err != nil {
			s.logger.Debug("stream %s closed by client: %v", runID, err)
			break
		}
		if snap.Done {
			_ = s.writeFrame(conn, StreamMessage{Type: "done", Timestamp: time.Now(), RunID: runID})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"),
				time.Now().Add(time.Second))
			break
		}
	}
	_ = conn.Close()
	<-readerDone
}

func (s *Server) writeFrame(conn *websocket.Conn, msg StreamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(msg)
}
