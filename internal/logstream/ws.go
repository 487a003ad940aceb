package logstream

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ServeSubscriber pumps frames from jobID's stream to conn until the
// stream closes, the terminal frame is sent, or the connection errors.
// It owns conn for its lifetime and closes it on return.
func ServeSubscriber(hub *Hub, conn *websocket.Conn, jobID string) {
	defer conn.Close()

	frames, unsubscribe, ok := hub.Subscribe(jobID)
	if !ok {
		_ = writeJSON(conn, map[string]string{"error": "Job not found or already completed"})
		return
	}
	defer unsubscribe()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	// Drain reads from the client so gorilla/websocket's control-frame
	// handling (pong, close) keeps firing; subscribers never send data.
	go drainReads(conn)

	for {
		select {
		case frame, open := <-frames:
			if !open {
				return
			}
			if err := writeJSON(conn, frame); err != nil {
				return
			}
			if frame.Complete != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}
