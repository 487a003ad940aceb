package httpapi

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/alloybuild/orchestrator/internal/logstream"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Log subscribers are authenticated via the same bearer/API-key
	// middleware as every other client route; the origin check is not
	// a security boundary here.
	CheckOrigin: func(r *http.Request) bool { return true },
}

func serveLogWebSocket(hub *logstream.Hub, w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	logstream.ServeSubscriber(hub, conn, jobID)
}
