package daemon

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"optibatch/internal/bulk"
	"optibatch/internal/job"
	"optibatch/internal/logging"
)

const (
	defaultFeedBuffer = 64
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingInterval      = (pongWait * 9) / 10
)

// Feed message kinds.
const (
	FeedSnapshot = "snapshot"
	FeedJob      = "job"
	FeedBulk     = "bulk"
)

// FeedMessage is one frame on the /api/events websocket. The first frame is
// always a snapshot of the daemon status.
type FeedMessage struct {
	Type   string         `json:"type"`
	Status *Status        `json:"status,omitempty"`
	Job    *job.Event     `json:"job,omitempty"`
	Bulk   *bulk.Progress `json:"bulk,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (s *apiServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log().Debug("websocket upgrade failed", logging.Error(err))
		return
	}

	jobEvents, cancelJob := s.daemon.controller.Subscribe(s.eventBuffer)
	restoreEvents, cancelRestore := s.daemon.Runner(bulk.WorkflowRestore).Subscribe(s.eventBuffer)
	syncEvents, cancelSync := s.daemon.Runner(bulk.WorkflowSync).Subscribe(s.eventBuffer)
	s.daemon.viewerJoined()

	done := make(chan struct{})
	go readPump(conn, done)

	defer func() {
		cancelJob()
		cancelRestore()
		cancelSync()
		s.daemon.viewerLeft()
		_ = conn.Close()
	}()

	status := s.daemon.Status()
	if err := writeFrame(conn, FeedMessage{Type: FeedSnapshot, Status: &status}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		var msg FeedMessage
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		case evt, ok := <-jobEvents:
			if !ok {
				return
			}
			msg = FeedMessage{Type: FeedJob, Job: &evt}
		case p, ok := <-restoreEvents:
			if !ok {
				return
			}
			msg = FeedMessage{Type: FeedBulk, Bulk: &p}
		case p, ok := <-syncEvents:
			if !ok {
				return
			}
			msg = FeedMessage{Type: FeedBulk, Bulk: &p}
		}
		if err := writeFrame(conn, msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log().Debug("event feed write failed", logging.Error(err))
			}
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, msg FeedMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

// readPump drains control frames so pongs and close frames are processed.
// Viewers never send data; anything they do send is ignored.
func readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
