package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/openbt/openbt/internal/events"
	"github.com/openbt/openbt/internal/scheduler"
)

const wsWriteTimeout = 10 * time.Second

var errNoBus = errors.New("no event bus configured")

// handleJobStream upgrades to WebSocket and pushes job updates for one job
// until it reaches a terminal status or the client disconnects.
func (s *Server) handleJobStream(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, err := s.scheduler.Status(id)
	if err != nil {
		s.writeSchedulerError("streamBacktest", err, w)
		return
	}
	if s.bus == nil {
		setErrorResponse("streamBacktest: streaming disabled", http.StatusServiceUnavailable,
			errNoBus, w)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	updates := make(chan *scheduler.Job, 16)
	handler := func(update *scheduler.Job) {
		if update.ID != id {
			return
		}
		select {
		case updates <- update:
		default:
			// Slow consumer; drop the intermediate update.
		}
	}
	if err := s.bus.SubscribeAsync(events.TopicJobUpdated, handler); err != nil {
		s.log.WithError(err).Error("Subscribing to job updates failed")
		return
	}
	defer func() {
		_ = s.bus.Unsubscribe(events.TopicJobUpdated, handler)
	}()

	// Drain client frames so close/ping handling works, and observe
	// disconnects.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	// Initial state before any updates arrive.
	if err := s.writeJob(conn, job); err != nil {
		return
	}
	if job.Status.Terminal() {
		return
	}

	for {
		select {
		case update := <-updates:
			if err := s.writeJob(conn, update); err != nil {
				return
			}
			if update.Status.Terminal() {
				return
			}
		case <-disconnected:
			return
		}
	}
}

func (s *Server) writeJob(conn *websocket.Conn, job *scheduler.Job) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(job)
}
