package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"corridor-tracker/internal/fanout"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 4096
	controlBacklog = 16
)

// GET /ws
//
// Each connection is one fan-out subscriber. The read pump applies
// subscription frames; the write pump is the only writer on the socket.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logWS("websocket upgrade failed", err)
		return
	}
	sub := fanout.NewChanSubscriber(s.subscriberBuffer)
	control := make(chan interface{}, controlBacklog)
	done := make(chan struct{})

	if s.metrics != nil {
		s.metrics.WSConnections.Inc()
	}
	s.logger.Debug("websocket connected", zap.String("remote", r.RemoteAddr))

	go s.writePump(conn, sub, control, done)
	s.readPump(conn, sub, control)

	close(done)
	s.hub.UnsubscribeAll(sub)
	_ = conn.Close()
	if s.metrics != nil {
		s.metrics.WSConnections.Dec()
	}
	s.logger.Debug("websocket disconnected", zap.String("remote", r.RemoteAddr))
}

func (s *Server) readPump(conn *websocket.Conn, sub *fanout.ChanSubscriber, control chan<- interface{}) {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logWS("websocket read", err)
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			reply(control, errorFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		if err := s.validate.Struct(f); err != nil {
			reply(control, errorFrame{Type: "error", Error: err.Error()})
			continue
		}
		s.applyFrame(sub, f)
		reply(control, ackFrame{Type: "ack", Action: f.Action, ID: f.ID})
	}
}

func (s *Server) applyFrame(sub *fanout.ChanSubscriber, f clientFrame) {
	switch f.Action {
	case "track-corridor":
		s.hub.Subscribe(fanout.CorridorTopic(f.ID), sub)
	case "track-trip":
		s.hub.Subscribe(fanout.TripTopic(f.ID), sub)
	case "track-vehicle":
		s.hub.Subscribe(fanout.VehicleTopic(f.ID), sub)
	case "stop-tracking":
		if f.ID == "" {
			s.hub.UnsubscribeAll(sub)
			return
		}
		s.hub.Unsubscribe(fanout.CorridorTopic(f.ID), sub)
		s.hub.Unsubscribe(fanout.TripTopic(f.ID), sub)
		s.hub.Unsubscribe(fanout.VehicleTopic(f.ID), sub)
	}
}

// reply queues a control frame, dropping it if the writer is backed up.
func reply(control chan<- interface{}, v interface{}) {
	select {
	case control <- v:
	default:
	}
}

func (s *Server) writePump(conn *websocket.Conn, sub *fanout.ChanSubscriber, control <-chan interface{}, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	write := func(v interface{}) bool {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(v); err != nil {
			s.logWS("websocket write", err)
			_ = conn.Close()
			return false
		}
		return true
	}
	for {
		select {
		case <-done:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		case v := <-control:
			if !write(v) {
				return
			}
		case e := <-sub.C():
			if !write(e) {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (s *Server) logWS(msg string, err error) {
	s.logger.Debug(msg, zap.Error(err))
}
