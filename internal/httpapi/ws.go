package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/avatara/tutor/internal/protocol"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsMaxFrameSize = 2 << 20
	wsSendBuffer   = 256
)

// handleSessionWS attaches one realtime client to an existing session. The
// client drives avatar playback: every speak_request must be answered with a
// playback_complete before the next unit is dispatched.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if _, err := s.sessions.Get(sessionID); err != nil {
		respondError(w, http.StatusNotFound, "session_not_found", "unknown session_id")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an error response.
		log.Printf("session %s: websocket upgrade failed: %v", sessionID, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	outbound := make(chan any, wsSendBuffer)

	go s.writeFrames(ctx, sessionID, conn, outbound)

	send := func(v any) error {
		select {
		case outbound <- v:
			return nil
		default:
			return errors.New("client send buffer full")
		}
	}
	if err := s.sessions.AttachClient(sessionID, send); err != nil {
		cancel()
		_ = conn.Close()
		return
	}

	s.readFrames(ctx, sessionID, conn, send)

	s.sessions.DetachClient(sessionID)
	cancel()
	_ = conn.Close()
}

func (s *Server) writeFrames(ctx context.Context, sessionID string, conn *websocket.Conn, outbound <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-outbound:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(v); err != nil {
				log.Printf("session %s: websocket write failed: %v", sessionID, err)
				return
			}
		}
	}
}

// push enqueues a handler-originated frame and counts it on success. Frames
// produced by the session layer are counted there.
func (s *Server) push(send func(v any) error, msgType protocol.MessageType, v any) {
	if send(v) == nil {
		s.metrics.WSMessages.WithLabelValues("out", string(msgType)).Inc()
	}
}

func (s *Server) readFrames(ctx context.Context, sessionID string, conn *websocket.Conn, send func(v any) error) {
	conn.SetReadLimit(wsMaxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("session %s: websocket closed: %v", sessionID, err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		msg, err := protocol.ParseClientMessage(raw)
		if err != nil {
			s.push(send, protocol.TypeErrorEvent, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "invalid_message",
				Detail:    err.Error(),
			})
			continue
		}

		switch m := msg.(type) {
		case protocol.TypedInput:
			s.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeTypedInput)).Inc()
			s.submitOverWS(ctx, sessionID, "typed", m.Text, send)
		case protocol.VoiceInput:
			s.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeVoiceInput)).Inc()
			s.submitOverWS(ctx, sessionID, "voice", m.Text, send)
		case protocol.PlaybackComplete:
			s.metrics.WSMessages.WithLabelValues("in", string(protocol.TypePlaybackComplete)).Inc()
			if err := s.sessions.PlaybackComplete(sessionID); err != nil {
				return
			}
		case protocol.ClientControl:
			s.metrics.WSMessages.WithLabelValues("in", string(protocol.TypeClientControl)).Inc()
			if done := s.handleControl(sessionID, m, send); done {
				return
			}
		}
	}
}

func (s *Server) submitOverWS(ctx context.Context, sessionID, channel, text string, send func(v any) error) {
	res, err := s.sessions.Submit(ctx, sessionID, channel, text)
	if err != nil {
		s.push(send, protocol.TypeErrorEvent, protocol.ErrorEvent{
			Type:      protocol.TypeErrorEvent,
			SessionID: sessionID,
			Code:      "submit_failed",
			Detail:    err.Error(),
		})
		return
	}
	if res.Accepted() {
		s.push(send, protocol.TypeTurnAccepted, protocol.TurnAccepted{
			Type:      protocol.TypeTurnAccepted,
			SessionID: sessionID,
			TurnID:    res.TurnID,
			TurnSeq:   res.TurnSeq,
			Channel:   channel,
		})
		return
	}
	s.push(send, protocol.TypeTurnRejected, protocol.TurnRejected{
		Type:      protocol.TypeTurnRejected,
		SessionID: sessionID,
		Channel:   channel,
		Reason:    string(res.Decision),
	})
}

// handleControl applies one client_control action. Returns true when the
// connection should close.
func (s *Server) handleControl(sessionID string, m protocol.ClientControl, send func(v any) error) bool {
	switch m.Action {
	case protocol.ActionStop:
		if _, err := s.sessions.End(sessionID); err != nil {
			return true
		}
		return true
	case protocol.ActionClearHistory:
		if err := s.sessions.ClearHistory(sessionID); err != nil {
			s.push(send, protocol.TypeErrorEvent, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				SessionID: sessionID,
				Code:      "clear_rejected",
				Detail:    err.Error(),
			})
		}
	case protocol.ActionCancelSpeech:
		if err := s.sessions.CancelSpeech(sessionID); err != nil {
			return true
		}
	case protocol.ActionStart:
		// The session is already running server-side; just confirm state.
		if info, err := s.sessions.Get(sessionID); err == nil {
			s.push(send, protocol.TypeSessionState, protocol.SessionState{
				Type:       protocol.TypeSessionState,
				SessionID:  sessionID,
				Active:     info.State.Active,
				TurnID:     info.State.TurnID,
				TurnStatus: string(info.State.TurnStatus),
				QueueDepth: info.State.QueueDepth,
				Messages:   info.State.Messages,
			})
		}
	}
	return false
}
