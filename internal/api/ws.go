package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/altitude"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/display"
	"github.com/laurent-ngo/Aero-Hydra-Tracker/internal/metrics"
)

const (
	wsWriteWait   = 10 * time.Second
	wsReadTimeout = 5 * time.Minute
	wsMaxMessage  = 4 << 10
)

// WebSocket message types.
const (
	MsgHello = "hello"
	MsgFrame = "frame"
	MsgView  = "view"
	MsgError = "error"
)

// wsRequest is a client message. Mode applies to frame requests and is
// remembered for the session; Selection and Window apply to view requests.
type wsRequest struct {
	Type      string `json:"type"`
	Mode      string `json:"mode,omitempty"`
	Selection string `json:"selection,omitempty"`
	Window    string `json:"window,omitempty"`
}

// wsResponse answers exactly one request, except hello which is sent on
// connect.
type wsResponse struct {
	Type    string         `json:"type"`
	Session string         `json:"session"`
	Frame   *display.Frame `json:"frame,omitempty"`
	View    *viewBody      `json:"view,omitempty"`
	Error   string         `json:"error,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := s.log.With("session", id)
	s.sessions.Add(1)
	metrics.WebSocketSessions.Inc()
	defer func() {
		s.sessions.Add(-1)
		metrics.WebSocketSessions.Dec()
		log.Debug("websocket closed")
	}()
	log.Debug("websocket opened", "remote", conn.RemoteAddr().String())

	conn.SetReadLimit(wsMaxMessage)
	mode := s.opts.Mode
	write := func(resp wsResponse) error {
		resp.Session = id
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(resp)
	}

	if err := write(wsResponse{Type: MsgHello}); err != nil {
		return
	}

	for {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		var req wsRequest
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var resp wsResponse
		switch req.Type {
		case MsgFrame:
			if req.Mode != "" {
				mode = altitude.ParseMode(req.Mode)
			}
			f := s.frame(mode)
			resp = wsResponse{Type: MsgFrame, Frame: &f}

		case MsgView:
			v, err := parseView(viewBody{Selection: req.Selection, Window: req.Window}, s.poller.View())
			if err != nil {
				resp = wsResponse{Type: MsgError, Error: err.Error()}
				break
			}
			changed := s.poller.SetView(v)
			body := toViewBody(s.poller.View())
			body.Changed = changed
			resp = wsResponse{Type: MsgView, View: &body}

		default:
			resp = wsResponse{Type: MsgError, Error: "unknown message type " + req.Type}
		}

		if err := write(resp); err != nil {
			log.Warn("websocket write failed", "error", err)
			return
		}
	}
}
