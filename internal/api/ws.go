package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/hitsz-openauto/hoa-pr/internal/session"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 90 * time.Second
	wsPingInterval = 30 * time.Second
	wsSendBuffer   = 16
)

// Frame types exchanged over /api/v1/ws.
const (
	frameHello   = "hello"
	frameMessage = "message"
	frameAck     = "hello_ack"
	frameReply   = "reply"
	frameError   = "error"
)

// inFrame is a client frame. A hello binds default user, scope and sender
// name for the connection; message frames may then omit them.
type inFrame struct {
	Type       string `json:"type"`
	ID         string `json:"id,omitempty"`
	User       string `json:"user,omitempty"`
	Scope      string `json:"scope,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
	Text       string `json:"text,omitempty"`
	Budget     int    `json:"budget,omitempty"`
}

type outFrame struct {
	Type   string `json:"type"`
	ID     string `json:"id,omitempty"`
	ConnID string `json:"conn_id,omitempty"`
	*messageResponse
	Error string `json:"error,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan outFrame

	user, scope, sender string
}

// serveWS upgrades the request and runs one conversation per frame. Frames
// of a connection are handled in arrival order.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &wsConn{id: uuid.NewString(), conn: ws, send: make(chan outFrame, wsSendBuffer)}
	slog.Info("websocket connected", "conn_id", c.id, "remote", r.RemoteAddr)

	done := make(chan struct{})
	go func() {
		c.writePump()
		close(done)
	}()
	s.readPump(r, c)
	close(c.send)
	<-done
	slog.Info("websocket closed", "conn_id", c.id)
}

func (s *Server) readPump(r *http.Request, c *wsConn) {
	ws := c.conn
	ws.SetReadLimit(maxBody)
	_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("websocket read failed", "conn_id", c.id, "error", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(wsReadTimeout))

		var in inFrame
		if err := json.Unmarshal(data, &in); err != nil {
			c.send <- outFrame{Type: frameError, Error: "invalid JSON frame"}
			continue
		}
		c.send <- s.handleFrame(r, c, in)
	}
}

func (s *Server) handleFrame(r *http.Request, c *wsConn, in inFrame) outFrame {
	switch in.Type {
	case frameHello:
		c.user, c.scope, c.sender = in.User, in.Scope, in.SenderName
		return outFrame{Type: frameAck, ID: in.ID, ConnID: c.id}
	case frameMessage, "":
		msg := session.Message{
			User:       firstNonEmpty(in.User, c.user),
			Scope:      firstNonEmpty(in.Scope, c.scope),
			SenderName: firstNonEmpty(in.SenderName, c.sender),
			Text:       in.Text,
			Budget:     in.Budget,
		}
		if problem := validMessage(msg); problem != "" {
			return outFrame{Type: frameError, ID: in.ID, Error: problem}
		}
		resp := toResponse(s.engine.Handle(r.Context(), msg))
		return outFrame{Type: frameReply, ID: in.ID, messageResponse: &resp, Error: resp.Error}
	default:
		return outFrame{Type: frameError, ID: in.ID, Error: "unknown frame type: " + in.Type}
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(wsPingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case f, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				slog.Warn("websocket write failed", "conn_id", c.id, "error", err)
				c.abort()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}
		}
	}
}

// abort closes a broken connection, which unblocks the reader, and drains
// frames still queued for it until the reader closes the channel.
func (c *wsConn) abort() {
	_ = c.conn.Close()
	for range c.send {
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
