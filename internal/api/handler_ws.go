package api

import (
	"context"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"aeropark-backend/internal/errs"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsReadLimit  = 4096
	wsSendBuffer = 32
)

var errSlowSubscriber = errs.New("subscriber send buffer full")

// wsClient adapts a websocket connection to notification.Subscriber. Writes
// go through a buffered channel drained by writePump so Send never blocks
// a broadcast.
type wsClient struct {
	id     string
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		id:     uuid.NewString(),
		conn:   conn,
		send:   make(chan []byte, wsSendBuffer),
		closed: make(chan struct{}),
	}
}

func (w *wsClient) ID() string { return w.id }

func (w *wsClient) Send(frame []byte) error {
	select {
	case <-w.closed:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case w.send <- frame:
		return nil
	default:
		return errSlowSubscriber
	}
}

func (w *wsClient) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closed)
		err = w.conn.Close()
	})
	return err
}

func (w *wsClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.closed:
			return
		case frame := <-w.send:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				_ = w.Close()
				return
			}
		case <-ticker.C:
			_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = w.Close()
				return
			}
		}
	}
}

// ParkingStream upgrades the request and subscribes the connection to
// parking events until it disconnects.
func (h *Handler) ParkingStream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "error", err)
		return
	}

	client := newWSClient(conn)
	go client.writePump()

	if err := h.hub.Subscribe(client); err != nil {
		h.hub.Unsubscribe(client)
		_ = client.Close()
		return
	}
	defer func() {
		h.hub.Unsubscribe(client)
		_ = client.Close()
	}()

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	// Hijacked connections outlive the request context.
	ctx := context.WithoutCancel(c.Request.Context())
	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket read", "subscriber_id", client.ID(), "error", err)
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		h.hub.HandleInbound(ctx, client, frame)
	}
}
