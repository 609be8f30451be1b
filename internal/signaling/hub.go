package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	writeWait       = 10 * time.Second
	defaultPongWait = 20 * time.Second
	maxFrame        = 64 * 1024
	sendBuffer      = 256
)

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithPongWait sets how long a silent socket may live. Pings go out at 9/10
// of it, and every ping, pong or frame counts as liveness for the sweep, so
// it must stay well below the participant timeout.
func WithPongWait(d time.Duration) HubOption {
	return func(h *Hub) {
		if d > 0 {
			h.pongWait = d
		}
	}
}

// Hub is the push variant of the transport. Each socket gets a read pump
// that routes frames through Transport.Send and a write pump that drains the
// participant's mailbox whenever it is notified.
type Hub struct {
	transport  *Transport
	pongWait   time.Duration
	pingPeriod time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
}

// Client is one participant's socket.
type Client struct {
	hub           *Hub
	RoomID        string
	ParticipantID string
	conn          *websocket.Conn
	send          chan []byte
	wake          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

func NewHub(t *Transport, opts ...HubOption) *Hub {
	h := &Hub{transport: t, pongWait: defaultPongWait, clients: make(map[string]*Client)}
	for _, opt := range opts {
		opt(h)
	}
	h.pingPeriod = h.pongWait * 9 / 10
	return h
}

// PingPeriod is the interval between server pings.
func (h *Hub) PingPeriod() time.Duration {
	return h.pingPeriod
}

func clientKey(roomID, participantID string) string {
	return roomID + "/" + participantID
}

// Notify wakes the write pump of a locally connected participant.
func (h *Hub) Notify(_ context.Context, roomID, participantID string) {
	h.mu.RLock()
	c, ok := h.clients[clientKey(roomID, participantID)]
	h.mu.RUnlock()
	if ok {
		c.poke()
	}
}

// Attach takes ownership of conn for an already joined participant and
// blocks until the socket closes. A second socket for the same participant
// replaces the first.
func (h *Hub) Attach(ctx context.Context, conn *websocket.Conn, roomID, participantID string) {
	c := &Client{
		hub:           h,
		RoomID:        roomID,
		ParticipantID: participantID,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		wake:          make(chan struct{}, 1),
		done:          make(chan struct{}),
	}

	key := clientKey(roomID, participantID)
	h.mu.Lock()
	prev := h.clients[key]
	h.clients[key] = c
	h.mu.Unlock()
	if prev != nil {
		prev.close()
	}

	log.Info().Str("room_id", roomID).Str("participant_id", participantID).Msg("Socket attached")

	c.poke()
	go c.writePump(ctx)
	c.readPump(ctx)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}

// Count returns the number of attached sockets.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) detach(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := clientKey(c.RoomID, c.ParticipantID)
	if h.clients[key] != c {
		return false
	}
	delete(h.clients, key)
	return true
}

func (c *Client) poke() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		replaced := !c.hub.detach(c)
		c.close()
		if replaced {
			return
		}
		if err := c.hub.transport.Leave(context.WithoutCancel(ctx), c.RoomID, c.ParticipantID); err != nil &&
			!errors.Is(err, models.ErrParticipantNotFound) && !errors.Is(err, models.ErrRoomNotFound) {
			log.Error().Err(err).Str("participant_id", c.ParticipantID).Msg("Failed to leave on disconnect")
		}
		log.Info().Str("room_id", c.RoomID).Str("participant_id", c.ParticipantID).Msg("Socket closed")
	}()

	c.conn.SetReadLimit(maxFrame)
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.alive(ctx)
	})
	c.conn.SetPingHandler(func(data string) error {
		if err := c.alive(ctx); err != nil {
			return err
		}
		err := c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("participant_id", c.ParticipantID).Msg("WebSocket error")
			}
			return
		}
		if err := c.alive(ctx); err != nil {
			return
		}

		var frame models.SignalFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reject(errors.Wrap(models.ErrBadRequest, "malformed frame"))
			continue
		}
		if frame.Type == models.SignalTypeLeave {
			return
		}

		_, err = c.hub.transport.Send(ctx, c.RoomID, c.ParticipantID, frame.ToID, frame.Type, frame.Data)
		switch {
		case err == nil:
		case errors.Is(err, models.ErrRoomNotFound):
			c.reject(err)
			return
		default:
			c.reject(err)
		}
	}
}

// alive extends the read deadline and refreshes the participant's liveness.
// Only a participant that is gone ends the socket; store hiccups are logged.
func (c *Client) alive(ctx context.Context) error {
	c.conn.SetReadDeadline(time.Now().Add(c.hub.pongWait))
	err := c.hub.transport.Touch(ctx, c.RoomID, c.ParticipantID)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrParticipantNotFound), errors.Is(err, models.ErrRoomNotFound):
		return err
	default:
		log.Warn().Err(err).Str("participant_id", c.ParticipantID).Msg("Failed to refresh liveness")
		return nil
	}
}

// reject reports a failed send back to its author as an ERROR message.
func (c *Client) reject(err error) {
	msg := models.SignalMessage{
		Type:      models.SignalTypeError,
		RoomID:    c.RoomID,
		ToID:      &c.ParticipantID,
		Data:      models.SignalData{Error: models.ErrorCode(err)},
		CreatedAt: time.Now(),
	}
	data, merr := json.Marshal(msg)
	if merr != nil {
		return
	}
	select {
	case c.send <- data:
	default:
		log.Warn().Str("participant_id", c.ParticipantID).Msg("Send buffer full, dropping error")
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.hub.pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.wake:
			if err := c.drain(ctx); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}
			// Catch anything whose notification went missing.
			if err := c.drain(ctx); err != nil {
				return
			}
		}
	}
}

func (c *Client) drain(ctx context.Context) error {
	msgs, err := c.hub.transport.Poll(ctx, c.RoomID, c.ParticipantID, time.Time{})
	if err != nil {
		log.Info().Err(err).Str("participant_id", c.ParticipantID).Msg("Stopping delivery")
		return err
	}
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal message")
			continue
		}
		if err := c.write(websocket.TextMessage, data); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(kind, data); err != nil {
		log.Debug().Err(err).Str("participant_id", c.ParticipantID).Msg("Failed to write message")
		return err
	}
	return nil
}
