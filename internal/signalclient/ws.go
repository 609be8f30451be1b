package signalclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// ErrDisconnected means the push channel dropped. The next Receive redials.
var ErrDisconnected = errors.New("signaling connection lost")

// WSClient is the push transport. Join goes through the REST API, then a
// websocket carries messages both ways.
type WSClient struct {
	api       *API
	accountID string

	mu      sync.Mutex
	roomID  string
	session *models.JoinRoomResponse
	sock    *socket
	dialer  websocket.Dialer
}

func NewWSClient(api *API, roomID, accountID string) *WSClient {
	return &WSClient{
		api:       api,
		accountID: accountID,
		roomID:    roomID,
		dialer:    websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (c *WSClient) Join(ctx context.Context, displayName string, role models.Role) (*models.JoinRoomResponse, error) {
	c.Close()

	c.mu.Lock()
	roomID := c.roomID
	c.mu.Unlock()

	res, err := c.api.JoinRoom(ctx, roomID, models.JoinRoomRequest{
		DisplayName: displayName,
		Role:        string(role),
		AccountID:   c.accountID,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.roomID = res.RoomID
	c.session = res
	c.mu.Unlock()

	if _, err := c.connect(ctx); err != nil {
		return nil, err
	}
	return res, nil
}

func (c *WSClient) wsURL(roomID, participantID string) (string, error) {
	u, err := url.Parse(c.api.base)
	if err != nil {
		return "", errors.Wrap(err, "invalid server URL")
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/signal/" + roomID
	u.RawQuery = url.Values{"participantId": {participantID}}.Encode()
	return u.String(), nil
}

// connect attaches the joined participant to a fresh socket.
func (c *WSClient) connect(ctx context.Context) (*socket, error) {
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return nil, ErrNotJoined
	}

	target, err := c.wsURL(session.RoomID, session.ParticipantID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	c.api.authorize(header)

	conn, resp, err := c.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			defer resp.Body.Close()
			return nil, decodeError(resp)
		}
		return nil, errors.Wrap(err, "failed to connect")
	}

	s := newSocket(conn)
	c.mu.Lock()
	c.sock = s
	c.mu.Unlock()
	log.Debug().Str("participant_id", session.ParticipantID).Msg("Signaling socket connected")
	return s, nil
}

func (c *WSClient) current() *socket {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock
}

func (c *WSClient) drop(s *socket) {
	c.mu.Lock()
	if c.sock == s {
		c.sock = nil
	}
	c.mu.Unlock()
	s.close()
}

func (c *WSClient) Send(ctx context.Context, toID *string, typ models.SignalType, data models.SignalData) error {
	s := c.current()
	if s == nil {
		return ErrDisconnected
	}
	return s.send(ctx, models.SignalFrame{Type: typ, ToID: toID, Data: data})
}

// Receive blocks until at least one message is pushed, then returns it
// together with whatever else is already buffered.
func (c *WSClient) Receive(ctx context.Context) ([]models.SignalMessage, error) {
	s := c.current()
	if s == nil {
		var err error
		if s, err = c.connect(ctx); err != nil {
			return nil, err
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.incoming:
		if !ok {
			c.drop(s)
			return nil, ErrDisconnected
		}
		batch := []models.SignalMessage{msg}
		for {
			select {
			case more, ok := <-s.incoming:
				if !ok {
					return batch, nil
				}
				batch = append(batch, more)
			default:
				return batch, nil
			}
		}
	}
}

// Leave announces the departure on the socket and closes it.
func (c *WSClient) Leave(ctx context.Context) error {
	s := c.current()
	if s == nil {
		return nil
	}
	err := s.send(ctx, models.SignalFrame{Type: models.SignalTypeLeave})
	c.drop(s)

	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	return err
}

// Close drops the socket without leaving; the server treats that as a
// departure too.
func (c *WSClient) Close() {
	if s := c.current(); s != nil {
		c.drop(s)
	}
}

// socket is one websocket connection with its pumps.
type socket struct {
	conn     *websocket.Conn
	incoming chan models.SignalMessage
	outgoing chan models.SignalFrame
	done     chan struct{}
	once     sync.Once
}

func newSocket(conn *websocket.Conn) *socket {
	s := &socket{
		conn:     conn,
		incoming: make(chan models.SignalMessage, 256),
		outgoing: make(chan models.SignalFrame, 64),
		done:     make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageSize)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// The server pings; answering keeps both sides' deadlines moving.
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	go s.readPump()
	go s.writePump()
	return s
}

func (s *socket) send(ctx context.Context, f models.SignalFrame) error {
	select {
	case s.outgoing <- f:
		return nil
	case <-s.done:
		return ErrDisconnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *socket) close() {
	s.once.Do(func() { close(s.done) })
}

func (s *socket) readPump() {
	defer func() {
		s.close()
		s.conn.Close()
		close(s.incoming)
	}()

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	for {
		var msg models.SignalMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("Signaling socket closed")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		select {
		case s.incoming <- msg:
		case <-s.done:
			return
		}
	}
}

func (s *socket) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case f := <-s.outgoing:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteJSON(f); err != nil {
				s.close()
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.close()
				return
			}
		case <-s.done:
			// Flush what was queued before closing, LEAVE in particular.
			for {
				select {
				case f := <-s.outgoing:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := s.conn.WriteJSON(f); err != nil {
						return
					}
				default:
					s.conn.SetWriteDeadline(time.Now().Add(writeWait))
					s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
