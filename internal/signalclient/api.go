package signalclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
)

// Error is a failed API call. It unwraps to the sentinel for its code, so
// errors.Is(err, models.ErrRoomNotFound) works on it.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("signaling server: %d %s", e.Status, e.Code)
	}
	return fmt.Sprintf("signaling server: %s (%s)", e.Message, e.Code)
}

func (e *Error) Unwrap() error {
	return models.ErrorFromCode(e.Code)
}

// API calls the REST endpoints of the signaling server.
type API struct {
	base  string
	token string
	http  *http.Client
}

// NewAPI targets baseURL, e.g. http://localhost:8080. A non-empty token is
// sent as a bearer token.
func NewAPI(baseURL, token string) *API {
	return &API{
		base:  strings.TrimRight(baseURL, "/"),
		token: token,
		http:  &http.Client{Timeout: 15 * time.Second},
	}
}

// WithToken returns a copy that authenticates as token.
func (a *API) WithToken(token string) *API {
	cp := *a
	cp.token = token
	return &cp
}

// Login exchanges credentials for a token.
func (a *API) Login(ctx context.Context, username, password string) (string, error) {
	var res struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := a.do(ctx, http.MethodPost, "/api/auth/login", body, &res); err != nil {
		return "", err
	}
	return res.Token, nil
}

func (a *API) CreateRoom(ctx context.Context, title string, maxParticipants int) (*models.CreateRoomResponse, error) {
	var res models.CreateRoomResponse
	req := models.CreateRoomRequest{Title: title, MaxParticipants: maxParticipants}
	if err := a.do(ctx, http.MethodPost, "/api/rooms", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// GetRoom looks a room up by id or code.
func (a *API) GetRoom(ctx context.Context, idOrCode string) (*models.RoomInfo, error) {
	var res models.RoomInfo
	if err := a.do(ctx, http.MethodGet, "/api/rooms/"+url.PathEscape(idOrCode), nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) DeleteRoom(ctx context.Context, idOrCode string) error {
	return a.do(ctx, http.MethodDelete, "/api/rooms/"+url.PathEscape(idOrCode), nil, nil)
}

func (a *API) JoinRoom(ctx context.Context, idOrCode string, req models.JoinRoomRequest) (*models.JoinRoomResponse, error) {
	var res models.JoinRoomResponse
	if err := a.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(idOrCode)+"/join", req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (a *API) LeaveRoom(ctx context.Context, roomID, participantID string) error {
	req := models.LeaveRoomRequest{ParticipantID: participantID}
	return a.do(ctx, http.MethodPost, "/api/rooms/"+url.PathEscape(roomID)+"/leave", req, nil)
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "encode request")
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.base+path, body)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	a.authorize(req.Header)

	resp, err := a.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}

func (a *API) authorize(h http.Header) {
	if a.token != "" {
		h.Set("Authorization", "Bearer "+a.token)
	}
}

func decodeError(resp *http.Response) error {
	var body models.ErrorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &Error{Status: resp.StatusCode, Code: body.Code, Message: body.Error}
}
