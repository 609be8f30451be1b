package models

import "github.com/pkg/errors"

// Normal negative results of room and signaling operations. Handlers map
// them to status codes; clients map the wire code back to the same value.
var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrForbidden           = errors.New("forbidden")
	ErrBadRequest          = errors.New("bad request")
)

// Wire error codes.
const (
	CodeRoomNotFound        = "room_not_found"
	CodeRoomFull            = "room_full"
	CodeParticipantNotFound = "participant_not_found"
	CodeForbidden           = "forbidden"
	CodeBadRequest          = "bad_request"
	CodeInternal            = "internal"
)

var codes = []struct {
	code string
	err  error
}{
	{CodeRoomNotFound, ErrRoomNotFound},
	{CodeRoomFull, ErrRoomFull},
	{CodeParticipantNotFound, ErrParticipantNotFound},
	{CodeForbidden, ErrForbidden},
	{CodeBadRequest, ErrBadRequest},
}

// ErrorCode returns the wire code for err.
func ErrorCode(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// ErrorFromCode maps a wire code back to its sentinel, or nil if unknown.
func ErrorFromCode(code string) error {
	for _, c := range codes {
		if c.code == code {
			return c.err
		}
	}
	return nil
}

// ErrorResponse is the JSON body of every failed API call.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
