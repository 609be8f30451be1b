package models

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	assert.Equal(t, RoleHost, ParseRole("host"))
	assert.Equal(t, RoleWatcher, ParseRole(" Watcher "))
	assert.Equal(t, RoleGuest, ParseRole("guest"))
	assert.Equal(t, RoleGuest, ParseRole(""))
	assert.Equal(t, RoleGuest, ParseRole("admin"))
}

func TestSignalMessageExpired(t *testing.T) {
	created := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	msg := SignalMessage{CreatedAt: created, ExpiresAt: created.Add(30 * time.Second)}

	assert.False(t, msg.Expired(created.Add(30*time.Second)))
	assert.True(t, msg.Expired(created.Add(31*time.Second)))

	msg.ExpiresAt = time.Time{}
	assert.False(t, msg.Expired(created.Add(365*24*time.Hour)), "zero expiry never expires")
}

func TestErrorCodesRoundTrip(t *testing.T) {
	wrapped := errors.Wrap(ErrParticipantNotFound, "poll")
	assert.Equal(t, CodeParticipantNotFound, ErrorCode(wrapped))
	assert.Equal(t, ErrParticipantNotFound, ErrorFromCode(CodeParticipantNotFound))

	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
	assert.Nil(t, ErrorFromCode(CodeInternal))
}

func TestSignalTypeValid(t *testing.T) {
	assert.True(t, SignalTypeCandidate.Valid())
	assert.False(t, SignalTypeHostLeft.Valid(), "server-only type")
	assert.False(t, SignalType("offer").Valid())
}
