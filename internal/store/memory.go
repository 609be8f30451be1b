package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
)

// Memory keeps everything in process. It is the default backend for a single
// signaling instance.
type Memory struct {
	mu           sync.RWMutex
	rooms        map[string]*models.Room
	codes        map[string]string
	participants map[string]map[string]*models.Participant
	mailboxes    map[string]map[string][]models.SignalMessage

	*KeyedMutex
}

func NewMemory() *Memory {
	return &Memory{
		rooms:        make(map[string]*models.Room),
		codes:        make(map[string]string),
		participants: make(map[string]map[string]*models.Participant),
		mailboxes:    make(map[string]map[string][]models.SignalMessage),
		KeyedMutex:   NewKeyedMutex(),
	}
}

// Backend exposes the memory store through the Backend bundle.
func (m *Memory) Backend() *Backend {
	return &Backend{Rooms: m, Mailbox: m, Locker: m, Close: func() error { return nil }}
}

func (m *Memory) CreateRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.ID]; ok {
		return ErrRoomExists
	}
	if _, ok := m.codes[room.Code]; ok && room.Code != "" {
		return ErrRoomExists
	}
	r := *room
	m.rooms[room.ID] = &r
	if room.Code != "" {
		m.codes[room.Code] = room.ID
	}
	return nil
}

func (m *Memory) GetRoom(_ context.Context, roomID string) (*models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	out := *r
	return &out, nil
}

func (m *Memory) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	m.mu.RLock()
	id, ok := m.codes[code]
	m.mu.RUnlock()
	if !ok {
		return nil, models.ErrRoomNotFound
	}
	return m.GetRoom(ctx, id)
}

func (m *Memory) UpdateRoom(_ context.Context, room *models.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[room.ID]; !ok {
		return models.ErrRoomNotFound
	}
	r := *room
	m.rooms[room.ID] = &r
	return nil
}

func (m *Memory) DeleteRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return models.ErrRoomNotFound
	}
	delete(m.codes, r.Code)
	delete(m.rooms, roomID)
	delete(m.participants, roomID)
	return nil
}

func (m *Memory) ListRooms(_ context.Context) ([]models.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, *r)
	}
	sortRooms(out)
	return out, nil
}

func (m *Memory) SaveParticipant(_ context.Context, p *models.Participant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[p.RoomID]; !ok {
		return models.ErrRoomNotFound
	}
	byID, ok := m.participants[p.RoomID]
	if !ok {
		byID = make(map[string]*models.Participant)
		m.participants[p.RoomID] = byID
	}
	for id, existing := range byID {
		if id != p.ID && existing.AccountID == p.AccountID {
			return ErrDuplicateParticipant
		}
	}
	cp := copyParticipant(p)
	byID[p.ID] = &cp
	return nil
}

func (m *Memory) GetParticipant(_ context.Context, roomID, participantID string) (*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.participants[roomID][participantID]
	if !ok {
		return nil, models.ErrParticipantNotFound
	}
	cp := copyParticipant(p)
	return &cp, nil
}

func (m *Memory) FindParticipant(_ context.Context, roomID, accountID string) (*models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.participants[roomID] {
		if p.AccountID == accountID {
			cp := copyParticipant(p)
			return &cp, nil
		}
	}
	return nil, models.ErrParticipantNotFound
}

func (m *Memory) ListParticipants(_ context.Context, roomID string) ([]models.Participant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Participant, 0, len(m.participants[roomID]))
	for _, p := range m.participants[roomID] {
		out = append(out, copyParticipant(p))
	}
	sortParticipants(out)
	return out, nil
}

func (m *Memory) Enqueue(_ context.Context, recipientID string, msg *models.SignalMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	boxes, ok := m.mailboxes[msg.RoomID]
	if !ok {
		boxes = make(map[string][]models.SignalMessage)
		m.mailboxes[msg.RoomID] = boxes
	}
	boxes[recipientID] = append(boxes[recipientID], *msg)
	return nil
}

func (m *Memory) Claim(_ context.Context, roomID, recipientID string, since, now time.Time) ([]models.SignalMessage, error) {
	m.mu.Lock()
	pending := m.mailboxes[roomID][recipientID]
	if len(pending) > 0 {
		delete(m.mailboxes[roomID], recipientID)
	}
	m.mu.Unlock()

	return deliverable(pending, since, now), nil
}

func (m *Memory) PurgeRecipient(_ context.Context, roomID, recipientID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mailboxes[roomID], recipientID)
	return nil
}

func (m *Memory) PurgeRoom(_ context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mailboxes, roomID)
	return nil
}

func (m *Memory) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for roomID, boxes := range m.mailboxes {
		for recipient, msgs := range boxes {
			kept := msgs[:0]
			for _, msg := range msgs {
				if msg.Expired(now) {
					purged++
					continue
				}
				kept = append(kept, msg)
			}
			if len(kept) == 0 {
				delete(boxes, recipient)
			} else {
				boxes[recipient] = kept
			}
		}
		if len(boxes) == 0 {
			delete(m.mailboxes, roomID)
		}
	}
	return purged, nil
}

func copyParticipant(p *models.Participant) models.Participant {
	cp := *p
	if p.LeftAt != nil {
		t := *p.LeftAt
		cp.LeftAt = &t
	}
	return cp
}

func sortParticipants(ps []models.Participant) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].JoinedAt.Equal(ps[j].JoinedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].JoinedAt.Before(ps[j].JoinedAt)
	})
}

func sortRooms(rooms []models.Room) {
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].CreatedAt.Before(rooms[j].CreatedAt) })
}
