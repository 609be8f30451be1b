package store

import (
	"context"
	"time"

	"github.com/mossy-p/webrtc-studio/internal/models"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type roomRecord struct {
	ID              string `gorm:"primaryKey;size:64"`
	Code            string `gorm:"size:16;uniqueIndex"`
	Title           string `gorm:"size:200"`
	HostID          string `gorm:"size:128;index"`
	Status          string `gorm:"size:16;not null;default:'ACTIVE'"`
	CreatedAt       time.Time
	LastActivity    time.Time
	MaxParticipants int `gorm:"not null;default:8"`
}

func (roomRecord) TableName() string { return "rooms" }

type participantRecord struct {
	ID          string `gorm:"primaryKey;size:64"`
	RoomID      string `gorm:"size:64;not null;uniqueIndex:idx_participant_room_account"`
	AccountID   string `gorm:"size:128;not null;uniqueIndex:idx_participant_room_account"`
	DisplayName string `gorm:"size:100"`
	Role        string `gorm:"size:16;not null"`
	JoinedAt    time.Time
	LeftAt      *time.Time
	LastSeen    time.Time
}

func (participantRecord) TableName() string { return "participants" }

type messageRecord struct {
	Seq         uint64            `gorm:"primaryKey;autoIncrement"`
	ID          string            `gorm:"size:64;index"`
	RoomID      string            `gorm:"size:64;not null;index:idx_mailbox"`
	RecipientID string            `gorm:"size:64;not null;index:idx_mailbox"`
	Type        string            `gorm:"size:20;not null"`
	FromID      string            `gorm:"size:64"`
	ToID        *string           `gorm:"size:64"`
	Data        models.SignalData `gorm:"serializer:json"`
	CreatedAt   time.Time
	ExpiresAt   time.Time `gorm:"index"`
	Processed   bool      `gorm:"not null;default:false;index"`
}

func (messageRecord) TableName() string { return "signaling_messages" }

// SQL persists rooms, participants and signaling messages through gorm.
// Postgres is the production dialect.
type SQL struct {
	db *gorm.DB
}

func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db}
}

// Migrate creates or updates the tables.
func (s *SQL) Migrate() error {
	return s.db.AutoMigrate(&roomRecord{}, &participantRecord{}, &messageRecord{})
}

// Backend exposes the SQL store. Room locking stays in process, or is
// provided by locker when several instances share the database.
func (s *SQL) Backend(locker Locker) *Backend {
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Backend{
		Rooms:   s,
		Mailbox: s,
		Locker:  locker,
		Close: func() error {
			sqlDB, err := s.db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	}
}

func toRoomRecord(r *models.Room) roomRecord {
	return roomRecord{
		ID:              r.ID,
		Code:            r.Code,
		Title:           r.Title,
		HostID:          r.HostID,
		Status:          string(r.Status),
		CreatedAt:       r.CreatedAt.UTC(),
		LastActivity:    r.LastActivity.UTC(),
		MaxParticipants: r.MaxParticipants,
	}
}

func (r roomRecord) model() *models.Room {
	return &models.Room{
		ID:              r.ID,
		Code:            r.Code,
		Title:           r.Title,
		HostID:          r.HostID,
		Status:          models.RoomStatus(r.Status),
		CreatedAt:       r.CreatedAt,
		LastActivity:    r.LastActivity,
		MaxParticipants: r.MaxParticipants,
	}
}

func toParticipantRecord(p *models.Participant) participantRecord {
	rec := participantRecord{
		ID:          p.ID,
		RoomID:      p.RoomID,
		AccountID:   p.AccountID,
		DisplayName: p.DisplayName,
		Role:        string(p.Role),
		JoinedAt:    p.JoinedAt.UTC(),
		LastSeen:    p.LastSeen.UTC(),
	}
	if p.LeftAt != nil {
		t := p.LeftAt.UTC()
		rec.LeftAt = &t
	}
	return rec
}

func (p participantRecord) model() models.Participant {
	return models.Participant{
		ID:          p.ID,
		RoomID:      p.RoomID,
		AccountID:   p.AccountID,
		DisplayName: p.DisplayName,
		Role:        models.Role(p.Role),
		JoinedAt:    p.JoinedAt,
		LeftAt:      p.LeftAt,
		LastSeen:    p.LastSeen,
	}
}

func (s *SQL) CreateRoom(ctx context.Context, room *models.Room) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&roomRecord{}).
		Where("id = ? OR code = ?", room.ID, room.Code).Count(&count).Error; err != nil {
		return errors.Wrap(err, "check room")
	}
	if count > 0 {
		return ErrRoomExists
	}

	rec := toRoomRecord(room)
	return errors.Wrap(s.db.WithContext(ctx).Create(&rec).Error, "create room")
}

func (s *SQL) getRoom(ctx context.Context, query string, arg string) (*models.Room, error) {
	var rec roomRecord
	err := s.db.WithContext(ctx).Where(query, arg).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrRoomNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load room")
	}
	return rec.model(), nil
}

func (s *SQL) GetRoom(ctx context.Context, roomID string) (*models.Room, error) {
	return s.getRoom(ctx, "id = ?", roomID)
}

func (s *SQL) GetRoomByCode(ctx context.Context, code string) (*models.Room, error) {
	return s.getRoom(ctx, "code = ?", code)
}

func (s *SQL) UpdateRoom(ctx context.Context, room *models.Room) error {
	rec := toRoomRecord(room)
	res := s.db.WithContext(ctx).Model(&roomRecord{}).Where("id = ?", room.ID).
		Select("*").Omit("id", "created_at").Updates(&rec)
	if res.Error != nil {
		return errors.Wrap(res.Error, "update room")
	}
	if res.RowsAffected == 0 {
		return models.ErrRoomNotFound
	}
	return nil
}

func (s *SQL) DeleteRoom(ctx context.Context, roomID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", roomID).Delete(&roomRecord{})
		if res.Error != nil {
			return errors.Wrap(res.Error, "delete room")
		}
		if res.RowsAffected == 0 {
			return models.ErrRoomNotFound
		}
		return errors.Wrap(tx.Where("room_id = ?", roomID).Delete(&participantRecord{}).Error, "delete participants")
	})
}

func (s *SQL) ListRooms(ctx context.Context) ([]models.Room, error) {
	var recs []roomRecord
	if err := s.db.WithContext(ctx).Order("created_at").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list rooms")
	}
	out := make([]models.Room, 0, len(recs))
	for _, r := range recs {
		out = append(out, *r.model())
	}
	return out, nil
}

func (s *SQL) SaveParticipant(ctx context.Context, p *models.Participant) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rooms int64
		if err := tx.Model(&roomRecord{}).Where("id = ?", p.RoomID).Count(&rooms).Error; err != nil {
			return errors.Wrap(err, "check room")
		}
		if rooms == 0 {
			return models.ErrRoomNotFound
		}

		var dup int64
		if err := tx.Model(&participantRecord{}).
			Where("room_id = ? AND account_id = ? AND id <> ?", p.RoomID, p.AccountID, p.ID).
			Count(&dup).Error; err != nil {
			return errors.Wrap(err, "check account")
		}
		if dup > 0 {
			return ErrDuplicateParticipant
		}

		rec := toParticipantRecord(p)
		return errors.Wrap(tx.Save(&rec).Error, "save participant")
	})
}

func (s *SQL) findParticipant(ctx context.Context, roomID, column, value string) (*models.Participant, error) {
	var rec participantRecord
	err := s.db.WithContext(ctx).Where("room_id = ? AND "+column+" = ?", roomID, value).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, models.ErrParticipantNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load participant")
	}
	p := rec.model()
	return &p, nil
}

func (s *SQL) GetParticipant(ctx context.Context, roomID, participantID string) (*models.Participant, error) {
	return s.findParticipant(ctx, roomID, "id", participantID)
}

func (s *SQL) FindParticipant(ctx context.Context, roomID, accountID string) (*models.Participant, error) {
	return s.findParticipant(ctx, roomID, "account_id", accountID)
}

func (s *SQL) ListParticipants(ctx context.Context, roomID string) ([]models.Participant, error) {
	var recs []participantRecord
	if err := s.db.WithContext(ctx).Where("room_id = ?", roomID).
		Order("joined_at, id").Find(&recs).Error; err != nil {
		return nil, errors.Wrap(err, "list participants")
	}
	out := make([]models.Participant, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.model())
	}
	return out, nil
}

func (s *SQL) Enqueue(ctx context.Context, recipientID string, msg *models.SignalMessage) error {
	rec := messageRecord{
		ID:          msg.ID,
		RoomID:      msg.RoomID,
		RecipientID: recipientID,
		Type:        string(msg.Type),
		FromID:      msg.FromID,
		ToID:        msg.ToID,
		Data:        msg.Data,
		CreatedAt:   msg.CreatedAt.UTC(),
		ExpiresAt:   msg.ExpiresAt.UTC(),
	}
	return errors.Wrap(s.db.WithContext(ctx).Create(&rec).Error, "enqueue message")
}

func (s *SQL) Claim(ctx context.Context, roomID, recipientID string, since, now time.Time) ([]models.SignalMessage, error) {
	var recs []messageRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("room_id = ? AND recipient_id = ? AND processed = ?", roomID, recipientID, false).
			Order("seq").Find(&recs).Error; err != nil {
			return err
		}
		if len(recs) == 0 {
			return nil
		}

		seqs := make([]uint64, len(recs))
		for i, r := range recs {
			seqs[i] = r.Seq
		}
		return tx.Model(&messageRecord{}).Where("seq IN ?", seqs).Update("processed", true).Error
	})
	if err != nil {
		return nil, errors.Wrap(err, "claim messages")
	}

	pending := make([]models.SignalMessage, 0, len(recs))
	for _, r := range recs {
		pending = append(pending, models.SignalMessage{
			ID:        r.ID,
			Type:      models.SignalType(r.Type),
			RoomID:    r.RoomID,
			FromID:    r.FromID,
			ToID:      r.ToID,
			Data:      r.Data,
			CreatedAt: r.CreatedAt,
			ExpiresAt: r.ExpiresAt,
		})
	}
	return deliverable(pending, since, now), nil
}

func (s *SQL) PurgeRecipient(ctx context.Context, roomID, recipientID string) error {
	return errors.Wrap(s.db.WithContext(ctx).
		Where("room_id = ? AND recipient_id = ?", roomID, recipientID).
		Delete(&messageRecord{}).Error, "purge mailbox")
}

func (s *SQL) PurgeRoom(ctx context.Context, roomID string) error {
	return errors.Wrap(s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Delete(&messageRecord{}).Error, "purge mailboxes")
}

// PurgeExpired deletes delivered rows and rows past their expiry.
func (s *SQL) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("processed = ? OR expires_at < ?", true, now.UTC()).
		Delete(&messageRecord{})
	if res.Error != nil {
		return 0, errors.Wrap(res.Error, "purge expired messages")
	}
	return int(res.RowsAffected), nil
}
