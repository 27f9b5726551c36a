package persistence

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/types"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// messageRow is the table layout of a room log entry. Seq provides the insertion order, Size caches the length of
// the serialized message for the capacity check.
type messageRow struct {
	Seq        uint64            `gorm:"primaryKey;autoIncrement"`
	RoomId     string            `gorm:"not null;uniqueIndex:idx_room_message"`
	Id         string            `gorm:"not null;uniqueIndex:idx_room_message"`
	SenderId   string            `gorm:"not null"`
	SenderName string            `gorm:"not null"`
	Text       string            `gorm:"not null"`
	Timestamp  int64             `gorm:"not null"`
	IsSystem   bool              `gorm:"not null"`
	Attachment *types.Attachment `gorm:"type:text"`
	Size       int               `gorm:"not null"`
}

func (messageRow) TableName() string {
	return "messages"
}

func (r messageRow) message() types.Message {
	return types.Message{
		Id:         r.Id,
		RoomId:     r.RoomId,
		SenderId:   r.SenderId,
		SenderName: r.SenderName,
		Text:       r.Text,
		Timestamp:  r.Timestamp,
		IsSystem:   r.IsSystem,
		Attachment: r.Attachment,
	}
}

type GormPersist struct {
	db     *gorm.DB
	limits Limits
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db, limits: limitsFromConfig(cfg)}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	if cfg.PersistenceConfig.DSN == "" {
		return nil, fmt.Errorf("no dsn configured")
	}
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.AutoMigrate(&types.User{}, &types.Room{}, &types.Report{}, &messageRow{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func gormNotFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.NewNotFoundError(what)
	}
	return err
}

func (p *GormPersist) AppendMessage(message types.Message) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	row := messageRow{
		RoomId:     message.RoomId,
		Id:         message.Id,
		SenderId:   message.SenderId,
		SenderName: message.SenderName,
		Text:       message.Text,
		Timestamp:  message.Timestamp,
		IsSystem:   message.IsSystem,
		Attachment: message.Attachment,
		Size:       len(raw),
	}
	return p.db.Transaction(func(tx *gorm.DB) error {
		rows := make([]messageRow, 0)
		err := tx.Select("seq", "id", "size").Where("room_id = ?", message.RoomId).Order("seq ASC").Find(&rows).Error
		if err != nil {
			return err
		}
		sizes := make([]int, 0, len(rows)+1)
		for _, r := range rows {
			if r.Id == message.Id {
				return apperrors.NewConflictError(fmt.Sprintf("message %s already exists in room %s", message.Id, message.RoomId))
			}
			sizes = append(sizes, r.Size)
		}
		drop := len(rows) + 1 - p.limits.MaxMessages
		if drop < 0 {
			drop = 0
		}
		sizes = append(sizes[drop:], row.Size)
		if p.limits.MaxLogBytes > 0 && logSize(sizes) > p.limits.MaxLogBytes {
			return apperrors.NewStorageFullError("Attachment too large for storage. Please try a smaller file.")
		}
		if drop > 0 {
			err = tx.Where("room_id = ? AND seq <= ?", message.RoomId, rows[drop-1].Seq).Delete(&messageRow{}).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(&row).Error
	})
}

func (p *GormPersist) GetMessages(roomId string) ([]types.Message, error) {
	rows := make([]messageRow, 0)
	err := p.db.Where("room_id = ?", roomId).Order("seq ASC").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	messages := make([]types.Message, len(rows))
	for i, r := range rows {
		messages[i] = r.message()
	}
	return messages, nil
}

func (p *GormPersist) StoreUser(user types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	return gormNotFound(p.db.Where("id = ?", user.Id).First(user).Error, "user "+user.Id)
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Order("id").Find(&users).Error
	return users, err
}

func (p *GormPersist) DeleteUser(user *types.User) error {
	res := p.db.Where("id = ?", user.Id).Delete(&types.User{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.NewNotFoundError("user " + user.Id)
	}
	return nil
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&room).Error
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return gormNotFound(p.db.Where("id = ?", room.Id).First(room).Error, "room "+room.Id)
}

func (p *GormPersist) GetRooms(topicId string) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	q := p.db.Order("created_at ASC")
	if topicId != "" {
		q = q.Where("topic_id = ?", topicId)
	}
	err := q.Find(&rooms).Error
	return rooms, err
}

// DeleteRoom removes the room together with its message log.
func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", room.Id).Delete(&types.Room{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apperrors.NewNotFoundError("room " + room.Id)
		}
		return tx.Where("room_id = ?", room.Id).Delete(&messageRow{}).Error
	})
}

func (p *GormPersist) StoreReport(report types.Report) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&report).Error
}

func (p *GormPersist) GetReport(report *types.Report) error {
	return gormNotFound(p.db.Where("id = ?", report.Id).First(report).Error, "report "+report.Id)
}

func (p *GormPersist) GetReports() ([]*types.Report, error) {
	reports := make([]*types.Report, 0)
	err := p.db.Order("timestamp ASC").Find(&reports).Error
	return reports, err
}

func (p *GormPersist) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
