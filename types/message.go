package types

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

const (
	AttachmentKindImage = "image"
	AttachmentKindVideo = "video"
	AttachmentKindFile  = "file"

	SystemUserId   = "system"
	SystemUserName = "System"
	WelcomeId      = "system-welcome"
)

// Message is an accepted chat message. Timestamp is in epoch milliseconds; together with the insertion order it
// is the ordering key of a room's log.
type Message struct {
	Id         string      `json:"id"`
	RoomId     string      `json:"roomId"`
	SenderId   string      `json:"senderId"`
	SenderName string      `json:"senderName"`
	Text       string      `json:"text"`
	Timestamp  int64       `json:"timestamp"`
	IsSystem   bool        `json:"isSystem,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Attachment is either inline encoded bytes (a data url) or an external reference in Payload.
type Attachment struct {
	Id        string `json:"id" mapstructure:"id"`
	Kind      string `json:"kind" mapstructure:"kind"`
	Payload   string `json:"payload" mapstructure:"payload"`
	Name      string `json:"name,omitempty" mapstructure:"name"`
	Size      int64  `json:"size,omitempty" mapstructure:"size"`
	IsSticker bool   `json:"isSticker,omitempty" mapstructure:"isSticker"`
}

// ValidKind reports whether the attachment kind is one of image, video or file.
func (a *Attachment) ValidKind() bool {
	switch a.Kind {
	case AttachmentKindImage, AttachmentKindVideo, AttachmentKindFile:
		return true
	}
	return false
}

// Value return json value, implement driver.Valuer interface
func (a *Attachment) Value() (driver.Value, error) {
	if a == nil {
		return nil, nil
	}
	ba, err := json.Marshal(*a)
	return string(ba), err
}

// Scan scan value into Attachment, implements sql.Scanner interface
func (a *Attachment) Scan(val interface{}) error {
	var ba []byte
	switch v := val.(type) {
	case nil:
		return nil
	case []byte:
		ba = v
	case string:
		ba = []byte(v)
	default:
		return errors.New(fmt.Sprint("Failed to unmarshal attachment value:", val))
	}
	return json.Unmarshal(ba, a)
}

// GormDataType gorm common data type
func (a *Attachment) GormDataType() string {
	return "attachment"
}

// GormDBDataType gorm db data type
func (*Attachment) GormDBDataType(db *gorm.DB, field *schema.Field) string {
	switch db.Dialector.Name() {
	case "sqlite":
		return "JSON"
	case "mysql":
		return "JSON"
	case "postgres":
		return "JSONB"
	}
	return ""
}
