package persistence

import (
	"fmt"

	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/types"
)

// Persister is the durable backend of the room store, the room catalog, users and reports.
//
// AppendMessage is all-or-nothing: it appends the message to the room log, trims the log to the configured
// number of most recent entries and fails with apperrors.ErrStorageFull (leaving the log untouched) if the
// serialized log would exceed the configured capacity. A message id that is already present in the room log
// fails with apperrors.ErrConflict.
// Get* methods fail with apperrors.ErrNotFound for unknown ids.
type Persister interface {
	AppendMessage(types.Message) error
	GetMessages(roomId string) ([]types.Message, error)
	StoreUser(types.User) error
	GetUser(*types.User) error
	GetUsers() ([]*types.User, error)
	DeleteUser(*types.User) error
	StoreRoom(types.Room) error
	GetRoom(*types.Room) error
	GetRooms(topicId string) ([]*types.Room, error)
	DeleteRoom(*types.Room) error
	StoreReport(types.Report) error
	GetReport(*types.Report) error
	GetReports() ([]*types.Report, error)
	Close() error
}

// Limits bounds the per-room message log.
type Limits struct {
	MaxMessages int
	MaxLogBytes int
}

func limitsFromConfig(cfg *config.Config) Limits {
	l := Limits{
		MaxMessages: cfg.HistoryConfig.HistorySize,
		MaxLogBytes: cfg.HistoryConfig.MaxLogBytes,
	}
	if l.MaxMessages <= 0 {
		l.MaxMessages = 50
	}
	return l
}

// NewPersister creates the persister selected by cfg.PersistenceConfig.Type.
func NewPersister(cfg *config.Config) (Persister, error) {
	switch cfg.PersistenceConfig.Type {
	case "", "buntdb":
		return NewBuntPersister(cfg)
	case "sqlite", "postgres":
		return NewGormPersister(cfg)
	}
	return nil, fmt.Errorf("unknown persistence type %q", cfg.PersistenceConfig.Type)
}

// logSize returns the size of the JSON array holding the given serialized entries.
func logSize(sizes []int) int {
	if len(sizes) == 0 {
		return 2
	}
	total := 2 + len(sizes) - 1
	for _, s := range sizes {
		total += s
	}
	return total
}
