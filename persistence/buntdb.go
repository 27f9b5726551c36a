package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/globals"
	"github.com/tcriess/hobbyhub-chat/types"
	"github.com/tidwall/buntdb"
)

const (
	inMemory  = ":memory:"
	seqDigits = 20
)

type BuntDBPersist struct {
	db     *buntdb.DB
	lock   *flock.Flock
	limits Limits
}

func NewBuntPersister(cfg *config.Config) (Persister, error) {
	fileName := cfg.PersistenceConfig.DSN
	if fileName == "" {
		fileName = inMemory
	}
	var fileLock *flock.Flock
	if fileName != inMemory {
		lockPath := cfg.PersistenceConfig.FlockPath
		if lockPath == "" {
			lockPath = fileName + ".lock"
		}
		fileLock = flock.New(lockPath)
		locked, err := fileLock.TryLock()
		if err != nil {
			return nil, err
		}
		if !locked {
			return nil, fmt.Errorf("database %s is locked by another process", fileName)
		}
	}
	db, err := setupBuntDB(fileName)
	if err != nil {
		if fileLock != nil {
			fileLock.Unlock()
		}
		return nil, err
	}
	return &BuntDBPersist{db: db, lock: fileLock, limits: limitsFromConfig(cfg)}, nil
}

func setupBuntDB(fileName string) (*buntdb.DB, error) {
	db, err := buntdb.Open(fileName)
	if err != nil {
		return nil, err
	}
	err = db.CreateIndex("rooms_topic", "room:*", buntdb.IndexJSON("topicId"))
	if err != nil {
		db.Close()
		return nil, err
	}
	err = db.CreateIndex("reports_ts", "report:*", buntdb.IndexJSON("timestamp"))
	if err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func notFound(err error, what string) error {
	if err == buntdb.ErrNotFound {
		return apperrors.NewNotFoundError(what)
	}
	return err
}

func messagePrefix(roomId string) string {
	return "message:" + roomId + ":"
}

func seqKey(roomId string) string {
	return "seq:" + roomId
}

// ascendRoom iterates the log entries of one room in insertion order. Keys of rooms whose id merely starts with
// roomId are skipped by checking the length of the sequence suffix.
func ascendRoom(tx *buntdb.Tx, roomId string, iter func(key, val string) bool) error {
	prefix := messagePrefix(roomId)
	return tx.AscendGreaterOrEqual("", prefix, func(key, val string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		if len(key) != len(prefix)+seqDigits {
			return true
		}
		return iter(key, val)
	})
}

func (p *BuntDBPersist) AppendMessage(message types.Message) error {
	raw, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		var seq uint64
		s, err := tx.Get(seqKey(message.RoomId))
		switch err {
		case nil:
			seq, _ = strconv.ParseUint(s, 10, 64)
		case buntdb.ErrNotFound:
		default:
			return err
		}
		seq++

		keys := make([]string, 0, p.limits.MaxMessages)
		sizes := make([]int, 0, p.limits.MaxMessages)
		duplicate := false
		err = ascendRoom(tx, message.RoomId, func(key, val string) bool {
			var m types.Message
			if json.Unmarshal([]byte(val), &m) == nil && m.Id == message.Id {
				duplicate = true
				return false
			}
			keys = append(keys, key)
			sizes = append(sizes, len(val))
			return true
		})
		if err != nil {
			return err
		}
		if duplicate {
			return apperrors.NewConflictError(fmt.Sprintf("message %s already exists in room %s", message.Id, message.RoomId))
		}

		drop := len(keys) + 1 - p.limits.MaxMessages
		if drop < 0 {
			drop = 0
		}
		keptSizes := append(sizes[drop:], len(raw))
		if p.limits.MaxLogBytes > 0 && logSize(keptSizes) > p.limits.MaxLogBytes {
			return apperrors.NewStorageFullError("Attachment too large for storage. Please try a smaller file.")
		}
		for _, key := range keys[:drop] {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		key := fmt.Sprintf("%s%0*d", messagePrefix(message.RoomId), seqDigits, seq)
		if _, _, err := tx.Set(key, string(raw), nil); err != nil {
			return err
		}
		_, _, err = tx.Set(seqKey(message.RoomId), strconv.FormatUint(seq, 10), nil)
		return err
	})
}

func (p *BuntDBPersist) GetMessages(roomId string) ([]types.Message, error) {
	messages := make([]types.Message, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return ascendRoom(tx, roomId, func(key, val string) bool {
			var m types.Message
			if err := json.Unmarshal([]byte(val), &m); err != nil {
				globals.AppLogger.Error("could not unmarshal message", "key", key, "error", err)
				return true
			}
			messages = append(messages, m)
			return true
		})
	})
	return messages, err
}

func (p *BuntDBPersist) StoreUser(user types.User) error {
	u, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("user:"+user.Id, string(u), nil)
		return err
	})
}

func (p *BuntDBPersist) GetUser(user *types.User) error {
	if user.Id == "" {
		return fmt.Errorf("no user id")
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		u, err := tx.Get("user:" + user.Id)
		if err != nil {
			return notFound(err, "user "+user.Id)
		}
		return json.Unmarshal([]byte(u), user)
	})
}

func (p *BuntDBPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.AscendKeys("user:*", func(key, val string) bool {
			user := &types.User{}
			if err := json.Unmarshal([]byte(val), user); err == nil {
				users = append(users, user)
			}
			return true
		})
	})
	return users, err
}

func (p *BuntDBPersist) DeleteUser(user *types.User) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete("user:" + user.Id)
		return notFound(err, "user "+user.Id)
	})
}

func (p *BuntDBPersist) StoreRoom(room types.Room) error {
	r, err := json.Marshal(room)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("room:"+room.Id, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetRoom(room *types.Room) error {
	if room.Id == "" {
		return fmt.Errorf("no room id")
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		r, err := tx.Get("room:" + room.Id)
		if err != nil {
			return notFound(err, "room "+room.Id)
		}
		return json.Unmarshal([]byte(r), room)
	})
}

// GetRooms returns the rooms of a topic (all rooms if topicId is empty) ordered by creation time.
func (p *BuntDBPersist) GetRooms(topicId string) ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	collect := func(key, val string) bool {
		room := &types.Room{}
		if err := json.Unmarshal([]byte(val), room); err == nil {
			rooms = append(rooms, room)
		}
		return true
	}
	err := p.db.View(func(tx *buntdb.Tx) error {
		if topicId == "" {
			return tx.Ascend("rooms_topic", collect)
		}
		pivot, err := json.Marshal(map[string]string{"topicId": topicId})
		if err != nil {
			return err
		}
		return tx.AscendEqual("rooms_topic", string(pivot), collect)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rooms, func(i, j int) bool { return rooms[i].CreatedAt < rooms[j].CreatedAt })
	return rooms, nil
}

// DeleteRoom removes the room together with its message log.
func (p *BuntDBPersist) DeleteRoom(room *types.Room) error {
	return p.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Delete("room:" + room.Id); err != nil {
			return notFound(err, "room "+room.Id)
		}
		keys := make([]string, 0)
		err := ascendRoom(tx, room.Id, func(key, val string) bool {
			keys = append(keys, key)
			return true
		})
		if err != nil {
			return err
		}
		for _, key := range keys {
			if _, err := tx.Delete(key); err != nil {
				return err
			}
		}
		_, err = tx.Delete(seqKey(room.Id))
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

func (p *BuntDBPersist) StoreReport(report types.Report) error {
	r, err := json.Marshal(report)
	if err != nil {
		return err
	}
	return p.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set("report:"+report.Id, string(r), nil)
		return err
	})
}

func (p *BuntDBPersist) GetReport(report *types.Report) error {
	if report.Id == "" {
		return fmt.Errorf("no report id")
	}
	return p.db.View(func(tx *buntdb.Tx) error {
		r, err := tx.Get("report:" + report.Id)
		if err != nil {
			return notFound(err, "report "+report.Id)
		}
		return json.Unmarshal([]byte(r), report)
	})
}

// GetReports returns all reports, oldest first.
func (p *BuntDBPersist) GetReports() ([]*types.Report, error) {
	reports := make([]*types.Report, 0)
	err := p.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("reports_ts", func(key, val string) bool {
			report := &types.Report{}
			if err := json.Unmarshal([]byte(val), report); err == nil {
				reports = append(reports, report)
			}
			return true
		})
	})
	return reports, err
}

func (p *BuntDBPersist) Close() error {
	err := p.db.Close()
	if p.lock != nil {
		if uerr := p.lock.Unlock(); uerr != nil && err == nil {
			err = uerr
		}
	}
	return err
}
