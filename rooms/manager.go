package rooms

import (
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/types"
)

const (
	DefaultRoomName        = "General Discussion"
	DefaultRoomDescription = "The main gathering place for everyone."
	defaultRoomSuffix      = "-general"
	recentlySeen           = "Recently"
)

// placeholders are the synthetic participants listed in every roster.
var placeholders = []types.Member{
	{UserId: "admin-1", Username: "GroupAdmin", IsOnline: true, Role: types.RoleAdmin},
	{UserId: "bot-1", Username: "HobbyBot", IsOnline: true, Role: types.RoleMember},
	{UserId: "user-x", Username: "Alice", IsOnline: false, LastSeen: "2 hours ago", Role: types.RoleMember},
	{UserId: "user-y", Username: "Bob", IsOnline: false, LastSeen: "1 day ago", Role: types.RoleMember},
}

// DefaultRoomId returns the id of the auto-seeded room of a topic.
func DefaultRoomId(topicId string) string {
	return topicId + defaultRoomSuffix
}

// DefaultDescription is used for rooms created without a description.
func DefaultDescription(name string) string {
	return fmt.Sprintf("A group for %s enthusiasts.", name)
}

// Manager creates, discovers and seeds rooms and derives their rosters.
type Manager struct {
	persister persistence.Persister
	presence  Presence
	rnd       Rand
	now       func() time.Time
	topics    []types.Topic
	hobbies   HobbyFilter
	logger    hclog.Logger

	// serializes seeding of default rooms
	seedLock sync.Mutex
}

// HobbyFilter reports restricted words in a hobby name. *moderation.Gate implements it.
type HobbyFilter interface {
	MatchHobby(hobby string) (string, bool)
}

type Option func(*Manager)

// WithHobbyFilter rejects custom topics whose id matches the filter. Catalog topics are always allowed.
func WithHobbyFilter(f HobbyFilter) Option {
	return func(m *Manager) { m.hobbies = f }
}

func WithPresence(p Presence) Option {
	return func(m *Manager) { m.presence = p }
}

func WithRand(r Rand) Option {
	return func(m *Manager) { m.rnd = r }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(persister persistence.Persister, logger hclog.Logger, opts ...Option) *Manager {
	m := &Manager{
		persister: persister,
		now:       time.Now,
		topics:    types.DefaultTopics(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.presence == nil {
		m.presence = NewRandomPresence(0)
	}
	if m.rnd == nil {
		m.rnd = &lockedRand{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	return m
}

// ListTopics returns the topic catalog.
func (m *Manager) ListTopics() []types.Topic {
	res := make([]types.Topic, len(m.topics))
	copy(res, m.topics)
	return res
}

// TopicName returns the display name of a topic. Topics outside of the catalog are custom hobbies and are named
// by their id.
func (m *Manager) TopicName(topicId string) string {
	for _, t := range m.topics {
		if t.Id == topicId {
			return t.Name
		}
	}
	return topicId
}

func (m *Manager) checkTopic(topicId string) error {
	if topicId == "" {
		return apperrors.NewValidationError("topic is required")
	}
	if m.hobbies == nil {
		return nil
	}
	for _, t := range m.topics {
		if t.Id == topicId {
			return nil
		}
	}
	if word, ok := m.hobbies.MatchHobby(topicId); ok {
		m.logger.Debug("restricted topic", "topic", topicId, "keyword", word)
		return apperrors.NewValidationError(moderation.RestrictedHobbyReason)
	}
	return nil
}

// ListRooms returns the rooms of a topic, oldest first. A topic without rooms gets its default room on first
// access, so the result is never empty.
func (m *Manager) ListRooms(topicId string) ([]types.Room, error) {
	topicId = strings.TrimSpace(topicId)
	if err := m.checkTopic(topicId); err != nil {
		return nil, err
	}
	rooms, err := m.persister.GetRooms(topicId)
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		m.seedLock.Lock()
		rooms, err = m.persister.GetRooms(topicId)
		if err == nil && len(rooms) == 0 {
			var room *types.Room
			room, err = m.seedDefaultRoom(topicId)
			if err == nil {
				rooms = []*types.Room{room}
			}
		}
		m.seedLock.Unlock()
		if err != nil {
			return nil, err
		}
	}
	res := make([]types.Room, 0, len(rooms))
	for _, r := range rooms {
		res = append(res, *r)
	}
	sort.SliceStable(res, func(i, j int) bool {
		if res[i].CreatedAt != res[j].CreatedAt {
			return res[i].CreatedAt < res[j].CreatedAt
		}
		return res[i].Id < res[j].Id
	})
	return res, nil
}

func (m *Manager) seedDefaultRoom(topicId string) (*types.Room, error) {
	room := types.Room{
		Id:          DefaultRoomId(topicId),
		TopicId:     topicId,
		Name:        DefaultRoomName,
		Description: DefaultRoomDescription,
		CreatedBy:   types.SystemUserId,
		CreatedAt:   m.now().UnixNano() / int64(time.Millisecond),
		MemberCount: m.rnd.Intn(50) + 5,
	}
	if err := m.persister.StoreRoom(room); err != nil {
		return nil, err
	}
	m.logger.Info("seeded default room", "topic", topicId, "room", room.Id)
	return &room, nil
}

// CreateRoom creates a room in a topic. An empty description is replaced by a default referencing the name.
func (m *Manager) CreateRoom(topicId, name, description, creatorId string) (*types.Room, error) {
	topicId = strings.TrimSpace(topicId)
	name = strings.TrimSpace(name)
	if err := m.checkTopic(topicId); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, apperrors.NewValidationError("group name is required")
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = DefaultDescription(name)
	}
	room := types.Room{
		Id:          fmt.Sprintf("%s-%s", topicId, uuid.NewString()),
		TopicId:     topicId,
		Name:        name,
		Description: description,
		CreatedBy:   creatorId,
		CreatedAt:   m.now().UnixNano() / int64(time.Millisecond),
		MemberCount: 1,
	}
	if err := m.persister.StoreRoom(room); err != nil {
		return nil, err
	}
	m.logger.Info("room created", "topic", topicId, "room", room.Id, "creator", creatorId)
	return &room, nil
}

// GetRoom returns a room by id.
func (m *Manager) GetRoom(roomId string) (*types.Room, error) {
	room := types.Room{Id: roomId}
	if err := m.persister.GetRoom(&room); err != nil {
		return nil, err
	}
	return &room, nil
}

// TopicOf returns the topic a room belongs to. An unknown default room id resolves to its topic, so a room can be
// joined by its well-known id before the topic was listed.
func (m *Manager) TopicOf(roomId string) (string, error) {
	room, err := m.GetRoom(roomId)
	if err == nil {
		return room.TopicId, nil
	}
	if errors.Is(err, apperrors.ErrNotFound) && strings.HasSuffix(roomId, defaultRoomSuffix) && len(roomId) > len(defaultRoomSuffix) {
		topicId := strings.TrimSuffix(roomId, defaultRoomSuffix)
		if err := m.checkTopic(topicId); err != nil {
			return "", err
		}
		return topicId, nil
	}
	return "", err
}

// ListMembers derives a room roster: the fixed placeholder participants followed by every registered user, each
// with a presence decided by the configured Presence. The result is a simulated read-model, it does not reflect
// who actually joined the room.
func (m *Manager) ListMembers(roomId string) ([]types.Member, error) {
	users, err := m.persister.GetUsers()
	if err != nil {
		return nil, err
	}
	members := make([]types.Member, 0, len(placeholders)+len(users))
	members = append(members, placeholders...)
	for _, u := range users {
		members = append(members, types.Member{
			UserId:   u.Id,
			Username: u.Username,
			IsOnline: m.presence.IsOnline(roomId, u.Id),
			LastSeen: recentlySeen,
			Role:     types.RoleMember,
		})
	}
	return members, nil
}
