package types

import (
	"regexp"
	"strings"
)

const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Topic is a broad interest category (a hobby) containing rooms.
type Topic struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}

// Room is a named chat channel within a topic. MemberCount is advisory only.
type Room struct {
	Id          string `json:"id" gorm:"primaryKey"`
	TopicId     string `json:"topicId" gorm:"index"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CreatedBy   string `json:"createdBy"`
	CreatedAt   int64  `json:"createdAt"`
	MemberCount int    `json:"memberCount"`
}

// Member is a derived read-model entry of a room's roster, it is never persisted.
type Member struct {
	UserId   string `json:"userId"`
	Username string `json:"username"`
	IsOnline bool   `json:"isOnline"`
	LastSeen string `json:"lastSeen,omitempty"`
	Role     string `json:"role"`
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a topic name like "Sports (Indoor)" into an identifier usable in room ids and urls ("sports-indoor").
func Slug(name string) string {
	s := nonSlugChars.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(s, "-")
}

var topicNames = []string{
	"Pottery",
	"Jewellery Making",
	"Sculpture Making",
	"Poetry",
	"Creative Writing",
	"Coding",
	"Sports (Indoor)",
	"Fashion Designing",
	"Yoga and Meditation",
	"Fitness",
	"Others",
}

// DefaultTopics returns the built-in topic catalog.
func DefaultTopics() []Topic {
	topics := make([]Topic, len(topicNames))
	for i, name := range topicNames {
		topics[i] = Topic{Id: Slug(name), Name: name}
	}
	return topics
}
