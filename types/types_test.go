package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlug(t *testing.T) {
	assert.Equal(t, "sports-indoor", Slug("Sports (Indoor)"))
	assert.Equal(t, "yoga-and-meditation", Slug("  Yoga and Meditation "))
	assert.Equal(t, "pottery", Slug("Pottery"))
}

func TestEncodeWire(t *testing.T) {
	raw, err := EncodeWire(WireEventRejected, Rejection{Id: "local-1", Reason: "This topic is not allowed."})
	require.NoError(t, err)
	assert.JSONEq(t, `{"event":"rejected","data":{"id":"local-1","reason":"This topic is not allowed."}}`, string(raw))
}

func TestMessageWireFormat(t *testing.T) {
	msg := Message{Id: "m1", RoomId: "pottery-general", SenderId: "u1", SenderName: "Alice", Text: "hi", Timestamp: 1700000000000}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"m1","roomId":"pottery-general","senderId":"u1","senderName":"Alice","text":"hi","timestamp":1700000000000}`, string(raw))
}

func TestAttachmentScan(t *testing.T) {
	a := &Attachment{Id: "a1", Kind: AttachmentKindImage, Payload: "data:image/png;base64,AAAA", IsSticker: true}
	v, err := a.Value()
	require.NoError(t, err)
	scanned := &Attachment{}
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, a, scanned)
	assert.True(t, scanned.ValidKind())
	assert.False(t, (&Attachment{Kind: "audio"}).ValidKind())
	assert.Error(t, scanned.Scan(42))
}

func TestUserPublic(t *testing.T) {
	u := User{Id: "u1", PasswordHash: "$2a$10$abc"}
	assert.Empty(t, u.Public().PasswordHash)
	assert.Equal(t, "$2a$10$abc", u.PasswordHash)
}
