package persistence

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/types"
)

func testMessage(roomId string, i int) types.Message {
	return types.Message{
		Id:         fmt.Sprintf("m%03d", i),
		RoomId:     roomId,
		SenderId:   "u1",
		SenderName: "alice",
		Text:       fmt.Sprintf("message %d", i),
		Timestamp:  int64(1000 + i),
	}
}

// runPersisterSuite exercises the Persister contract, p must be configured with 50 messages per room and a
// capacity of 64KiB.
func runPersisterSuite(t *testing.T, p Persister) {
	t.Run("log is bounded to the most recent entries", func(t *testing.T) {
		for i := 0; i < 60; i++ {
			require.NoError(t, p.AppendMessage(testMessage("pottery-general", i)))
		}
		messages, err := p.GetMessages("pottery-general")
		require.NoError(t, err)
		require.Len(t, messages, 50)
		assert.Equal(t, "m010", messages[0].Id)
		assert.Equal(t, "m059", messages[49].Id)
		for i := 1; i < len(messages); i++ {
			assert.True(t, messages[i-1].Timestamp <= messages[i].Timestamp)
		}
	})

	t.Run("rooms are independent", func(t *testing.T) {
		require.NoError(t, p.AppendMessage(testMessage("pottery", 1)))
		require.NoError(t, p.AppendMessage(testMessage("pottery-general-2", 1)))
		messages, err := p.GetMessages("pottery")
		require.NoError(t, err)
		assert.Len(t, messages, 1)
		messages, err = p.GetMessages("unknown")
		require.NoError(t, err)
		assert.Len(t, messages, 0)
	})

	t.Run("duplicate ids are rejected", func(t *testing.T) {
		require.NoError(t, p.AppendMessage(testMessage("dup", 1)))
		err := p.AppendMessage(testMessage("dup", 1))
		assert.True(t, errors.Is(err, apperrors.ErrConflict))
		messages, err := p.GetMessages("dup")
		require.NoError(t, err)
		assert.Len(t, messages, 1)
	})

	t.Run("storage full leaves the log untouched", func(t *testing.T) {
		require.NoError(t, p.AppendMessage(testMessage("full", 1)))
		big := testMessage("full", 2)
		big.Attachment = &types.Attachment{Id: "a1", Kind: types.AttachmentKindImage, Payload: strings.Repeat("x", 70*1024)}
		err := p.AppendMessage(big)
		assert.True(t, errors.Is(err, apperrors.ErrStorageFull))
		messages, err := p.GetMessages("full")
		require.NoError(t, err)
		require.Len(t, messages, 1)
		assert.Equal(t, "m001", messages[0].Id)

		small := testMessage("full", 3)
		small.Attachment = &types.Attachment{Id: "a2", Kind: types.AttachmentKindFile, Payload: "https://example.com/f.pdf", Name: "f.pdf", Size: 12}
		require.NoError(t, p.AppendMessage(small))
		messages, err = p.GetMessages("full")
		require.NoError(t, err)
		require.Len(t, messages, 2)
		require.NotNil(t, messages[1].Attachment)
		assert.Equal(t, "f.pdf", messages[1].Attachment.Name)
	})

	t.Run("rooms by topic", func(t *testing.T) {
		require.NoError(t, p.StoreRoom(types.Room{Id: "pottery-b", TopicId: "pottery", Name: "B", CreatedAt: 2}))
		require.NoError(t, p.StoreRoom(types.Room{Id: "pottery-a", TopicId: "pottery", Name: "A", CreatedAt: 1}))
		require.NoError(t, p.StoreRoom(types.Room{Id: "poetry-a", TopicId: "poetry", Name: "C", CreatedAt: 3}))
		rooms, err := p.GetRooms("pottery")
		require.NoError(t, err)
		require.Len(t, rooms, 2)
		assert.Equal(t, "pottery-a", rooms[0].Id)
		assert.Equal(t, "pottery-b", rooms[1].Id)
		all, err := p.GetRooms("")
		require.NoError(t, err)
		assert.Len(t, all, 3)

		room := types.Room{Id: "poetry-a"}
		require.NoError(t, p.GetRoom(&room))
		assert.Equal(t, "C", room.Name)
		require.NoError(t, p.DeleteRoom(&room))
		err = p.GetRoom(&types.Room{Id: "poetry-a"})
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("users", func(t *testing.T) {
		require.NoError(t, p.StoreUser(types.User{Id: "u1", Username: "alice", Email: "alice@example.com", PasswordHash: "h"}))
		require.NoError(t, p.StoreUser(types.User{Id: "u2", Username: "bob", Email: "bob@example.com"}))
		user := types.User{Id: "u1"}
		require.NoError(t, p.GetUser(&user))
		assert.Equal(t, "alice", user.Username)
		assert.Equal(t, "h", user.PasswordHash)
		users, err := p.GetUsers()
		require.NoError(t, err)
		assert.Len(t, users, 2)
		require.NoError(t, p.DeleteUser(&types.User{Id: "u2"}))
		err = p.GetUser(&types.User{Id: "u2"})
		assert.True(t, errors.Is(err, apperrors.ErrNotFound))
	})

	t.Run("reports", func(t *testing.T) {
		require.NoError(t, p.StoreReport(types.Report{Id: "r2", RoomId: "pottery-a", Reason: "Spam", Timestamp: 20, Status: types.ReportStatusPending}))
		require.NoError(t, p.StoreReport(types.Report{Id: "r1", RoomId: "pottery-a", Reason: "Other", Timestamp: 10, Status: types.ReportStatusPending}))
		reports, err := p.GetReports()
		require.NoError(t, err)
		require.Len(t, reports, 2)
		assert.Equal(t, "r1", reports[0].Id)

		report := types.Report{Id: "r1"}
		require.NoError(t, p.GetReport(&report))
		report.Status = types.ReportStatusResolved
		require.NoError(t, p.StoreReport(report))
		check := types.Report{Id: "r1"}
		require.NoError(t, p.GetReport(&check))
		assert.Equal(t, types.ReportStatusResolved, check.Status)
	})
}
