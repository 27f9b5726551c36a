package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/hobbyhub-chat/auth"
	"github.com/tcriess/hobbyhub-chat/chat"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/hub"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/rooms"
	"github.com/tcriess/hobbyhub-chat/types"
)

func newTestRouter(t *testing.T) *mux.Router {
	cfg := &config.Config{}
	cfg.HistoryConfig.HistorySize = 50
	cfg.HistoryConfig.MaxLogBytes = 16 * 1024
	cfg.ModerationConfig.DenyList = config.DefaultDenyList
	cfg.ModerationConfig.Timeout = 50 * time.Millisecond
	cfg.PersistenceConfig.DSN = ":memory:"
	p, err := persistence.NewPersister(cfg)
	require.NoError(t, err)
	logger := hclog.NewNullLogger()
	gate := moderation.NewGate(cfg.ModerationConfig, nil, logger)
	svc, err := chat.New(cfg, p, gate, hub.NewRegistry(logger), rooms.NewManager(p, logger, rooms.WithHobbyFilter(gate)), logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		svc.Close()
		p.Close()
	})
	return NewRouter(svc, auth.NewAccounts(p, gate, logger), nil, logger)
}

func do(t *testing.T, router http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestRoomRoutes(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/topics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	topics := []types.Topic{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &topics))
	assert.Len(t, topics, 11)

	rec = do(t, router, http.MethodGet, "/topics/pottery/rooms", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	list := []types.Room{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "pottery-general", list[0].Id)

	rec = do(t, router, http.MethodPost, "/topics/pottery/rooms", createRoomRequest{Name: "Weekend Potters", CreatorId: "u1"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	room := types.Room{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &room))
	assert.Equal(t, "A group for Weekend Potters enthusiasts.", room.Description)

	rec = do(t, router, http.MethodPost, "/topics/pottery/rooms", createRoomRequest{Name: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "group name is required")

	rec = do(t, router, http.MethodGet, "/rooms/pottery-general/members", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	members := []types.Member{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	assert.Len(t, members, 4)
}

func TestMessageRoutes(t *testing.T) {
	router := newTestRouter(t)

	rec := do(t, router, http.MethodGet, "/rooms/pottery-general/messages", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/rooms/pottery-general/messages", submitMessageRequest{SenderId: "u1", SenderName: "Alice", Text: "I love ceramics"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	res := chat.SubmitResult{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Accepted)
	require.NotNil(t, res.Message)

	rec = do(t, router, http.MethodPost, "/rooms/pottery-general/messages", submitMessageRequest{SenderId: "u1", Text: "let's discuss politics"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.JSONEq(t, `{"accepted":false,"reason":"This topic is not allowed."}`, rec.Body.String())

	rec = do(t, router, http.MethodPost, "/rooms/pottery-general/messages", submitMessageRequest{
		SenderId:   "u1",
		Attachment: &types.Attachment{Kind: types.AttachmentKindImage, Payload: strings.Repeat("A", 32*1024)},
	})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Contains(t, rec.Body.String(), chat.AttachmentTooLargeReason)

	rec = do(t, router, http.MethodPost, "/rooms/pottery-general/messages", submitMessageRequest{SenderId: "u1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodGet, "/rooms/pottery-general/messages", nil)
	msgs := []types.Message{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, res.Message.Id, msgs[0].Id)

	rec = do(t, router, http.MethodPost, "/reports", types.Report{ReporterId: "u2", RoomId: "pottery-general", MessageId: res.Message.Id, Reason: "Spam"})
	assert.Equal(t, http.StatusCreated, rec.Code)
	report := types.Report{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "I love ceramics", report.MessageContent)

	rec = do(t, router, http.MethodPost, "/reports", types.Report{ReporterId: "u2"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAccountRoutes(t *testing.T) {
	router := newTestRouter(t)
	body := map[string]string{"username": "clayfan", "email": "clay@example.com", "password": "secret1", "hobby": "pottery"}
	rec := do(t, router, http.MethodPost, "/users", body)
	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.NotContains(t, rec.Body.String(), "passwordHash")

	rec = do(t, router, http.MethodPost, "/users", body)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, router, http.MethodPost, "/login", loginRequest{Email: "clay@example.com", Password: "secret1"})
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodPost, "/login", loginRequest{Email: "clay@example.com", Password: "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/users", map[string]string{
		"username": "debater", "email": "d@example.com", "password": "secret1", "hobby": "Others", "customHobby": "Politics debates",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), moderation.RestrictedHobbyReason)

	rec = do(t, router, http.MethodGet, "/topics/politics-debates/rooms", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealth(t *testing.T) {
	router := newTestRouter(t)
	rec := do(t, router, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}
