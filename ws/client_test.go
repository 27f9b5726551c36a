package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/hobbyhub-chat/chat"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/hub"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/rooms"
	"github.com/tcriess/hobbyhub-chat/types"
)

func newTestServer(t *testing.T, rateLimit config.RateLimitConfig) *httptest.Server {
	cfg := &config.Config{}
	cfg.HistoryConfig.HistorySize = 50
	cfg.HistoryConfig.MaxLogBytes = 1 << 20
	cfg.HistoryConfig.Welcome = true
	cfg.ModerationConfig.DenyList = config.DefaultDenyList
	cfg.PersistenceConfig.DSN = ":memory:"
	p, err := persistence.NewPersister(cfg)
	require.NoError(t, err)
	logger := hclog.NewNullLogger()
	svc, err := chat.New(cfg, p, moderation.NewGate(cfg.ModerationConfig, nil, logger), hub.NewRegistry(logger), rooms.NewManager(p, logger), logger)
	require.NoError(t, err)

	router := mux.NewRouter()
	router.Handle("/chat/{room}", NewHandler(svc, nil, nil, rateLimit, logger))
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		svc.Close()
		p.Close()
	})
	return server
}

func dial(t *testing.T, server *httptest.Server, path string) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(server.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// next returns the next event that is not a subscriber count update.
func next(t *testing.T, conn *websocket.Conn) types.WebsocketMessage {
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		msg := types.WebsocketMessage{}
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event != types.WireEventInfo {
			return msg
		}
	}
}

func nextChat(t *testing.T, conn *websocket.Conn) types.Message {
	msg := next(t, conn)
	require.Equal(t, types.WireEventChat, msg.Event, string(msg.Data))
	m := types.Message{}
	require.NoError(t, json.Unmarshal(msg.Data, &m))
	return m
}

func send(t *testing.T, conn *websocket.Conn, event string, data interface{}) {
	raw, err := types.EncodeWire(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, raw))
}

func TestChatRoundTrip(t *testing.T) {
	server := newTestServer(t, config.RateLimitConfig{})
	alice := dial(t, server, "/chat/pottery-general?user_id=u1&username=Alice")
	welcome := nextChat(t, alice)
	assert.Equal(t, types.WelcomeId, welcome.Id)
	assert.True(t, welcome.IsSystem)

	bob := dial(t, server, "/chat/pottery-general?user_id=u2&username=Bob")
	assert.Equal(t, types.WelcomeId, nextChat(t, bob).Id)

	// alice holds a local copy of "local-1", only bob receives it
	send(t, alice, types.WireEventChat, types.ChatRequest{Id: "local-1", Text: "Just finished my first bowl"})
	m := nextChat(t, bob)
	assert.Equal(t, "local-1", m.Id)
	assert.Equal(t, "Just finished my first bowl", m.Text)
	assert.Equal(t, "u1", m.SenderId)
	assert.Equal(t, "Alice", m.SenderName)

	// the rejection only reaches the sender
	send(t, alice, types.WireEventChat, types.ChatRequest{Id: "local-2", Text: "let's talk politics"})
	msg := next(t, alice)
	require.Equal(t, types.WireEventRejected, msg.Event)
	rejection := types.Rejection{}
	require.NoError(t, json.Unmarshal(msg.Data, &rejection))
	assert.Equal(t, "local-2", rejection.Id)
	assert.Equal(t, moderation.TopicBlockedReason, rejection.Reason)

	send(t, alice, types.WireEventChat, types.ChatRequest{Text: "glazing tomorrow"})
	assert.Equal(t, "glazing tomorrow", nextChat(t, bob).Text)
	assert.Equal(t, "glazing tomorrow", nextChat(t, alice).Text)
}

func TestJoinSwitchesRoom(t *testing.T) {
	server := newTestServer(t, config.RateLimitConfig{})
	alice := dial(t, server, "/chat/pottery-general?user_id=u1&username=Alice")
	nextChat(t, alice)
	bob := dial(t, server, "/chat/gardening-general?user_id=u2&username=Bob")
	nextChat(t, bob)

	send(t, alice, types.WireEventJoin, types.JoinRequest{RoomId: "gardening-general"})
	assert.Equal(t, types.WelcomeId, nextChat(t, alice).Id)

	send(t, bob, types.WireEventChat, types.ChatRequest{Text: "tomatoes are in"})
	m := nextChat(t, alice)
	assert.Equal(t, "gardening-general", m.RoomId)
	assert.Equal(t, "tomatoes are in", m.Text)
}

func TestReportEvent(t *testing.T) {
	server := newTestServer(t, config.RateLimitConfig{})
	alice := dial(t, server, "/chat/pottery-general?user_id=u1&username=Alice")
	nextChat(t, alice)
	send(t, alice, types.WireEventChat, types.ChatRequest{Text: "buy my kiln"})
	m := nextChat(t, alice)

	send(t, alice, types.WireEventReport, types.ReportRequest{MessageId: m.Id, Reason: "spam"})
	msg := next(t, alice)
	require.Equal(t, types.WireEventReported, msg.Event, string(msg.Data))
	report := types.Report{}
	require.NoError(t, json.Unmarshal(msg.Data, &report))
	assert.Equal(t, m.Id, report.MessageId)
	assert.Equal(t, "pottery-general", report.RoomId)

	send(t, alice, types.WireEventReport, types.ReportRequest{MessageId: m.Id, Reason: " "})
	assert.Equal(t, types.WireEventError, next(t, alice).Event)
}

func TestMalformedAndUnknownEvents(t *testing.T) {
	server := newTestServer(t, config.RateLimitConfig{})
	alice := dial(t, server, "/chat/pottery-general")
	nextChat(t, alice)

	require.NoError(t, alice.WriteMessage(websocket.TextMessage, []byte("not json")))
	assert.Equal(t, types.WireEventError, next(t, alice).Event)

	send(t, alice, "dance", map[string]string{})
	assert.Equal(t, types.WireEventError, next(t, alice).Event)

	// guests still chat
	send(t, alice, types.WireEventChat, types.ChatRequest{Text: "hi"})
	m := nextChat(t, alice)
	assert.True(t, strings.HasSuffix(m.SenderName, " (guest)"))
}

func TestRateLimit(t *testing.T) {
	server := newTestServer(t, config.RateLimitConfig{MessagesPerSecond: 0.001, Burst: 1})
	alice := dial(t, server, "/chat/pottery-general?user_id=u1&username=Alice")
	nextChat(t, alice)

	send(t, alice, types.WireEventChat, types.ChatRequest{Text: "one"})
	assert.Equal(t, "one", nextChat(t, alice).Text)
	send(t, alice, types.WireEventChat, types.ChatRequest{Id: "x", Text: "two"})
	msg := next(t, alice)
	require.Equal(t, types.WireEventRejected, msg.Event)
	assert.Contains(t, string(msg.Data), slowDownMessage)
}

func TestUnknownRoom(t *testing.T) {
	server := newTestServer(t, config.RateLimitConfig{})
	conn := dial(t, server, "/chat/nowhere")
	assert.Equal(t, types.WireEventError, next(t, conn).Event)
}

var _ http.Handler = &Handler{}
