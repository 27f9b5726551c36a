package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/chat"
	"github.com/tcriess/hobbyhub-chat/hub"
	"github.com/tcriess/hobbyhub-chat/types"
	"golang.org/x/time/rate"
)

const (
	maxMessageSize  = 8 << 20
	pongWait        = 2 * time.Minute
	pingPeriod      = time.Minute
	writeWait       = 10 * time.Second
	sendChannelSize = 1000
	slowDownMessage = "You are sending messages too fast."
)

// Client is a middleman between the websocket connection and the chat service. A client is subscribed to at most
// one room at a time.
type Client struct {
	svc *chat.Service

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. It is never closed, writers give up once doneChan is closed.
	send chan []byte

	user    types.User
	limiter *rate.Limiter
	logger  hclog.Logger

	// current subscription
	subLock sync.Mutex
	sub     *hub.Subscriber

	doneChan  chan struct{}
	closeOnce sync.Once

	// keeps track of running read/write loops
	sync.WaitGroup
}

func NewClient(svc *chat.Service, conn *websocket.Conn, user types.User, limiter *rate.Limiter, logger hclog.Logger) *Client {
	return &Client{
		svc:      svc,
		conn:     conn,
		send:     make(chan []byte, sendChannelSize),
		user:     user,
		limiter:  limiter,
		logger:   logger,
		doneChan: make(chan struct{}),
	}
}

// Done is closed when the connection is finished.
func (c *Client) Done() <-chan struct{} {
	return c.doneChan
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.doneChan)
	})
}

func (c *Client) enqueue(event string, data interface{}) {
	raw, err := types.EncodeWire(event, data)
	if err != nil {
		c.logger.Error("could not marshal ws message", "event", event, "error", err)
		return
	}
	select {
	case c.send <- raw:
	case <-c.doneChan:
	}
}

func (c *Client) sendError(err error) {
	c.enqueue(types.WireEventError, map[string]string{"message": apperrors.UserMessage(err)})
}

// RoomId returns the room the client is currently subscribed to.
func (c *Client) RoomId() string {
	c.subLock.Lock()
	defer c.subLock.Unlock()
	if c.sub == nil {
		return ""
	}
	return c.sub.RoomId
}

// Join switches the client to roomId. The previous subscription is ended first, then the room log is replayed
// followed by live messages.
func (c *Client) Join(ctx context.Context, roomId string) error {
	c.subLock.Lock()
	defer c.subLock.Unlock()
	if c.sub != nil {
		if c.sub.RoomId == roomId {
			return nil
		}
		c.svc.Unsubscribe(c.sub)
		c.sub = nil
	}
	sub, err := c.svc.Subscribe(ctx, roomId, c.user.Id,
		func(msg types.Message) { c.enqueue(types.WireEventChat, msg) },
		func(info types.RoomInfo) { c.enqueue(types.WireEventInfo, info) },
	)
	if err != nil {
		return err
	}
	c.sub = sub
	go c.watch(sub)
	c.logger.Debug("joined room", "room", roomId, "user", c.user.Id)
	return nil
}

// watch closes the connection if the hub drops sub while it is still the current subscription.
func (c *Client) watch(sub *hub.Subscriber) {
	select {
	case <-sub.Done():
	case <-c.doneChan:
		return
	}
	c.subLock.Lock()
	dropped := c.sub == sub
	c.subLock.Unlock()
	if dropped {
		c.logger.Info("subscription dropped by hub, closing connection", "room", sub.RoomId)
		c.close()
	}
}

// Leave ends the current subscription.
func (c *Client) Leave() {
	c.subLock.Lock()
	defer c.subLock.Unlock()
	if c.sub != nil {
		c.svc.Unsubscribe(c.sub)
		c.sub = nil
	}
}

func decodeData(data json.RawMessage, v interface{}) error {
	m := make(map[string]interface{})
	if err := json.Unmarshal(data, &m); err != nil {
		return apperrors.NewValidationError("malformed payload")
	}
	if err := mapstructure.WeakDecode(m, v); err != nil {
		return apperrors.NewValidationError("malformed payload")
	}
	return nil
}

func (c *Client) handleChat(ctx context.Context, data json.RawMessage) {
	req := types.ChatRequest{}
	if err := decodeData(data, &req); err != nil {
		c.sendError(err)
		return
	}
	if c.limiter != nil && !c.limiter.Allow() {
		c.enqueue(types.WireEventRejected, types.Rejection{Id: req.Id, Reason: slowDownMessage})
		return
	}
	c.subLock.Lock()
	sub := c.sub
	c.subLock.Unlock()
	if sub == nil {
		c.sendError(apperrors.NewValidationError("join a room first"))
		return
	}
	if req.Id != "" {
		sub.MarkSeen(req.Id)
	}
	res, err := c.svc.SubmitMessage(ctx, chat.SubmitRequest{
		RoomId:     sub.RoomId,
		SenderId:   c.user.Id,
		SenderName: c.user.Username,
		Text:       req.Text,
		Attachment: req.Attachment,
		MessageId:  req.Id,
	})
	switch {
	case res.Err() != nil:
		// only the submitter learns about the rejection
		c.enqueue(types.WireEventRejected, types.Rejection{Id: req.Id, Reason: res.Reason})
	case err != nil:
		c.sendError(err)
	}
}

func (c *Client) handleJoin(ctx context.Context, data json.RawMessage) {
	req := types.JoinRequest{}
	if err := decodeData(data, &req); err != nil {
		c.sendError(err)
		return
	}
	if err := c.Join(ctx, req.RoomId); err != nil {
		c.sendError(err)
	}
}

func (c *Client) handleReport(ctx context.Context, data json.RawMessage) {
	req := types.ReportRequest{}
	if err := decodeData(data, &req); err != nil {
		c.sendError(err)
		return
	}
	report, err := c.svc.SubmitReport(ctx, types.Report{
		ReporterId:   c.user.Id,
		ReporterName: c.user.Username,
		RoomId:       c.RoomId(),
		MessageId:    req.MessageId,
		Reason:       req.Reason,
	})
	if err != nil {
		c.sendError(err)
		return
	}
	c.enqueue(types.WireEventReported, report)
}

// ReadLoop pumps messages from the websocket connection to the chat service.
//
// The application runs ReadLoop in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadLoop(ctx context.Context) {
	defer func() {
		c.conn.Close()
		c.close()
		c.WaitGroup.Done()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Info("ws closed unexpectedly", "user", c.user.Id, "error", err)
			}
			return
		}

		message := types.WebsocketMessage{}
		err = json.Unmarshal(raw, &message)
		if err != nil {
			c.logger.Debug("could not unmarshal ws message", "error", err)
			c.sendError(apperrors.NewValidationError("malformed message"))
			continue
		}

		switch message.Event {
		case types.WireEventChat:
			c.handleChat(ctx, message.Data)
		case types.WireEventJoin:
			c.handleJoin(ctx, message.Data)
		case types.WireEventReport:
			c.handleReport(ctx, message.Data)
		default:
			c.sendError(apperrors.NewValidationError("unknown event " + message.Event))
		}
	}
}

// WriteLoop pumps messages from the send channel to the websocket connection.
//
// A goroutine running WriteLoop is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WriteLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.close()
		c.WaitGroup.Done()
	}()
	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				c.logger.Debug("could not write to ws connection, exiting write loop", "error", err)
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("could not send ping message, exiting write loop", "error", err)
				return
			}

		case <-c.doneChan:
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return
		}
	}
}

// Run serves the connection until either loop ends, then leaves the current room.
func (c *Client) Run(ctx context.Context) {
	c.Add(2)
	go c.ReadLoop(ctx)
	go c.WriteLoop()
	<-c.doneChan
	c.Wait()
	c.Leave()
}
