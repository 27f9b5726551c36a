package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/apperrors"
	"github.com/tcriess/hobbyhub-chat/bot"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/hub"
	"github.com/tcriess/hobbyhub-chat/metrics"
	"github.com/tcriess/hobbyhub-chat/moderation"
	"github.com/tcriess/hobbyhub-chat/persistence"
	"github.com/tcriess/hobbyhub-chat/reports"
	"github.com/tcriess/hobbyhub-chat/rooms"
	"github.com/tcriess/hobbyhub-chat/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttachmentTooLargeReason = "Attachment too large for storage. Please try a smaller file."
	HistoryFullReason        = "Room history is full. Please try again later."
)

// SubmitRequest is a message submitted by a participant. MessageId is optional; a client that appends its own
// message optimistically can pick the id up front and mark it as seen on its subscription.
type SubmitRequest struct {
	RoomId     string
	SenderId   string
	SenderName string
	Text       string
	Attachment *types.Attachment
	MessageId  string
}

// SubmitResult is the outcome of SubmitMessage. A rejected message has Accepted false and a Reason that is meant
// for the submitter only.
type SubmitResult struct {
	Accepted bool           `json:"accepted"`
	Message  *types.Message `json:"message,omitempty"`
	Reason   string         `json:"reason,omitempty"`

	err error
}

// Err returns nil for an accepted message. A moderation rejection is an apperrors.ErrModerationRejected carrying
// Reason, a full room log the apperrors.ErrStorageFull also returned by SubmitMessage. Transports use it to map
// a rejection like any other error.
func (r *SubmitResult) Err() error {
	if r == nil || r.Accepted {
		return nil
	}
	if r.err != nil {
		return r.err
	}
	return apperrors.NewModerationError(r.Reason)
}

// roomLog guards appends to one room. lastTimestamp keeps the log ordered by timestamp even if the clock goes
// backwards. A roomLog of a room without subscribers is dropped and reloaded from the store on next use.
type roomLog struct {
	sync.Mutex
	removed       bool
	loaded        bool
	lastTimestamp int64
}

// Service is the chat core: every human message passes the moderation gate, is appended to the room log and
// published to the room's subscribers under the room's lock, so acceptance order, log order and delivery order
// are the same. Accepted human messages are then offered to the bot responder.
type Service struct {
	cfg       *config.Config
	persister persistence.Persister
	gate      *moderation.Gate
	registry  *hub.Registry
	rooms     *rooms.Manager
	bot       *bot.Responder
	sink      reports.Sink
	now       func() time.Time
	tracer    trace.Tracer
	logger    hclog.Logger

	logs sync.Map // room id -> *roomLog

	// serializes report deduplication
	reportLock sync.Mutex
}

type Option func(*serviceOptions)

type serviceOptions struct {
	generator  bot.Generator
	botOptions []bot.Option
	sink       reports.Sink
	now        func() time.Time
}

// WithGenerator enables the bot responder.
func WithGenerator(g bot.Generator) Option {
	return func(o *serviceOptions) { o.generator = g }
}

func WithBotOptions(opts ...bot.Option) Option {
	return func(o *serviceOptions) { o.botOptions = append(o.botOptions, opts...) }
}

// WithReportSink sets where submitted reports are delivered to, in addition to being stored.
func WithReportSink(s reports.Sink) Option {
	return func(o *serviceOptions) { o.sink = s }
}

func WithClock(now func() time.Time) Option {
	return func(o *serviceOptions) { o.now = now }
}

func New(cfg *config.Config, persister persistence.Persister, gate *moderation.Gate, registry *hub.Registry, manager *rooms.Manager, logger hclog.Logger, opts ...Option) (*Service, error) {
	o := serviceOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.sink == nil {
		o.sink = reports.NewLogSink(logger.Named("audit"))
	}
	s := &Service{
		cfg:       cfg,
		persister: persister,
		gate:      gate,
		registry:  registry,
		rooms:     manager,
		sink:      o.sink,
		now:       o.now,
		tracer:    otel.Tracer("github.com/tcriess/hobbyhub-chat/chat"),
		logger:    logger,
	}
	responder, err := bot.New(cfg.BotConfig, o.generator, s, logger.Named("bot"), o.botOptions...)
	if err != nil {
		return nil, fmt.Errorf("could not create bot responder: %w", err)
	}
	s.bot = responder
	registry.SetIdleHandler(s.roomIdle)
	return s, nil
}

// Close stops the bot responder.
func (s *Service) Close() {
	s.bot.Close()
}

func (s *Service) Bot() *bot.Responder {
	return s.bot
}

// lockRoom returns the locked roomLog of roomId. A roomLog removed concurrently is never returned, so all
// holders of a room's lock share the same mutex.
func (s *Service) lockRoom(roomId string) *roomLog {
	for {
		v, _ := s.logs.LoadOrStore(roomId, &roomLog{})
		rl := v.(*roomLog)
		rl.Lock()
		if !rl.removed {
			return rl
		}
		rl.Unlock()
	}
}

// forgetRoom drops the roomLog of a room that has no local subscribers. Must not be called with a room lock held.
func (s *Service) forgetRoom(roomId string) {
	v, ok := s.logs.Load(roomId)
	if !ok {
		return
	}
	rl := v.(*roomLog)
	rl.Lock()
	defer rl.Unlock()
	// subscribing happens under the room lock, so the count cannot change here
	if rl.removed || s.registry.SubscriberCount(roomId) > 0 {
		return
	}
	rl.removed = true
	s.logs.CompareAndDelete(roomId, rl)
}

// roomIdle is called by the registry when the last local subscriber of a room is gone, possibly from within a
// publish that holds the room lock.
func (s *Service) roomIdle(roomId string) {
	s.bot.Cancel(roomId)
	go s.forgetRoom(roomId)
}

func (s *Service) nowMillis() int64 {
	return s.now().UnixNano() / int64(time.Millisecond)
}

// appendLocked stamps msg, appends it to the room log and publishes it. rl must be locked.
func (s *Service) appendLocked(ctx context.Context, rl *roomLog, msg *types.Message) error {
	if !rl.loaded {
		existing, err := s.persister.GetMessages(msg.RoomId)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			rl.lastTimestamp = existing[len(existing)-1].Timestamp
		}
		rl.loaded = true
	}
	ts := s.nowMillis()
	if ts < rl.lastTimestamp {
		ts = rl.lastTimestamp
	}
	msg.Timestamp = ts
	if err := s.persister.AppendMessage(*msg); err != nil {
		return err
	}
	rl.lastTimestamp = ts
	s.registry.Publish(ctx, msg.RoomId, *msg)
	return nil
}

func (s *Service) append(ctx context.Context, msg *types.Message) error {
	rl := s.lockRoom(msg.RoomId)
	err := s.appendLocked(ctx, rl, msg)
	rl.Unlock()
	if !s.HasSubscribers(msg.RoomId) {
		s.forgetRoom(msg.RoomId)
	}
	return err
}

func validateSubmit(req *SubmitRequest) error {
	if strings.TrimSpace(req.RoomId) == "" {
		return apperrors.NewValidationError("room is required")
	}
	if strings.TrimSpace(req.SenderId) == "" {
		return apperrors.NewValidationError("sender is required")
	}
	if strings.TrimSpace(req.Text) == "" && req.Attachment == nil {
		return apperrors.NewValidationError("message is empty")
	}
	if req.Attachment != nil && !req.Attachment.ValidKind() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown attachment kind %q", req.Attachment.Kind))
	}
	return nil
}

// SubmitMessage moderates, stores and broadcasts a participant's message. A moderation rejection is not an
// error: the result carries the reason for the submitter and nothing is stored or broadcast. A full room log
// returns a non-accepted result together with apperrors.ErrStorageFull.
func (s *Service) SubmitMessage(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	ctx, span := s.tracer.Start(ctx, "chat.SubmitMessage", trace.WithAttributes(
		attribute.String("room", req.RoomId),
		attribute.String("sender", req.SenderId),
	))
	defer span.End()

	if err := validateSubmit(&req); err != nil {
		metrics.MessagesRejected.WithLabelValues("invalid").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// attachments are not moderated, only the text is
	if strings.TrimSpace(req.Text) != "" {
		verdict := s.gate.Evaluate(ctx, req.Text)
		span.SetAttributes(attribute.Bool("moderation.failed_open", verdict.FailedOpen))
		if !verdict.Accepted {
			metrics.MessagesRejected.WithLabelValues(verdict.Stage).Inc()
			span.SetAttributes(attribute.String("moderation.stage", verdict.Stage))
			s.logger.Debug("message rejected", "room", req.RoomId, "sender", req.SenderId, "stage", verdict.Stage, "detail", verdict.Detail)
			return &SubmitResult{Accepted: false, Reason: verdict.Reason}, nil
		}
	}

	msg := types.Message{
		Id:         req.MessageId,
		RoomId:     req.RoomId,
		SenderId:   req.SenderId,
		SenderName: req.SenderName,
		Text:       req.Text,
		Attachment: req.Attachment,
	}
	if msg.Id == "" {
		msg.Id = uuid.NewString()
	}
	if err := s.append(ctx, &msg); err != nil {
		span.SetStatus(codes.Error, err.Error())
		if errors.Is(err, apperrors.ErrStorageFull) {
			metrics.MessagesRejected.WithLabelValues("storage_full").Inc()
			reason := HistoryFullReason
			if msg.Attachment != nil {
				reason = AttachmentTooLargeReason
			}
			s.logger.Warn("room log full", "room", req.RoomId, "sender", req.SenderId)
			return &SubmitResult{Accepted: false, Reason: reason, err: err}, err
		}
		s.logger.Error("could not append message", "room", req.RoomId, "error", err)
		return nil, err
	}
	metrics.MessagesAccepted.WithLabelValues("human").Inc()
	s.bot.Observe(msg)
	return &SubmitResult{Accepted: true, Message: &msg}, nil
}

// InjectMessage appends and broadcasts a synthetic message (bot reply) through the same path as human messages,
// without moderation and without waking the bot responder.
func (s *Service) InjectMessage(ctx context.Context, msg types.Message) error {
	if msg.RoomId == "" || msg.Id == "" {
		return apperrors.NewValidationError("room and id are required")
	}
	if err := s.append(ctx, &msg); err != nil {
		return err
	}
	kind := "bot"
	if msg.IsSystem {
		kind = "system"
	}
	metrics.MessagesAccepted.WithLabelValues(kind).Inc()
	return nil
}

// Topic returns the topic id and display name of a room.
func (s *Service) Topic(roomId string) (string, string) {
	topicId, err := s.rooms.TopicOf(roomId)
	if err != nil {
		return "", ""
	}
	return topicId, s.rooms.TopicName(topicId)
}

// Messages returns the bounded room log, oldest first.
func (s *Service) Messages(roomId string) ([]types.Message, error) {
	return s.persister.GetMessages(roomId)
}

// RecentMessages returns the last n messages of the room log.
func (s *Service) RecentMessages(roomId string, n int) ([]types.Message, error) {
	msgs, err := s.persister.GetMessages(roomId)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	return msgs, nil
}

func (s *Service) HasSubscribers(roomId string) bool {
	return s.registry.SubscriberCount(roomId) > 0
}

func (s *Service) welcomeText(topicId string) string {
	welcome := s.cfg.HistoryConfig.WelcomeMessages
	if text, ok := welcome[topicId]; ok && text != "" {
		return text
	}
	if text, ok := welcome["default"]; ok && text != "" {
		return text
	}
	return fmt.Sprintf("Welcome to the %s community! Be kind and share your passion.", s.rooms.TopicName(topicId))
}

// Subscribe delivers the current room log followed by every message accepted afterwards to onMessage. The log
// is read and the subscription registered under the room lock, so there is neither a gap nor an overlap between
// the two. An empty room log is seeded with the welcome banner first. onInfo (optional) receives subscriber
// counts.
func (s *Service) Subscribe(ctx context.Context, roomId, userId string, onMessage hub.MessageFunc, onInfo hub.InfoFunc) (*hub.Subscriber, error) {
	if strings.TrimSpace(roomId) == "" {
		return nil, apperrors.NewValidationError("room is required")
	}
	topicId, err := s.rooms.TopicOf(roomId)
	if err != nil {
		return nil, err
	}
	rl := s.lockRoom(roomId)
	defer rl.Unlock()
	backlog, err := s.persister.GetMessages(roomId)
	if err != nil {
		return nil, err
	}
	if len(backlog) == 0 && s.cfg.HistoryConfig.Welcome {
		welcome := types.Message{
			Id:         types.WelcomeId,
			RoomId:     roomId,
			SenderId:   types.SystemUserId,
			SenderName: types.SystemUserName,
			Text:       s.welcomeText(topicId),
			IsSystem:   true,
		}
		err = s.appendLocked(ctx, rl, &welcome)
		if err != nil && !errors.Is(err, apperrors.ErrConflict) {
			return nil, err
		}
		if err == nil {
			metrics.MessagesAccepted.WithLabelValues("system").Inc()
			backlog = append(backlog, welcome)
		}
	}
	return s.registry.Subscribe(roomId, userId, onMessage, onInfo, backlog), nil
}

// Unsubscribe ends a subscription. If it was the last one of its room, a pending bot reply is cancelled.
func (s *Service) Unsubscribe(sub *hub.Subscriber) {
	s.registry.Unsubscribe(sub)
}

func (s *Service) ListTopics() []types.Topic {
	return s.rooms.ListTopics()
}

func (s *Service) ListRooms(topicId string) ([]types.Room, error) {
	return s.rooms.ListRooms(topicId)
}

func (s *Service) CreateRoom(topicId, name, description, creatorId string) (*types.Room, error) {
	return s.rooms.CreateRoom(topicId, name, description, creatorId)
}

func (s *Service) ListMembers(roomId string) ([]types.Member, error) {
	return s.rooms.ListMembers(roomId)
}
