package bot

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/config"
	"github.com/tcriess/hobbyhub-chat/filter"
	"github.com/tcriess/hobbyhub-chat/metrics"
	"github.com/tcriess/hobbyhub-chat/types"
)

const (
	defaultUserId      = "bot-gemini"
	defaultUserName    = "HobbyBot"
	defaultContextSize = 5
	defaultTimeout     = 15 * time.Second
)

type State int

const (
	Idle State = iota
	Pending
	Composing
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Composing:
		return "composing"
	}
	return "idle"
}

// Generator produces a reply to the recent messages of a room. An empty reply means "say nothing".
type Generator interface {
	Generate(ctx context.Context, topic string, recent []types.Message) (string, error)
}

// Host is the part of the chat core the responder reads from and writes to.
type Host interface {
	// Topic returns the topic id and display name of a room.
	Topic(roomId string) (id string, name string)
	RecentMessages(roomId string, n int) ([]types.Message, error)
	HasSubscribers(roomId string) bool
	// InjectMessage appends and broadcasts a bot message without moderation. The host assigns the timestamp.
	InjectMessage(ctx context.Context, msg types.Message) error
}

// Rand is the responder's source of randomness.
type Rand interface {
	Float64() float64
	Int63n(n int64) int64
}

type lockedRand struct {
	sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Float64() float64 {
	r.Lock()
	defer r.Unlock()
	return r.rnd.Float64()
}

func (r *lockedRand) Int63n(n int64) int64 {
	r.Lock()
	defer r.Unlock()
	return r.rnd.Int63n(n)
}

type roomState struct {
	state  State
	cancel context.CancelFunc
}

// Responder is the bot participant. Per room it is Idle, Pending (waiting a random delay after a human message)
// or Composing (generating and sending a reply). While a room is Pending or Composing further human messages are
// ignored, so there is at most one reply per window.
type Responder struct {
	cfg       config.BotConfig
	generator Generator
	host      Host
	trigger   *filter.Trigger
	rnd       Rand
	logger    hclog.Logger

	mu     sync.Mutex
	rooms  map[string]*roomState
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Responder)

func WithRand(rnd Rand) Option {
	return func(r *Responder) { r.rnd = rnd }
}

// New creates a responder. A nil generator or a disabled config yields a responder that never replies.
func New(cfg config.BotConfig, generator Generator, host Host, logger hclog.Logger, opts ...Option) (*Responder, error) {
	if cfg.UserId == "" {
		cfg.UserId = defaultUserId
	}
	if cfg.UserName == "" {
		cfg.UserName = defaultUserName
	}
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = defaultContextSize
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = defaultTimeout
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = cfg.MinDelay
	}
	trigger, err := filter.Compile(cfg.TriggerFilter)
	if err != nil {
		return nil, err
	}
	r := &Responder{
		cfg:       cfg,
		generator: generator,
		host:      host,
		trigger:   trigger,
		logger:    logger,
		rooms:     make(map[string]*roomState),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rnd == nil {
		r.rnd = &lockedRand{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
	}
	return r, nil
}

// UserId is the sender id of bot messages.
func (r *Responder) UserId() string {
	return r.cfg.UserId
}

func (r *Responder) enabled() bool {
	return r.cfg.Enabled && r.generator != nil
}

// State returns the current state of a room.
func (r *Responder) State(roomId string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rs, ok := r.rooms[roomId]; ok {
		return rs.state
	}
	return Idle
}

func (r *Responder) delay() time.Duration {
	spread := int64(r.cfg.MaxDelay - r.cfg.MinDelay)
	if spread <= 0 {
		return r.cfg.MinDelay
	}
	return r.cfg.MinDelay + time.Duration(r.rnd.Int63n(spread+1))
}

// Observe is called with every accepted message. Only human messages matching the trigger filter can start a
// reply.
func (r *Responder) Observe(msg types.Message) {
	if !r.enabled() || msg.IsSystem || msg.SenderId == r.cfg.UserId {
		return
	}
	topicId, _ := r.host.Topic(msg.RoomId)
	matched, err := r.trigger.Match(filter.NewEnv(&msg, topicId, r.cfg.UserId))
	if err != nil {
		r.logger.Warn("could not run trigger filter", "filter", r.trigger.String(), "error", err)
		return
	}
	if !matched {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, busy := r.rooms[msg.RoomId]; busy {
		metrics.BotReplies.WithLabelValues("debounced").Inc()
		return
	}
	if r.rnd.Float64() >= r.cfg.Probability {
		metrics.BotReplies.WithLabelValues("skipped").Inc()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	rs := &roomState{state: Pending, cancel: cancel}
	r.rooms[msg.RoomId] = rs
	delay := r.delay()
	metrics.BotReplies.WithLabelValues("scheduled").Inc()
	r.logger.Debug("reply scheduled", "room", msg.RoomId, "delay", delay)
	r.wg.Add(1)
	go r.run(ctx, msg.RoomId, rs, delay)
}

func (r *Responder) finish(roomId string, rs *roomState, outcome string) {
	r.mu.Lock()
	if r.rooms[roomId] == rs {
		delete(r.rooms, roomId)
	}
	r.mu.Unlock()
	rs.cancel()
	metrics.BotReplies.WithLabelValues(outcome).Inc()
}

func (r *Responder) run(ctx context.Context, roomId string, rs *roomState, delay time.Duration) {
	defer r.wg.Done()
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		r.finish(roomId, rs, "cancelled")
		return
	case <-timer.C:
	}

	r.mu.Lock()
	rs.state = Composing
	r.mu.Unlock()

	if !r.host.HasSubscribers(roomId) {
		r.finish(roomId, rs, "cancelled")
		return
	}
	recent, err := r.host.RecentMessages(roomId, r.cfg.ContextSize)
	if err != nil {
		r.logger.Warn("could not read room log", "room", roomId, "error", err)
		r.finish(roomId, rs, "failed")
		return
	}
	_, topicName := r.host.Topic(roomId)
	gctx, cancel := context.WithTimeout(ctx, r.cfg.GenerateTimeout)
	reply, err := r.generator.Generate(gctx, topicName, recent)
	cancel()
	if err != nil {
		r.logger.Debug("reply generation failed", "room", roomId, "error", err)
		r.finish(roomId, rs, "failed")
		return
	}
	if reply == "" {
		r.finish(roomId, rs, "empty")
		return
	}
	if ctx.Err() != nil || !r.host.HasSubscribers(roomId) {
		r.finish(roomId, rs, "cancelled")
		return
	}
	msg := types.Message{
		Id:         uuid.NewString(),
		RoomId:     roomId,
		SenderId:   r.cfg.UserId,
		SenderName: r.cfg.UserName,
		Text:       reply,
	}
	if err := r.host.InjectMessage(ctx, msg); err != nil {
		r.logger.Warn("could not send bot reply", "room", roomId, "error", err)
		r.finish(roomId, rs, "failed")
		return
	}
	r.finish(roomId, rs, "sent")
}

// Cancel aborts a pending or composing reply in a room, f.e. because its last subscriber left.
func (r *Responder) Cancel(roomId string) {
	r.mu.Lock()
	rs, ok := r.rooms[roomId]
	if ok {
		delete(r.rooms, roomId)
	}
	r.mu.Unlock()
	if ok {
		rs.cancel()
		r.logger.Debug("reply cancelled", "room", roomId)
	}
}

// Close cancels all rooms and waits for running replies to finish.
func (r *Responder) Close() {
	r.mu.Lock()
	r.closed = true
	for roomId, rs := range r.rooms {
		rs.cancel()
		delete(r.rooms, roomId)
	}
	r.mu.Unlock()
	r.wg.Wait()
}
