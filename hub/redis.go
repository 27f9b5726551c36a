package hub

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"
	"github.com/tcriess/hobbyhub-chat/types"
)

type relayEnvelope struct {
	Origin  string        `json:"origin"`
	RoomId  string        `json:"roomId"`
	Message types.Message `json:"message"`
}

// RedisRelay fans accepted messages out to other instances via Redis pub/sub, one channel per room
// (<prefix><roomId>). Instances are expected to share the room store (f.e. postgres), the relay only carries live
// updates.
type RedisRelay struct {
	client *redis.Client
	prefix string
	origin string
	logger hclog.Logger
}

func NewRedisRelay(client *redis.Client, prefix string, logger hclog.Logger) *RedisRelay {
	return &RedisRelay{
		client: client,
		prefix: prefix,
		origin: uuid.NewString(),
		logger: logger,
	}
}

func (r *RedisRelay) Publish(ctx context.Context, roomId string, msg types.Message) error {
	payload, err := json.Marshal(relayEnvelope{Origin: r.origin, RoomId: roomId, Message: msg})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.prefix+roomId, payload).Err()
}

// Run delivers messages published by other instances until ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(roomId string, msg types.Message)) error {
	pubsub := r.client.PSubscribe(ctx, r.prefix+"*")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return err
	}
	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			r.handlePayload(m.Channel, m.Payload, deliver)
		}
	}
}

func (r *RedisRelay) handlePayload(channel, payload string, deliver func(roomId string, msg types.Message)) {
	env := relayEnvelope{}
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		r.logger.Error("could not unmarshal relayed message", "channel", channel, "error", err)
		return
	}
	if env.Origin == r.origin {
		return
	}
	if env.RoomId == "" {
		env.RoomId = strings.TrimPrefix(channel, r.prefix)
	}
	deliver(env.RoomId, env.Message)
}
