package hub

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/tcriess/hobbyhub-chat/types"
)

const janitorSpec = "@every 1m"

// Relay forwards published messages to other instances sharing the same room store.
type Relay interface {
	Publish(ctx context.Context, roomId string, msg types.Message) error
}

// Registry is the subscriber registry of all rooms. Hubs are created on first subscription and removed by Prune
// once they are empty.
type Registry struct {
	sync.Mutex
	hubs map[string]*Hub

	relay  Relay
	onIdle func(roomId string)

	cronRunner *cron.Cron
	logger     hclog.Logger
}

func NewRegistry(logger hclog.Logger) *Registry {
	return &Registry{
		hubs:   make(map[string]*Hub),
		logger: logger,
	}
}

// SetRelay enables cross-instance fan-out.
func (r *Registry) SetRelay(relay Relay) {
	r.Lock()
	defer r.Unlock()
	r.relay = relay
}

// SetIdleHandler registers f to be called whenever the last subscriber of a room leaves.
func (r *Registry) SetIdleHandler(f func(roomId string)) {
	r.Lock()
	defer r.Unlock()
	r.onIdle = f
}

func (r *Registry) getHub(roomId string) *Hub {
	r.Lock()
	defer r.Unlock()
	return r.hubs[roomId]
}

// Subscribe registers a subscriber for roomId. backlog is delivered before any message published afterwards.
// The caller is responsible for serializing Subscribe with Publish on the same room if the backlog is read from
// the room log.
func (r *Registry) Subscribe(roomId, userId string, onMessage MessageFunc, onInfo InfoFunc, backlog []types.Message) *Subscriber {
	sub := newSubscriber(uuid.NewString(), roomId, userId, onMessage, onInfo)
	// hold the registry lock so Prune cannot remove the hub between lookup and add
	r.Lock()
	h, ok := r.hubs[roomId]
	if !ok {
		h = newHub(roomId, r.logger)
		r.hubs[roomId] = h
	}
	h.add(sub, backlog)
	r.Unlock()
	r.logger.Debug("subscribed", "room", roomId, "subscriber", sub.Id, "user", userId)
	return sub
}

// Unsubscribe ends the subscription and waits for its delivery goroutine to finish. Calling it more than once is
// harmless. It must not be called from within the subscriber's own callback; use the Done channel there.
func (r *Registry) Unsubscribe(sub *Subscriber) {
	if sub == nil {
		return
	}
	h := r.getHub(sub.RoomId)
	if h != nil && h.remove(sub) {
		r.logger.Debug("unsubscribed", "room", sub.RoomId, "subscriber", sub.Id)
		r.checkIdle(h)
	}
	sub.close()
	sub.wait()
}

// Publish delivers msg to the local subscribers of roomId and forwards it to the relay, if any.
func (r *Registry) Publish(ctx context.Context, roomId string, msg types.Message) {
	r.Deliver(roomId, msg)
	r.Lock()
	relay := r.relay
	r.Unlock()
	if relay != nil {
		if err := relay.Publish(ctx, roomId, msg); err != nil {
			r.logger.Error("could not relay message", "room", roomId, "id", msg.Id, "error", err)
		}
	}
}

// Deliver delivers msg to the local subscribers of roomId only.
func (r *Registry) Deliver(roomId string, msg types.Message) {
	h := r.getHub(roomId)
	if h == nil {
		return
	}
	if dropped := h.Publish(msg); len(dropped) > 0 {
		r.checkIdle(h)
	}
}

func (r *Registry) checkIdle(h *Hub) {
	if h.NoSubscribers() > 0 {
		return
	}
	r.Lock()
	onIdle := r.onIdle
	r.Unlock()
	if onIdle != nil {
		onIdle(h.roomId)
	}
}

// SubscriberCount returns the number of local subscribers of roomId.
func (r *Registry) SubscriberCount(roomId string) int {
	h := r.getHub(roomId)
	if h == nil {
		return 0
	}
	return h.NoSubscribers()
}

// Rooms returns the subscriber counts of all rooms with a hub.
func (r *Registry) Rooms() map[string]int {
	r.Lock()
	hubs := make([]*Hub, 0, len(r.hubs))
	for _, h := range r.hubs {
		hubs = append(hubs, h)
	}
	r.Unlock()
	res := make(map[string]int, len(hubs))
	for _, h := range hubs {
		res[h.roomId] = h.NoSubscribers()
	}
	return res
}

// Prune removes hubs without subscribers and returns how many were removed.
func (r *Registry) Prune() int {
	r.Lock()
	defer r.Unlock()
	n := 0
	for roomId, h := range r.hubs {
		if h.NoSubscribers() == 0 {
			delete(r.hubs, roomId)
			n++
		}
	}
	return n
}

// StartJanitor prunes empty hubs periodically until StopJanitor is called.
func (r *Registry) StartJanitor() error {
	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err := cronRunner.AddFunc(janitorSpec, func() {
		if n := r.Prune(); n > 0 {
			r.logger.Debug("pruned idle hubs", "count", n)
		}
	})
	if err != nil {
		return err
	}
	cronRunner.Start()
	r.Lock()
	r.cronRunner = cronRunner
	r.Unlock()
	return nil
}

func (r *Registry) StopJanitor() {
	r.Lock()
	cronRunner := r.cronRunner
	r.cronRunner = nil
	r.Unlock()
	if cronRunner != nil {
		<-cronRunner.Stop().Done()
	}
}
