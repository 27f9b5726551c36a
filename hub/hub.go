package hub

import (
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/hobbyhub-chat/metrics"
	"github.com/tcriess/hobbyhub-chat/types"
)

// Hub holds the subscribers of one room. Publish must be called in acceptance order; each subscriber then sees
// the messages in exactly that order.
type Hub struct {
	// there is one hub per room
	roomId string

	subscribers map[string]*Subscriber

	logger hclog.Logger

	// mutex for manipulating the subscribers
	sync.RWMutex
}

func newHub(roomId string, logger hclog.Logger) *Hub {
	return &Hub{
		roomId:      roomId,
		subscribers: make(map[string]*Subscriber),
		logger:      logger,
	}
}

// NoSubscribers returns the number of subscribers registered
func (h *Hub) NoSubscribers() int {
	h.RLock()
	defer h.RUnlock()
	return len(h.subscribers)
}

// add queues backlog for sub before it becomes visible to Publish, so the backlog always precedes live messages.
func (h *Hub) add(sub *Subscriber, backlog []types.Message) {
	for i := range backlog {
		msg := backlog[i]
		sub.enqueue(delivery{msg: &msg})
	}
	h.Lock()
	h.subscribers[sub.Id] = sub
	h.Unlock()
	sub.start()
	metrics.Subscribers.Inc()
	h.sendInfo()
}

func (h *Hub) remove(sub *Subscriber) bool {
	h.Lock()
	_, ok := h.subscribers[sub.Id]
	if ok {
		delete(h.subscribers, sub.Id)
	}
	h.Unlock()
	sub.close()
	if ok {
		metrics.Subscribers.Dec()
		h.sendInfo()
	}
	return ok
}

// Publish queues msg for every subscriber. It never blocks; subscribers that cannot keep up are dropped and
// returned.
func (h *Hub) Publish(msg types.Message) []*Subscriber {
	return h.broadcast(delivery{msg: &msg})
}

func (h *Hub) broadcast(d delivery) []*Subscriber {
	var overflow []*Subscriber
	h.RLock()
	for _, sub := range h.subscribers {
		if !sub.enqueue(d) {
			overflow = append(overflow, sub)
		}
	}
	h.RUnlock()
	for _, sub := range overflow {
		h.logger.Warn("subscriber queue full, dropping subscriber", "room", h.roomId, "subscriber", sub.Id, "user", sub.UserId)
		metrics.DroppedSubscribers.Inc()
		h.remove(sub)
	}
	return overflow
}

func (h *Hub) sendInfo() {
	info := types.RoomInfo{RoomId: h.roomId, NoConnections: h.NoSubscribers()}
	h.broadcast(delivery{info: &info})
}
