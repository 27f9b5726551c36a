package hub

import (
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/tcriess/hobbyhub-chat/types"
)

const (
	sendChannelSize = 1000
	seenCacheSize   = 512
)

// MessageFunc receives the messages of the subscribed room, in acceptance order and at most once per id.
type MessageFunc func(msg types.Message)

// InfoFunc receives the subscriber count of the room whenever it changes.
type InfoFunc func(info types.RoomInfo)

type delivery struct {
	msg  *types.Message
	info *types.RoomInfo
}

// Subscriber is the handle of one subscription to one room. Deliveries are queued and handed to the callbacks by a
// single goroutine per subscriber, so a slow consumer never blocks publishing. A subscriber whose queue overflows is
// dropped from its hub.
type Subscriber struct {
	Id     string
	RoomId string
	UserId string

	onMessage MessageFunc
	onInfo    InfoFunc

	send chan delivery
	seen *lru.Cache

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newSubscriber(id, roomId, userId string, onMessage MessageFunc, onInfo InfoFunc) *Subscriber {
	seen, _ := lru.New(seenCacheSize) // only fails for a non-positive size
	return &Subscriber{
		Id:        id,
		RoomId:    roomId,
		UserId:    userId,
		onMessage: onMessage,
		onInfo:    onInfo,
		send:      make(chan delivery, sendChannelSize),
		seen:      seen,
		done:      make(chan struct{}),
	}
}

// MarkSeen records a message id the consumer already holds locally, f.e. an optimistic append of its own message.
// A later delivery of the same id is a no-op.
func (s *Subscriber) MarkSeen(id string) {
	s.seen.Add(id, struct{}{})
}

// Done is closed when the subscription ends, either by Unsubscribe or because the subscriber was dropped.
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) enqueue(d delivery) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.send <- d:
		return true
	default:
		return false
	}
}

func (s *Subscriber) start() {
	s.wg.Add(1)
	go s.deliverLoop()
}

func (s *Subscriber) deliverLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case d := <-s.send:
			if d.info != nil {
				if s.onInfo != nil {
					s.onInfo(*d.info)
				}
				continue
			}
			if d.msg == nil {
				continue
			}
			if found, _ := s.seen.ContainsOrAdd(d.msg.Id, struct{}{}); found {
				continue
			}
			if s.onMessage != nil {
				s.onMessage(*d.msg)
			}
		}
	}
}

// close stops delivery. Queued deliveries that were not handed out yet are discarded.
func (s *Subscriber) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// wait blocks until the delivery goroutine has returned. It must not be called from within a callback.
func (s *Subscriber) wait() {
	s.wg.Wait()
}
