package rooms

import (
	"math/rand"
	"sync"
	"time"
)

// Presence decides whether a registered user is shown as online in a room's roster.
type Presence interface {
	IsOnline(roomId, userId string) bool
}

// Rand is the source of the advisory member count of seeded rooms.
type Rand interface {
	Intn(n int) int
}

// RandomPresence simulates occupancy: every call is an independent coin flip. It is not backed by any real
// presence information.
type RandomPresence struct {
	sync.Mutex
	rnd *rand.Rand
}

func NewRandomPresence(seed int64) *RandomPresence {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RandomPresence{rnd: rand.New(rand.NewSource(seed))}
}

func (p *RandomPresence) IsOnline(roomId, userId string) bool {
	p.Lock()
	defer p.Unlock()
	return p.rnd.Float64() > 0.5
}

type lockedRand struct {
	sync.Mutex
	rnd *rand.Rand
}

func (r *lockedRand) Intn(n int) int {
	r.Lock()
	defer r.Unlock()
	return r.rnd.Intn(n)
}
