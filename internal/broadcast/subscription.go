package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/xtxerr/catwatch/internal/buffer"
	"github.com/xtxerr/catwatch/internal/types"
)

// Subscription is one subscriber's view of the reading stream.
type Subscription struct {
	id   string
	name string

	queue  *buffer.RingBuffer[types.Reading]
	notify chan struct{}
	out    chan types.Reading

	done      chan struct{}
	closeOnce sync.Once

	delivered atomic.Int64
}

func newSubscription(id, name string, queueSize int) *Subscription {
	return &Subscription{
		id:     id,
		name:   name,
		queue:  buffer.New[types.Reading](queueSize),
		notify: make(chan struct{}, 1),
		out:    make(chan types.Reading),
		done:   make(chan struct{}),
	}
}

// ID returns the subscriber id.
func (s *Subscription) ID() string { return s.id }

// Name returns the name given at Subscribe.
func (s *Subscription) Name() string { return s.name }

// C returns the reading channel. It is closed on Unsubscribe or when the
// broadcaster closes.
func (s *Subscription) C() <-chan types.Reading { return s.out }

// Done is closed when the subscription ends.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Dropped returns the number of readings evicted from a full queue.
func (s *Subscription) Dropped() int64 { return s.queue.Dropped() }

// Delivered returns the number of readings received from C.
func (s *Subscription) Delivered() int64 { return s.delivered.Load() }

// offer queues r, evicting the oldest queued reading when full.
func (s *Subscription) offer(r types.Reading) {
	select {
	case <-s.done:
		return
	default:
	}

	s.queue.PushOverwrite(r)

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump moves queued readings to the output channel until closed.
func (s *Subscription) pump() {
	defer close(s.out)

	for {
		r, ok := s.queue.Pop()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case s.out <- r:
			s.delivered.Add(1)
		case <-s.done:
			return
		}
	}
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
