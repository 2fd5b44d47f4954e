package task

import (
	"sync"

	"github.com/kursadbilgin/codegen-engine/internal/domain"
)

// subscription is an unbounded, ordered mailbox for one observer. push never
// blocks, so the producing task is not slowed down by its observers.
type subscription struct {
	mu     sync.Mutex
	queue  []domain.Event
	closed bool

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
	out      chan domain.Event
}

func newSubscription() *subscription {
	s := &subscription{
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		out:  make(chan domain.Event),
	}
	go s.pump()
	return s
}

func (s *subscription) push(e domain.Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.signal()
}

// close lets the mailbox drain what it holds and then closes out.
func (s *subscription) close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.signal()
}

// cancel drops pending events and closes out as soon as possible.
func (s *subscription) cancel() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *subscription) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscription) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-s.wake:
				continue
			case <-s.stop:
				return
			}
		}
		next := s.queue[0]
		s.queue[0] = domain.Event{}
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- next:
		case <-s.stop:
			return
		}
	}
}
