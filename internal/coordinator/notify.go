package coordinator

import "sync"

// subscriber queues transitions without bound so a slow reader never
// loses or coalesces one and never stalls the coordinator.
type subscriber struct {
	mu       sync.Mutex
	queue    []Transition
	draining bool
	wake     chan struct{}
	out      chan Transition
	done     chan struct{}
	closed   sync.Once
}

func newSubscriber() *subscriber {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan Transition),
		done: make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *subscriber) push(t Transition) {
	s.mu.Lock()
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch, draining := s.queue, s.draining
		s.queue = nil
		s.mu.Unlock()

		for _, t := range batch {
			select {
			case s.out <- t:
			case <-s.done:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if draining {
			return
		}
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

// close stops delivery immediately.
func (s *subscriber) close() {
	s.closed.Do(func() { close(s.done) })
}

// finish delivers what is queued, then closes the channel.
func (s *subscriber) finish() {
	s.mu.Lock()
	s.draining = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// hub fans transitions out to subscribers.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func (h *hub) subscribe() *subscriber {
	s := newSubscriber()
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[*subscriber]struct{})
	}
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *hub) unsubscribe(s *subscriber) {
	h.mu.Lock()
	delete(h.subs, s)
	h.mu.Unlock()
	s.close()
}

func (h *hub) publish(t Transition) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.push(t)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		s.finish()
		delete(h.subs, s)
	}
}
