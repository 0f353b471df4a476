package fpa

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ListenerFunc receives the full device snapshot after every change.
type ListenerFunc func(Device)

const (
	// listenerQueueSize caps the events waiting for one subscriber; the
	// oldest is dropped when a new event arrives at a full queue.
	listenerQueueSize    = 64
	listenerDrainTimeout = 5 * time.Second
)

// Subscription is an opaque handle returned by Subscribe.
type Subscription struct {
	id uuid.UUID
}

// Listeners fans device changes out to subscribers. Every subscriber owns a
// goroutine and a queue, so callbacks never run on the notifying goroutine
// and a slow subscriber only delays itself.
type Listeners struct {
	log zerolog.Logger

	mu     sync.Mutex
	subs   map[uuid.UUID]*subscriber
	closed bool
	wg     sync.WaitGroup

	drainTimeout time.Duration
}

func NewListeners(log zerolog.Logger) *Listeners {
	return &Listeners{
		log:          log,
		subs:         make(map[uuid.UUID]*subscriber),
		drainTimeout: listenerDrainTimeout,
	}
}

// Subscribe registers fn. After Close the returned handle is inert.
func (l *Listeners) Subscribe(fn ListenerFunc) Subscription {
	id := uuid.New()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return Subscription{id: id}
	}

	sub := &subscriber{fn: fn, wake: make(chan struct{}, 1), log: l.log}
	l.subs[id] = sub
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		sub.run()
	}()
	return Subscription{id: id}
}

// Unsubscribe removes a subscription. Events already queued for it are
// still delivered. Unknown or repeated handles are ignored.
func (l *Listeners) Unsubscribe(s Subscription) {
	l.mu.Lock()
	sub, ok := l.subs[s.id]
	delete(l.subs, s.id)
	l.mu.Unlock()
	if ok {
		sub.stop()
	}
}

// Notify queues device for every current subscriber and returns at once.
func (l *Listeners) Notify(device Device) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for _, sub := range l.subs {
		sub.enqueue(device)
	}
}

func (l *Listeners) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Close stops all subscribers and waits up to the drain timeout for queued
// callbacks to finish. Past the timeout the remaining queued events are
// dropped and Close returns; a callback that is still running is left to
// finish on its own goroutine.
func (l *Listeners) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	subs := l.subs
	l.subs = make(map[uuid.UUID]*subscriber)
	l.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(l.drainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		dropped := 0
		for _, sub := range subs {
			dropped += sub.discard()
		}
		listenerDropped.Add(float64(dropped))
		l.log.Warn().Int("dropped", dropped).Dur("timeout", l.drainTimeout).Msg("listener callbacks still running at close")
	}
}

type subscriber struct {
	fn   ListenerFunc
	log  zerolog.Logger
	wake chan struct{}

	mu      sync.Mutex
	pending []Device
	stopped bool
}

func (s *subscriber) enqueue(device Device) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if len(s.pending) >= listenerQueueSize {
		s.pending[0] = Device{}
		s.pending = s.pending[1:]
		listenerDropped.Inc()
	}
	s.pending = append(s.pending, device)
	s.mu.Unlock()
	s.signal()
}

// discard drops every queued event and reports how many there were.
func (s *subscriber) discard() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.pending)
	s.pending = nil
	return n
}

func (s *subscriber) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.signal()
}

func (s *subscriber) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) run() {
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			<-s.wake
			continue
		}
		device := s.pending[0]
		s.pending[0] = Device{}
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.invoke(device)
	}
}

func (s *subscriber) invoke(device Device) {
	defer func() {
		if r := recover(); r != nil {
			listenerPanics.Inc()
			s.log.Error().Interface("panic", r).Str("device_id", device.DeviceID).Msg("listener panicked")
		}
	}()
	s.fn(device)
}
