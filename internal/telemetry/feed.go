package telemetry

import (
	"sync"
)

// feedBuffer is the per-listener queue length. When a listener falls
// behind, its oldest queued event is dropped.
const feedBuffer = 16

// Event is one message on a live subscription: a new latest reading, or a
// relay error. Errors do not end the subscription.
type Event struct {
	Reading Reading
	Err     error
}

// Feed fans samples out to per-device listeners. Each listener sees the
// device's latest reading whenever it changes; a sample older than the
// newest one already published is not a change and is not delivered.
type Feed struct {
	mu        sync.Mutex
	listeners map[string]map[*Subscription]struct{}
	latest    map[string]int64
}

// NewFeed creates an empty Feed.
func NewFeed() *Feed {
	return &Feed{
		listeners: make(map[string]map[*Subscription]struct{}),
		latest:    make(map[string]int64),
	}
}

// Subscription is a live view of one device. Close releases it.
type Subscription struct {
	feed     *Feed
	deviceID string
	ch       chan Event
	once     sync.Once
}

// Subscribe registers a listener for deviceID.
func (f *Feed) Subscribe(deviceID string) *Subscription {
	sub := &Subscription{
		feed:     f,
		deviceID: deviceID,
		ch:       make(chan Event, feedBuffer),
	}

	f.mu.Lock()
	set, ok := f.listeners[deviceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		f.listeners[deviceID] = set
	}
	set[sub] = struct{}{}
	f.mu.Unlock()

	return sub
}

// Events returns the subscription's event channel. It is closed by Close.
func (s *Subscription) Events() <-chan Event {
	return s.ch
}

// Close unregisters the listener. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		f := s.feed
		f.mu.Lock()
		if set, ok := f.listeners[s.deviceID]; ok {
			delete(set, s)
			if len(set) == 0 {
				delete(f.listeners, s.deviceID)
			}
		}
		f.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers rec to the device's listeners if it is the new latest.
// It never blocks.
func (f *Feed) Publish(rec Record) {
	ms, ok := TimestampMillis(rec.TS)
	if !ok {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if last, seen := f.latest[rec.DeviceID]; seen && ms < last {
		return
	}
	f.latest[rec.DeviceID] = ms

	ev := Event{Reading: rec.Reading()}
	for sub := range f.listeners[rec.DeviceID] {
		sub.offer(ev)
	}
}

// Fail delivers err to every listener of every device.
func (f *Feed) Fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ev := Event{Err: err}
	for _, set := range f.listeners {
		for sub := range set {
			sub.offer(ev)
		}
	}
}

// offer enqueues ev, dropping the oldest queued event when full. Callers
// hold f.mu, which also orders offer against Close.
func (s *Subscription) offer(ev Event) {
	select {
	case s.ch <- ev:
		return
	default:
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- ev:
	default:
	}
}

// ListenerCount returns the number of open subscriptions for deviceID.
func (f *Feed) ListenerCount(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners[deviceID])
}
