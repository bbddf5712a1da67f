package sse

import (
	"sync/atomic"
)

type subscription struct {
	jobID string
	ch    chan struct{}
}

type countReq struct {
	jobID string
	resp  chan int
}

// Broker wakes stream handlers of a job as soon as an event is pushed for
// it. Handlers still poll on an interval, so a missed wakeup only delays
// delivery.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// subscriber table. Public methods communicate with this loop through
// channels, so no mutexes are required.
type Broker struct {
	subscribeCh   chan subscription
	unsubscribeCh chan subscription
	notifyCh      chan string
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker and starts its event loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan subscription),
		notifyCh:      make(chan string, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	subs := make(map[string]map[chan struct{}]struct{})

	for {
		select {
		case <-b.stopCh:
			for _, set := range subs {
				for ch := range set {
					close(ch)
				}
			}
			return

		case s := <-b.subscribeCh:
			set, ok := subs[s.jobID]
			if !ok {
				set = make(map[chan struct{}]struct{})
				subs[s.jobID] = set
			}
			set[s.ch] = struct{}{}

		case s := <-b.unsubscribeCh:
			if set, ok := subs[s.jobID]; ok {
				if _, ok := set[s.ch]; ok {
					delete(set, s.ch)
					close(s.ch)
				}
				if len(set) == 0 {
					delete(subs, s.jobID)
				}
			}

		case jobID := <-b.notifyCh:
			for ch := range subs[jobID] {
				select {
				case ch <- struct{}{}:
				default:
					// A wakeup is already pending.
				}
			}

		case req := <-b.countReqCh:
			req.resp <- len(subs[req.jobID])
		}
	}
}

// Close stops the event loop and closes all subscriber channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe returns a channel that receives a value whenever an event is
// pushed for jobID. The channel is closed on Unsubscribe or Close.
func (b *Broker) Subscribe(jobID string) chan struct{} {
	ch := make(chan struct{}, 1)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	select {
	case b.subscribeCh <- subscription{jobID: jobID, ch: ch}:
	case <-b.stopped:
		close(ch)
	}
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(jobID string, ch chan struct{}) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- subscription{jobID: jobID, ch: ch}:
	case <-b.stopped:
	}
}

// Notify wakes the subscribers of jobID.
func (b *Broker) Notify(jobID string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.notifyCh <- jobID:
	case <-b.stopped:
	}
}

// Subscribers returns the number of subscribers of jobID.
func (b *Broker) Subscribers(jobID string) int {
	if b.closed.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.countReqCh <- countReq{jobID: jobID, resp: resp}:
	case <-b.stopped:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}
