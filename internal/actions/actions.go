// Package actions implements a deferred-work queue: a FIFO of tagged
// actions consumed by a dedicated worker goroutine so that longer-running
// work never blocks the datagram loop. The sole action defined today is
// RequestPublicKey.
//
// A condition-variable-backed queue with a timeout wait, so the worker can
// notice shutdown even while idle, is the mechanism this package mirrors.
// Idiomatic Go expresses that exact mechanism as a buffered channel plus
// select-with-stop-channel, the pattern wireguard-go's device goroutines
// use throughout (device/receive.go, send.go: "select { case elem :=
// <-queue: ... case <-device.signals.stop: return }"); this package
// follows that shape in place of a literal sync.Cond translation.
package actions

import (
	"time"

	"github.com/kapua-mesh/kapua/internal/logger"
)

// Action is a tagged unit of deferred work. Kapua defines one variant
// today; the tag exists so a future variant doesn't require a new queue.
type Action struct {
	Kind   Kind
	NodeID uint64 // meaningful for Kind == RequestPublicKey
}

// Kind enumerates the defined action payload tags.
type Kind int

const (
	RequestPublicKey Kind = iota
)

func (k Kind) String() string {
	switch k {
	case RequestPublicKey:
		return "RequestPublicKey"
	default:
		return "Unknown"
	}
}

// queueCapacity bounds the FIFO so a misbehaving producer cannot grow it
// without limit.
const queueCapacity = 256

// pollInterval is how often the worker wakes to check for shutdown when
// idle, mirroring a condition variable's periodic timeout wait.
const pollInterval = 100 * time.Millisecond

// Handler processes one action. Handlers run on the worker goroutine, never
// concurrently with each other.
type Handler func(Action)

// Queue is the action worker: a bounded channel plus a single consumer
// goroutine invoking a Handler for each popped Action.
type Queue struct {
	items   chan Action
	stop    chan struct{}
	done    chan struct{}
	log     logger.Logger
	handler Handler
}

// New constructs a Queue and starts its worker goroutine. handler is
// invoked once per popped Action on the worker goroutine.
func New(log logger.Logger, handler Handler) *Queue {
	q := &Queue{
		items:   make(chan Action, queueCapacity),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
		handler: handler,
	}
	go q.run()
	return q
}

// Push enqueues an action. If the queue is full the action is dropped and
// logged, rather than blocking the caller (the datagram loop must never
// block on this).
func (q *Queue) Push(a Action) {
	select {
	case q.items <- a:
	default:
		q.log.Warnf("action queue full, dropping %s for node %d", a.Kind, a.NodeID)
	}
}

// Stop signals the worker to exit and waits for it to do so.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
}

func (q *Queue) run() {
	defer close(q.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.stop:
			return
		case a := <-q.items:
			q.handler(a)
		case <-ticker.C:
			// Idle wakeup: nothing to do beyond the shutdown check above.
		}
	}
}
