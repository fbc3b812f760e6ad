package dummy

import (
	"slices"

	"github.com/indigo-web/evhttp/httpconn"
)

var _ httpconn.Scheduler = new(Scheduler)

type direction uint8

const (
	readable direction = iota
	writable
)

type task struct {
	transport httpconn.Transport
	cont      func()
	dir       direction
}

// Scheduler is a deterministic single-threaded scheduler. Registrations are queued and run
// only by Step or Run, in registration order. Writable registrations are always ready,
// readable ones only when the *Transport is readable. Foreign transports are always ready.
type Scheduler struct {
	queue []task
}

func NewScheduler() *Scheduler {
	return new(Scheduler)
}

func (s *Scheduler) RunOnReadable(t httpconn.Transport, cont func()) {
	s.queue = append(s.queue, task{transport: t, cont: cont, dir: readable})
}

func (s *Scheduler) RunOnWritable(t httpconn.Transport, cont func()) {
	s.queue = append(s.queue, task{transport: t, cont: cont, dir: writable})
}

// Step runs the first ready continuation. Returns false if there was none.
func (s *Scheduler) Step() bool {
	for i, task := range s.queue {
		if !task.ready() {
			continue
		}

		s.queue = slices.Delete(s.queue, i, i+1)
		task.cont()

		return true
	}

	return false
}

// Run runs continuations until none is ready and returns how many ran.
func (s *Scheduler) Run() (ran int) {
	for s.Step() {
		ran++
	}

	return ran
}

// Pending returns the number of registrations which continuations didn't run yet.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

func (s *Scheduler) PendingReads() int {
	return s.count(readable)
}

func (s *Scheduler) PendingWrites() int {
	return s.count(writable)
}

func (s *Scheduler) count(dir direction) (n int) {
	for _, task := range s.queue {
		if task.dir == dir {
			n++
		}
	}

	return n
}

func (t task) ready() bool {
	if t.dir == writable {
		return true
	}

	if dummy, ok := t.transport.(*Transport); ok {
		return dummy.Readable()
	}

	return true
}
