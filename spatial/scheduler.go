package spatial

import (
	"github.com/aukilabs/go-tooling/pkg/logs"
)

// DefaultConcurrency is the number of deferred builds allowed in flight.
const DefaultConcurrency = 1

// Scheduler defers node materialization to later ticks, throttled to a fixed
// number of builds in flight.
//
// Nothing runs on its own: builds are queued as tasks and executed by Tick,
// which the owner calls once per frame, so a build never interleaves with a
// visibility walk.
type Scheduler struct {
	name     string
	limit    int
	inFlight int
	backlog  []*QuadNode
	tasks    []func()
}

func newScheduler(name string, limit int) *Scheduler {
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	return &Scheduler{
		name:  name,
		limit: limit,
	}
}

// InFlight returns the number of builds scheduled and not finished yet.
func (s *Scheduler) InFlight() int {
	return s.inFlight
}

// Pending returns the number of nodes waiting in the backlog.
func (s *Scheduler) Pending() int {
	return len(s.backlog)
}

// Tick runs the builds scheduled before the call and returns how many ran.
// Builds scheduled while ticking wait for the next tick.
func (s *Scheduler) Tick() int {
	tasks := s.tasks
	s.tasks = nil

	for _, t := range tasks {
		t()
	}
	return len(tasks)
}

func (s *Scheduler) enqueue(n *QuadNode) {
	if n.inQueue {
		return
	}
	n.inQueue = true

	if s.inFlight < s.limit {
		s.executeOne(n)
	} else {
		s.backlog = append(s.backlog, n)
	}
	instrumentSchedulerState(s)
}

func (s *Scheduler) executeOne(n *QuadNode) {
	s.inFlight++
	s.tasks = append(s.tasks, func() {
		n.applyCollection()
		s.inFlight--
		s.dequeue()
		instrumentSchedulerState(s)
	})
}

// dequeue starts the most recently queued node that is still visible. Nodes
// that left the screen are dropped; they get materialized on demand by the
// visibility walk if they come back.
func (s *Scheduler) dequeue() {
	for len(s.backlog) != 0 {
		last := len(s.backlog) - 1
		n := s.backlog[last]
		s.backlog[last] = nil
		s.backlog = s.backlog[:last]

		if !n.inQueue {
			continue
		}

		if n.split || !n.visible() {
			n.inQueue = false
			instrumentSchedulerSkip(s.name)
			logs.WithTag("index", s.name).
				WithTag("tree", n.tree.String()).
				WithTag("node", n.key.String()).
				Debug("deferred build skipped")
			continue
		}

		s.executeOne(n)
		return
	}
}

func (s *Scheduler) reset() {
	for _, n := range s.backlog {
		n.inQueue = false
	}
	s.backlog = nil
	s.tasks = nil
	s.inFlight = 0
	instrumentSchedulerState(s)
}
