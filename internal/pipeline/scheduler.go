package pipeline

import (
	"sync"
	"time"
)

// SchedulerEventType identifies a scheduler message
type SchedulerEventType int

const (
	// SchedulerStarted is emitted once when the scheduler goroutine is up
	SchedulerStarted SchedulerEventType = iota
	// SchedulerTick is emitted every interval after the first RequestTick
	SchedulerTick
)

// SchedulerEvent is a message from the scheduler goroutine
type SchedulerEvent struct {
	Type SchedulerEventType
	Seq  uint64 // Tick counter, zero for SchedulerStarted
	At   time.Time
}

type schedulerCommand int

const (
	cmdRequestTick schedulerCommand = iota
)

// FrameScheduler emits periodic ticks from its own goroutine. It shares no
// state with its owner: commands go in over one channel, events come out over
// another.
type FrameScheduler struct {
	interval time.Duration
	commands chan schedulerCommand
	events   chan SchedulerEvent
	stopCh   chan struct{}
	done     chan struct{}

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewFrameScheduler creates a scheduler ticking at the given interval
func NewFrameScheduler(interval time.Duration) *FrameScheduler {
	if interval <= 0 {
		interval = DefaultOptions().TickInterval
	}
	return &FrameScheduler{
		interval: interval,
		commands: make(chan schedulerCommand, 1),
		events:   make(chan SchedulerEvent, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Events returns the event channel. It is closed after Stop once the
// scheduler goroutine has exited.
func (s *FrameScheduler) Events() <-chan SchedulerEvent {
	return s.events
}

// Start launches the scheduler goroutine. Subsequent calls are no-ops.
func (s *FrameScheduler) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

// RequestTick arms periodic ticking. Requests while already ticking are ignored.
func (s *FrameScheduler) RequestTick() {
	select {
	case s.commands <- cmdRequestTick:
	case <-s.stopCh:
	default:
		// a request is already pending
	}
}

// Stop terminates the scheduler and waits for its goroutine to exit
func (s *FrameScheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
	s.startOnce.Do(func() {
		// never started: nothing to wait for
		close(s.events)
		close(s.done)
	})
	<-s.done
}

func (s *FrameScheduler) run() {
	defer close(s.done)
	defer close(s.events)

	if !s.emit(SchedulerEvent{Type: SchedulerStarted, At: time.Now()}) {
		return
	}

	var (
		ticker *time.Ticker
		tickC  <-chan time.Time
		seq    uint64
	)
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
	}()

	for {
		select {
		case <-s.stopCh:
			return
		case cmd := <-s.commands:
			if cmd == cmdRequestTick && ticker == nil {
				ticker = time.NewTicker(s.interval)
				tickC = ticker.C
			}
		case now := <-tickC:
			seq++
			if !s.emit(SchedulerEvent{Type: SchedulerTick, Seq: seq, At: now}) {
				return
			}
		}
	}
}

// emit delivers an event unless the scheduler is stopping
func (s *FrameScheduler) emit(ev SchedulerEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.stopCh:
		return false
	}
}
