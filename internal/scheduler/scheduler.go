// Package scheduler runs a fixed pool of worker goroutines over a FIFO work
// list, standing in for the original's pthread pool (spec.md §4.8, grounded
// on src/scheduler.c/.h). Each CPU and device gets a Schedulable; workers
// pull from the shared list, a per-frame list feeds the next dispatch
// round, and a work item can chain a follow-up directly onto the worker
// that ran it without touching the shared list at all.
package scheduler

import (
	"container/list"
	"sync"
)

// Func is the timeslice body a Schedulable runs when popped off the work
// list (XrSchedulableF).
type Func func(s *Schedulable)

// StartTimesliceFunc prepares a Schedulable for the next frame's dt
// milliseconds before it is requeued (XrStartTimesliceF).
type StartTimesliceFunc func(s *Schedulable, dt int)

// Schedulable is one unit of recurring work (a CPU, the RTC ticker, ...),
// mirroring XrSchedulable. Next implements the single-owner "run this
// right after me, on the same worker" chain — it is only ever touched by
// the worker currently executing the item, so it needs no lock.
type Schedulable struct {
	Func           Func
	StartTimeslice StartTimesliceFunc
	Context        interface{}

	Next *Schedulable

	mu       sync.Mutex
	enqueued bool
	elem     *list.Element
}

// NewSchedulable builds a Schedulable with the given timeslice body and
// (optional) per-frame setup callback.
func NewSchedulable(fn Func, start StartTimesliceFunc, context interface{}) *Schedulable {
	return &Schedulable{Func: fn, StartTimeslice: start, Context: context}
}

// Scheduler owns the shared work list, the next-frame list, and the
// worker pool that drains them (XrSchedulerWorkList/NextFrameList plus the
// XrSchedulingThreadTable).
type Scheduler struct {
	workMu sync.Mutex
	work   *list.List

	frameMu sync.Mutex
	frame   *list.List

	sem chan struct{}

	threads []*thread

	stop chan struct{}
	wg   sync.WaitGroup
}

type thread struct {
	next *Schedulable
}

// New builds a scheduler with the given worker count; call Start to spin
// up the pool.
func New(threads int) *Scheduler {
	s := &Scheduler{
		work:    list.New(),
		frame:   list.New(),
		sem:     make(chan struct{}, 1<<20),
		threads: make([]*thread, threads),
		stop:    make(chan struct{}),
	}
	for i := range s.threads {
		s.threads[i] = &thread{}
	}
	return s
}

// Start launches one goroutine per worker thread (XrStartScheduler).
func (s *Scheduler) Start() {
	for i := range s.threads {
		s.wg.Add(1)
		go s.loop(s.threads[i])
	}
}

// Stop halts all worker goroutines; it does not drain pending work.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
}

// ScheduleForAny enqueues work on the shared FIFO list, waking exactly one
// idle worker (XrScheduleWorkForAny).
func (s *Scheduler) ScheduleForAny(w *Schedulable) {
	w.mu.Lock()
	if w.enqueued {
		w.mu.Unlock()
		return
	}
	w.enqueued = true
	w.mu.Unlock()

	s.workMu.Lock()
	w.elem = s.work.PushBack(w)
	s.workMu.Unlock()

	select {
	case s.sem <- struct{}{}:
	default:
	}
}

// ScheduleForNextFrame queues w for the next call to RunFrame instead of
// running it immediately (XrScheduleWorkForNextFrame); front requests
// head-of-line placement.
func (s *Scheduler) ScheduleForNextFrame(w *Schedulable, front bool) {
	w.mu.Lock()
	if w.enqueued {
		w.mu.Unlock()
		return
	}
	w.enqueued = true
	w.mu.Unlock()

	s.frameMu.Lock()
	if front {
		w.elem = s.frame.PushFront(w)
	} else {
		w.elem = s.frame.PushBack(w)
	}
	s.frameMu.Unlock()
}

// ScheduleForMe chains work directly after `after` on whichever worker
// runs `after`, bypassing the shared list entirely (XrScheduleWorkForMe).
// Only valid while `after` is itself executing.
func ScheduleForMe(after, w *Schedulable) {
	w.mu.Lock()
	if w.enqueued {
		w.mu.Unlock()
		return
	}
	w.enqueued = true
	w.mu.Unlock()

	w.Next = after.Next
	after.Next = w
}

// RunFrame moves every Schedulable queued for the next frame onto the
// shared work list, first invoking each one's StartTimeslice callback with
// the elapsed time in milliseconds (XrScheduleAllNextFrameWork).
func (s *Scheduler) RunFrame(dtMS int) {
	s.frameMu.Lock()
	pending := s.frame
	s.frame = list.New()
	s.frameMu.Unlock()

	for e := pending.Front(); e != nil; e = e.Next() {
		w := e.Value.(*Schedulable)
		if w.StartTimeslice != nil {
			w.StartTimeslice(w, dtMS)
		}
	}

	for e := pending.Front(); e != nil; e = e.Next() {
		w := e.Value.(*Schedulable)
		w.mu.Lock()
		w.enqueued = false
		w.mu.Unlock()
		s.ScheduleForAny(w)
	}
}

func (s *Scheduler) loop(t *thread) {
	defer s.wg.Done()
	for {
		work := s.pop(t)
		if work == nil {
			return
		}
		for work != nil {
			work.mu.Lock()
			work.enqueued = false
			work.mu.Unlock()

			work.Func(work)

			next := work.Next
			work.Next = nil
			work = next
		}
	}
}

func (s *Scheduler) pop(t *thread) *Schedulable {
	if t.next != nil {
		w := t.next
		t.next = nil
		return w
	}

	for {
		select {
		case <-s.stop:
			return nil
		case <-s.sem:
		}

		s.workMu.Lock()
		front := s.work.Front()
		if front == nil {
			s.workMu.Unlock()
			continue
		}
		s.work.Remove(front)
		s.workMu.Unlock()

		return front.Value.(*Schedulable)
	}
}
