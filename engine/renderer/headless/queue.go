package headless

import (
	"fmt"
	"sync"

	"github.com/spaghettifunk/framecore/engine/renderer/gpu"
)

type workKind uint8

const (
	workExecute workKind = iota
	workSignal
	workPresent
)

type work struct {
	kind     workKind
	list     *CommandList
	commands []Command
	fence    *Fence
	value    uint64
	present  *Resource
}

// Queue executes submitted work on its own goroutine in submission order.
type Queue struct {
	dev *Device
	typ gpu.CommandListType

	mu      sync.Mutex
	cond    *sync.Cond
	pending []work
	busy    bool
	paused  bool
	closed  bool
	done    chan struct{}
}

func newQueue(dev *Device, t gpu.CommandListType) *Queue {
	q := &Queue{
		dev:  dev,
		typ:  t,
		done: make(chan struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	go q.run()
	return q
}

func (q *Queue) Type() gpu.CommandListType {
	return q.typ
}

func (q *Queue) ExecuteCommandLists(lists ...gpu.CommandList) error {
	items := make([]work, 0, len(lists))
	for _, l := range lists {
		cl, ok := l.(*CommandList)
		if !ok {
			return fmt.Errorf("command list %T does not belong to the headless device", l)
		}
		if cl.open {
			return ErrListNotClosed
		}
		if cl.typ != q.typ {
			return fmt.Errorf("%s list submitted to a %s queue", cl.typ, q.typ)
		}
		items = append(items, work{
			kind:     workExecute,
			list:     cl,
			commands: append([]Command(nil), cl.commands...),
		})
	}
	for _, it := range items {
		it.list.alloc.pending.Add(1)
	}
	q.push(items...)
	q.dev.count(func(s *Stats) { s.Submissions += uint64(len(items)) })
	return nil
}

func (q *Queue) Signal(f gpu.Fence, value uint64) error {
	hf, ok := f.(*Fence)
	if !ok {
		return fmt.Errorf("fence %T does not belong to the headless device", f)
	}
	q.push(work{kind: workSignal, fence: hf, value: value})
	return nil
}

func (q *Queue) push(items ...work) {
	q.mu.Lock()
	q.pending = append(q.pending, items...)
	q.mu.Unlock()
	q.cond.Broadcast()
}

func (q *Queue) setPaused(p bool) {
	q.mu.Lock()
	q.paused = p
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Pending is the number of work items not yet executed.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) waitIdle() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for (len(q.pending) > 0 || q.busy) && !q.closed {
		q.cond.Wait()
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for !q.closed && (len(q.pending) == 0 || q.paused) {
			q.cond.Wait()
		}
		if q.closed {
			q.mu.Unlock()
			return
		}
		item := q.pending[0]
		q.pending = q.pending[1:]
		q.busy = true
		q.mu.Unlock()

		q.execute(item)

		q.mu.Lock()
		q.busy = false
		q.mu.Unlock()
		q.cond.Broadcast()
	}
}

func (q *Queue) execute(item work) {
	switch item.kind {
	case workExecute:
		for _, c := range item.commands {
			q.dev.executeCommand(c)
		}
		item.list.alloc.pending.Add(-1)
	case workSignal:
		_ = item.fence.Signal(item.value)
		q.dev.count(func(s *Stats) { s.Signals++ })
	case workPresent:
		if st := q.dev.gpuState(item.present); st != gpu.ResourceStatePresent {
			q.dev.report("Present: back buffer %s is in state %s, expected %s", item.present.Name(), st, gpu.ResourceStatePresent)
		}
		q.dev.count(func(s *Stats) { s.Presents++ })
	}
}

// Release stops the timeline. Pending work is discarded.
func (q *Queue) Release() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
	<-q.done
	return nil
}
