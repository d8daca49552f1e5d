package page

import (
	"container/heap"
	"context"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

// task is a queued callback. Page time is virtual: it only moves forward when
// Drain picks the next due task.
type task struct {
	id       int64
	due      time.Duration
	seq      uint64
	interval time.Duration
	repeat   bool
	name     string
	run      func() error
	index    int
}

type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].due != q[j].due {
		return q[i].due < q[j].due
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

// schedule queues run after delay and returns the task id.
func (p *Page) schedule(name string, delay time.Duration, repeat bool, run func() error) int64 {
	if delay < 0 {
		delay = 0
	}
	p.nextID++
	t := &task{
		id:       p.nextID,
		due:      p.now + delay,
		seq:      p.nextSeq(),
		interval: delay,
		repeat:   repeat,
		name:     name,
		run:      run,
	}
	heap.Push(&p.tasks, t)
	p.timers[t.id] = t
	return t.id
}

func (p *Page) cancel(id int64) {
	t, ok := p.timers[id]
	if !ok {
		return
	}
	delete(p.timers, id)
	if t.index >= 0 {
		heap.Remove(&p.tasks, t.index)
	}
}

func (p *Page) setupTimers(global *goja.Object) error {
	add := func(repeat bool) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			callback := call.Argument(0)
			delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
			var extra []goja.Value
			if len(call.Arguments) > 2 {
				extra = append(extra, call.Arguments[2:]...)
			}

			name := "setTimeout"
			if repeat {
				name = "setInterval"
			}
			var run func() error
			if fn, ok := goja.AssertFunction(callback); ok {
				run = func() error {
					_, err := fn(goja.Undefined(), extra...)
					return err
				}
			} else {
				src := callback.String()
				run = func() error {
					_, err := p.vm.RunString(src)
					return err
				}
			}
			return p.vm.ToValue(p.schedule(name, delay, repeat, run))
		}
	}
	clearTimer := func(call goja.FunctionCall) goja.Value {
		p.cancel(call.Argument(0).ToInteger())
		return goja.Undefined()
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    add(false),
		"setInterval":   add(true),
		"clearTimeout":  clearTimer,
		"clearInterval": clearTimer,
	} {
		if err := global.Set(name, fn); err != nil {
			return fmt.Errorf("failed to install %s: %w", name, err)
		}
	}
	return nil
}

// Pending returns the number of queued tasks.
func (p *Page) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tasks.Len()
}

// Now returns the page's virtual clock.
func (p *Page) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Drain runs queued timer and fetch tasks in due order until the queue is
// empty. It returns the number of tasks run. It stops with ErrTaskBudget when
// the task budget is spent first, and with ctx.Err() when ctx is done. Fetch
// tasks use ctx for their requests.
func (p *Page) Drain(ctx context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0, ErrClosed
	}

	p.ctx = ctx
	defer func() { p.ctx = context.Background() }()

	ran := 0
	for p.tasks.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		if p.budget > 0 && ran >= p.budget {
			return ran, fmt.Errorf("%w after %d tasks", ErrTaskBudget, ran)
		}

		t := heap.Pop(&p.tasks).(*task)
		if t.due > p.now {
			p.now = t.due
		}
		if t.repeat {
			t.seq = p.nextSeq()
			t.due = p.now + max(t.interval, time.Millisecond)
			heap.Push(&p.tasks, t)
		} else {
			delete(p.timers, t.id)
		}

		if err := p.guard(t.run); err != nil {
			p.confine(t.name, err)
		} else {
			p.metrics.RecordPageScript(false)
		}
		ran++
	}
	return ran, nil
}

func (p *Page) nextSeq() uint64 {
	p.seq++
	return p.seq
}
