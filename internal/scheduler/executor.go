package scheduler

import "sync"

// executor runs every submitted task on a single goroutine, in submission
// order. All scheduler state is owned by this goroutine; renderer, focus
// and timer callbacks never touch it directly, they submit tasks.
type executor struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []func()
	closed bool
	done   chan struct{}
}

func newExecutor() *executor {
	e := &executor{done: make(chan struct{})}
	e.cond = sync.NewCond(&e.mu)
	go e.loop()
	return e
}

func (e *executor) loop() {
	defer close(e.done)
	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.closed {
			e.cond.Wait()
		}
		if len(e.queue) == 0 {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()
		task()
	}
}

// submit enqueues a task and returns immediately. Returns false after
// shutdown began.
func (e *executor) submit(task func()) bool {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, task)
	e.mu.Unlock()
	e.cond.Signal()
	return true
}

// do enqueues a task and waits for it to finish. Returns false if the
// executor is already shut down, in which case the task never ran.
func (e *executor) do(task func()) bool {
	ran := make(chan struct{})
	if !e.submit(func() {
		defer close(ran)
		task()
	}) {
		return false
	}
	<-ran
	return true
}

// shutdown drains the queue, running every already-submitted task, then
// stops the worker. Idempotent.
func (e *executor) shutdown() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.cond.Broadcast()
	<-e.done
}
