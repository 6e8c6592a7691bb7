// Package reactor provides the due-time scheduler that drives the
// meter's polling loop. Periodic work (report ticks, auto-reset checks,
// button settle windows) registers a timer whose callback returns its
// own next wake time; the dispatch loop sleeps exactly until the
// earliest due timer or an async request arrives.
package reactor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// Timer wake time sentinels, in seconds on the reactor clock.
const (
	NOW   = 0.0
	NEVER = 9999999999999999.0
)

// Common errors
var (
	ErrReactorClosed = errors.New("reactor: reactor closed")
)

// TimerCallback is called when a timer fires. It receives the event
// time and returns the next wake time; return NEVER to go dormant.
type TimerCallback func(eventtime float64) float64

// Timer is a registered timer.
type Timer struct {
	mu       sync.Mutex
	id       uint64
	callback TimerCallback
	waketime float64
	running  bool
}

// Waketime returns the timer's current wake time.
func (t *Timer) Waketime() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.waketime
}

// Completion is an async operation that completes with a result.
type Completion struct {
	reactor *Reactor
	result  interface{}
	done    chan struct{}
	once    sync.Once
}

// Test reports whether the completion already has a result.
func (c *Completion) Test() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Complete sets the result and wakes any waiters. Only the first call
// takes effect.
func (c *Completion) Complete(result interface{}) {
	c.once.Do(func() {
		c.result = result
		close(c.done)
	})
}

// Wait blocks until the completion is done or the timeout expires,
// returning the result or timeoutResult respectively.
func (c *Completion) Wait(timeout time.Duration, timeoutResult interface{}) interface{} {
	select {
	case <-c.done:
		return c.result
	case <-time.After(timeout):
		return timeoutResult
	case <-c.reactor.ctx.Done():
		return timeoutResult
	}
}

// WaitUntil blocks until the completion is done or waketime is reached.
func (c *Completion) WaitUntil(waketime float64, waketimeResult interface{}) interface{} {
	if waketime >= NEVER {
		select {
		case <-c.done:
			return c.result
		case <-c.reactor.ctx.Done():
			return waketimeResult
		}
	}

	now := c.reactor.Monotonic()
	if waketime <= now {
		select {
		case <-c.done:
			return c.result
		default:
			return waketimeResult
		}
	}

	return c.Wait(time.Duration((waketime-now)*float64(time.Second)), waketimeResult)
}

// Reactor manages timers and async callbacks on one dispatch goroutine.
type Reactor struct {
	mu          sync.Mutex
	timers      map[uint64]*Timer
	nextTimerID uint64

	// Async callback queue plus a wake signal so an enqueue or an
	// earlier timer interrupts the current sleep.
	asyncQueue chan func()
	kick       chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	running   atomic.Bool
	wg        sync.WaitGroup
	startTime time.Time
}

// New creates a new Reactor.
func New() *Reactor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Reactor{
		timers:     make(map[uint64]*Timer),
		asyncQueue: make(chan func(), 1000),
		kick:       make(chan struct{}, 1),
		ctx:        ctx,
		cancel:     cancel,
		startTime:  time.Now(),
	}
}

// Monotonic returns the reactor clock in seconds.
func (r *Reactor) Monotonic() float64 {
	return time.Since(r.startTime).Seconds()
}

// RegisterTimer registers a timer that first fires at waketime.
func (r *Reactor) RegisterTimer(callback TimerCallback, waketime float64) *Timer {
	timer := &Timer{
		callback: callback,
		waketime: waketime,
	}

	r.mu.Lock()
	r.nextTimerID++
	timer.id = r.nextTimerID
	r.timers[timer.id] = timer
	r.mu.Unlock()

	r.wakeLoop()
	return timer
}

// UnregisterTimer removes a timer. A callback currently running is not
// interrupted; the timer simply never fires again.
func (r *Reactor) UnregisterTimer(timer *Timer) {
	timer.mu.Lock()
	timer.waketime = NEVER
	timer.mu.Unlock()

	r.mu.Lock()
	delete(r.timers, timer.id)
	r.mu.Unlock()
}

// UpdateTimer moves a timer's wake time. Ignored while the timer's
// callback is running; the callback's return value wins.
func (r *Reactor) UpdateTimer(timer *Timer, waketime float64) {
	timer.mu.Lock()
	if timer.running {
		timer.mu.Unlock()
		return
	}
	timer.waketime = waketime
	timer.mu.Unlock()

	r.wakeLoop()
}

// Completion creates a new Completion bound to this reactor.
func (r *Reactor) Completion() *Completion {
	return &Completion{
		reactor: r,
		done:    make(chan struct{}),
	}
}

// RegisterCallback schedules a one-shot callback at waketime and
// returns a Completion carrying its result.
func (r *Reactor) RegisterCallback(callback func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()

	r.RegisterTimer(func(eventtime float64) float64 {
		completion.Complete(callback(eventtime))
		return NEVER
	}, waketime)

	return completion
}

// RegisterAsyncCallback schedules a callback from another goroutine.
// The callback runs on the dispatch goroutine, serialized with all
// timers. If the queue is full the returned Completion carries nil.
func (r *Reactor) RegisterAsyncCallback(callback func(eventtime float64) interface{}, waketime float64) *Completion {
	completion := r.Completion()

	fn := func() {
		r.RegisterTimer(func(eventtime float64) float64 {
			completion.Complete(callback(eventtime))
			return NEVER
		}, waketime)
	}

	select {
	case r.asyncQueue <- fn:
		r.wakeLoop()
	case <-r.ctx.Done():
		completion.Complete(nil)
	default:
		completion.Complete(nil)
	}

	return completion
}

// AsyncComplete completes a Completion from another goroutine.
func (r *Reactor) AsyncComplete(completion *Completion, result interface{}) {
	select {
	case r.asyncQueue <- func() {
		completion.Complete(result)
	}:
		r.wakeLoop()
	default:
		completion.Complete(result)
	}
}

// Pause sleeps until waketime on the reactor clock and returns the
// time it woke at. Returns early on reactor shutdown.
func (r *Reactor) Pause(waketime float64) float64 {
	now := r.Monotonic()
	if waketime <= now {
		return now
	}

	if waketime >= NEVER {
		<-r.ctx.Done()
		return r.Monotonic()
	}

	select {
	case <-time.After(time.Duration((waketime - now) * float64(time.Second))):
	case <-r.ctx.Done():
	}
	return r.Monotonic()
}

// Run starts the dispatch loop.
func (r *Reactor) Run() {
	if r.running.Swap(true) {
		return
	}

	r.wg.Add(1)
	go r.dispatchLoop()
}

// End signals the reactor to stop.
func (r *Reactor) End() {
	r.running.Store(false)
	r.cancel()
}

// Wait blocks until the dispatch loop has exited.
func (r *Reactor) Wait() {
	r.wg.Wait()
}

// wakeLoop interrupts the dispatch loop's current sleep.
func (r *Reactor) wakeLoop() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

func (r *Reactor) dispatchLoop() {
	defer r.wg.Done()

	for r.running.Load() {
		r.runAsyncCallbacks()

		next := r.fireDueTimers(r.Monotonic())

		now := r.Monotonic()
		if next <= now {
			continue
		}

		if next >= NEVER {
			select {
			case <-r.kick:
			case <-r.ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Duration((next - now) * float64(time.Second))):
		case <-r.kick:
		case <-r.ctx.Done():
			return
		}
	}
}

// runAsyncCallbacks drains the async queue.
func (r *Reactor) runAsyncCallbacks() {
	for {
		select {
		case fn := <-r.asyncQueue:
			fn()
		default:
			return
		}
	}
}

// fireDueTimers runs every timer due at eventtime and returns the
// earliest wake time among the registered timers.
func (r *Reactor) fireDueTimers(eventtime float64) float64 {
	r.mu.Lock()
	due := make([]*Timer, 0, len(r.timers))
	for _, t := range r.timers {
		if t.Waketime() <= eventtime {
			due = append(due, t)
		}
	}
	r.mu.Unlock()

	for _, timer := range due {
		timer.mu.Lock()
		if timer.waketime > eventtime {
			// Moved by UpdateTimer since the scan
			timer.mu.Unlock()
			continue
		}
		timer.waketime = NEVER
		timer.running = true
		timer.mu.Unlock()

		next := timer.callback(eventtime)

		timer.mu.Lock()
		timer.running = false
		if next < timer.waketime {
			timer.waketime = next
		}
		timer.mu.Unlock()
	}

	next := NEVER
	r.mu.Lock()
	for _, t := range r.timers {
		if w := t.Waketime(); w < next {
			next = w
		}
	}
	r.mu.Unlock()
	return next
}
