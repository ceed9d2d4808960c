/* SPDX-License-Identifier: MPL-2.0
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package callsetup

import "sync"

// dispatcher serializes work per call ID. Every inbound wire event and
// every local user action is enqueued as a job on the queue for its call
// ID; one goroutine per active queue drains it in FIFO order, so jobs for
// the same call never overlap while jobs for different calls run fully
// concurrently. Enqueueing never blocks, which keeps the transport's
// delivery path free.
type dispatcher struct {
	mu     sync.Mutex
	queues map[string]*jobQueue
	// idle is broadcast whenever a queue drains to empty; Wait uses it.
	idle *sync.Cond
}

type jobQueue struct {
	jobs    []func()
	running bool
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		queues: make(map[string]*jobQueue),
	}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// enqueue appends fn to the queue for callID, spawning a drain goroutine
// if the queue is not already running.
func (d *dispatcher) enqueue(callID string, fn func()) {
	d.mu.Lock()
	q := d.queues[callID]
	if q == nil {
		q = &jobQueue{}
		d.queues[callID] = q
	}
	q.jobs = append(q.jobs, fn)
	if q.running {
		d.mu.Unlock()
		return
	}
	q.running = true
	d.mu.Unlock()

	go d.drain(callID, q)
}

func (d *dispatcher) drain(callID string, q *jobQueue) {
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			q.running = false
			delete(d.queues, callID)
			d.idle.Broadcast()
			d.mu.Unlock()
			return
		}
		fn := q.jobs[0]
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		fn()
	}
}

// wait blocks until every queue has drained. Used by tests and by
// embedders that want a clean shutdown.
func (d *dispatcher) wait() {
	d.mu.Lock()
	for len(d.queues) > 0 {
		d.idle.Wait()
	}
	d.mu.Unlock()
}
