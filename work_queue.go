package xdpbind

import (
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/slackhq/xdpbind/numa"
)

type workItem struct {
	binding   *Binding
	routine   func()
	idealNode numa.Node

	// done, when set, is closed once the item's reference has been released
	done chan struct{}
}

// workQueue runs the items of one binding strictly in submission order on a single worker goroutine.
// The worker only exists while there is work, shutdown stops new submissions without waiting.
type workQueue struct {
	mu       sync.Mutex
	items    []*workItem
	running  bool
	shutdown bool

	affinity bool
	l        *logrus.Logger
}

func newWorkQueue(l *logrus.Logger, affinity bool) *workQueue {
	return &workQueue{l: l, affinity: affinity}
}

// insert never blocks. Inserting after shutdown is a programming error.
func (q *workQueue) insert(item *workItem) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.shutdown {
		panic("xdpbind: work item queued after shutdown")
	}

	q.items = append(q.items, item)
	if !q.running {
		q.running = true
		go q.run()
	}
}

func (q *workQueue) run() {
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		item := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		q.execute(item)
	}
}

func (q *workQueue) execute(item *workItem) {
	if q.affinity {
		runtime.LockOSThread()
		restore, err := numa.Pin(item.idealNode)
		if err != nil && q.l.Level >= logrus.DebugLevel {
			q.l.WithError(err).WithField("node", item.idealNode).Debug("Failed to switch work item locality")
		}
		defer func() {
			restore()
			runtime.UnlockOSThread()
		}()
	}

	item.routine()

	// May drop the final reference and shut this queue down under us, that is fine.
	item.binding.Dereference()

	if item.done != nil {
		close(item.done)
	}
}

// stop requests shutdown. The item currently executing, if any, keeps running.
func (q *workQueue) stop() {
	q.mu.Lock()
	q.shutdown = true
	q.mu.Unlock()
}

// Submit queues fn on the binding's work queue and returns immediately. The binding is kept alive until fn returns.
// It is safe to call from latency sensitive paths.
func (b *Binding) Submit(fn func()) {
	b.queueWorkItem(&workItem{routine: fn})
}

// Run queues fn and waits for it to finish. It must not be called from a work item of the same binding.
func (b *Binding) Run(fn func()) {
	done := make(chan struct{})
	b.queueWorkItem(&workItem{routine: fn, done: done})
	<-done
}

func (b *Binding) queueWorkItem(item *workItem) {
	b.Reference()
	item.binding = b
	if b.queue.affinity {
		item.idealNode = numa.CurrentNode()
	}
	b.queue.insert(item)
}
