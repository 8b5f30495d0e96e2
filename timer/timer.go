// timer/timer.go
package timer

import (
	"container/heap"
	"sync"
	"time"
)

// TimerTask is one scheduled callback. Tasks are keyed so scheduling the
// same key again replaces the pending task.
type TimerTask struct {
	Key      string
	Execute  time.Time
	Callback func()
	index    int
}

type TimerQueue []*TimerTask

func (q TimerQueue) Len() int { return len(q) }

func (q TimerQueue) Less(i, j int) bool {
	return q[i].Execute.Before(q[j].Execute)
}

func (q TimerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *TimerQueue) Push(x interface{}) {
	n := len(*q)
	task := x.(*TimerTask)
	task.index = n
	*q = append(*q, task)
}

func (q *TimerQueue) Pop() interface{} {
	old := *q
	n := len(old)
	task := old[n-1]
	task.index = -1
	*q = old[0 : n-1]
	return task
}

type TimerManager struct {
	queue      TimerQueue
	byKey      map[string]*TimerTask
	mutex      sync.Mutex
	resolution time.Duration
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

// NewTimerManager starts a manager that checks for due tasks every resolution.
func NewTimerManager(resolution time.Duration) *TimerManager {
	if resolution <= 0 {
		resolution = 100 * time.Millisecond
	}
	manager := &TimerManager{
		queue:      make(TimerQueue, 0),
		byKey:      make(map[string]*TimerTask),
		resolution: resolution,
		stopCh:     make(chan struct{}),
	}
	heap.Init(&manager.queue)
	manager.wg.Add(1)
	go manager.process()
	return manager
}

// Schedule arms key to run callback at the given instant, replacing any
// pending task for key.
func (m *TimerManager) Schedule(key string, at time.Time, callback func()) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if old, ok := m.byKey[key]; ok {
		heap.Remove(&m.queue, old.index)
	}
	task := &TimerTask{
		Key:      key,
		Execute:  at,
		Callback: callback,
	}
	heap.Push(&m.queue, task)
	m.byKey[key] = task
}

// Cancel removes the pending task for key. It reports whether one was pending.
func (m *TimerManager) Cancel(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	task, ok := m.byKey[key]
	if !ok {
		return false
	}
	heap.Remove(&m.queue, task.index)
	delete(m.byKey, key)
	return true
}

// Pending reports whether key has a scheduled task.
func (m *TimerManager) Pending(key string) bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.byKey[key]
	return ok
}

func (m *TimerManager) Len() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.queue.Len()
}

// Fire pops every task due at now and runs its callback on the calling
// goroutine. Callbacks run after the manager lock is released.
func (m *TimerManager) Fire(now time.Time) int {
	due := m.popDue(now)
	for _, task := range due {
		task.Callback()
	}
	return len(due)
}

func (m *TimerManager) popDue(now time.Time) []*TimerTask {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	var due []*TimerTask
	for m.queue.Len() > 0 {
		task := m.queue[0]
		if task.Execute.After(now) {
			break
		}
		heap.Pop(&m.queue)
		delete(m.byKey, task.Key)
		due = append(due, task)
	}
	return due
}

func (m *TimerManager) process() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, task := range m.popDue(time.Now()) {
				go task.Callback()
			}
		case <-m.stopCh:
			return
		}
	}
}

// Stop halts the background loop. Pending tasks are discarded.
func (m *TimerManager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()
}
