package folderwatch

import (
	"sync"
	"time"
)

// taskKey identifies a pending ingestion task.
type taskKey struct {
	folderID string
	path     string
}

// debouncer delays per-file work until filesystem events settle. A new
// event for the same key resets the timer; removing a folder cancels
// every key it owns.
type debouncer struct {
	delay time.Duration

	mu      sync.Mutex
	pending map[taskKey]*time.Timer
	wg      sync.WaitGroup
	stopped bool
}

func newDebouncer(delay time.Duration) *debouncer {
	return &debouncer{
		delay:   delay,
		pending: make(map[taskKey]*time.Timer),
	}
}

// Schedule arms (or re-arms) the timer for key. fn runs in its own
// goroutine after the delay elapses without another Schedule call.
func (d *debouncer) Schedule(key taskKey, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}

	if old, exists := d.pending[key]; exists {
		if old.Stop() {
			d.wg.Done()
		}
	}

	d.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(d.delay, func() {
		defer d.wg.Done()
		if !d.claim(key, t) {
			return
		}
		fn()
	})
	d.pending[key] = t
}

// claim removes key from the pending map, reporting whether this timer
// still owns it. A fire that lost a re-arm or cancel race exits without
// running.
func (d *debouncer) claim(key taskKey, t *time.Timer) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	if current, exists := d.pending[key]; !exists || current != t {
		return false
	}
	delete(d.pending, key)
	return true
}

// CancelFolder drops all pending tasks belonging to a folder.
func (d *debouncer) CancelFolder(folderID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, t := range d.pending {
		if key.folderID == folderID {
			if t.Stop() {
				d.wg.Done()
			}
			delete(d.pending, key)
		}
	}
}

// PendingCount returns the number of armed tasks.
func (d *debouncer) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Stop cancels all pending tasks and waits for in-flight ones.
func (d *debouncer) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	for key, t := range d.pending {
		if t.Stop() {
			d.wg.Done()
		}
		delete(d.pending, key)
	}
	d.mu.Unlock()

	d.wg.Wait()
}
