package progress

import "sync"

// Tracker holds the completion percentage of one file. Every mutation invokes
// the notify callback outside the tracker lock.
type Tracker struct {
	mu     sync.RWMutex
	value  int
	done   int64
	total  int64
	notify func()
}

func NewTracker(notify func()) *Tracker {
	return &Tracker{notify: notify}
}

func (t *Tracker) SetNotify(notify func()) {
	t.mu.Lock()
	t.notify = notify
	t.mu.Unlock()
}

// SetValue stores a clamped percentage and notifies.
func (t *Tracker) SetValue(value int) {
	t.set(value)
	t.fire()
}

// SetSilent stores a clamped percentage without notifying.
func (t *Tracker) SetSilent(value int) {
	t.set(value)
}

// SetBytes derives the percentage from transferred and total bytes. An
// unknown total leaves the percentage untouched.
func (t *Tracker) SetBytes(done, total int64) {
	t.mu.Lock()
	t.done = done
	t.total = total
	if total > 0 {
		t.value = clamp(int(done * 100 / total))
	}
	t.mu.Unlock()
	t.fire()
}

func (t *Tracker) Percent() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.value
}

func (t *Tracker) Bytes() (done, total int64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.done, t.total
}

func (t *Tracker) set(value int) {
	t.mu.Lock()
	t.value = clamp(value)
	t.mu.Unlock()
}

func (t *Tracker) fire() {
	t.mu.RLock()
	notify := t.notify
	t.mu.RUnlock()
	if notify != nil {
		notify()
	}
}

func clamp(value int) int {
	return max(0, min(value, 100))
}
