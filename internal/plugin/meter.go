package plugin

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tanq16/danzod/internal/progress"
)

const (
	speedWindow    = 5 * time.Second
	reportInterval = 500 * time.Millisecond
)

type sample struct {
	at    time.Time
	bytes int64
}

// Meter is a Transfer that counts bytes as they are written. Plugins wrap
// their body readers with it (io.TeeReader) and get speed, ETA and the
// abort flag for free.
type Meter struct {
	mu         sync.Mutex
	total      int64
	done       int64
	samples    []sample
	lastReport time.Time
	lastPct    int
	abort      atomic.Bool
	tracker    *progress.Tracker
	now        func() time.Time
}

func NewMeter(tracker *progress.Tracker) *Meter {
	return &Meter{tracker: tracker, now: time.Now, lastPct: -1}
}

func (m *Meter) SetTotal(total int64) {
	m.mu.Lock()
	m.total = total
	m.mu.Unlock()
	m.report(true)
}

// SetDone sets the transferred byte count, e.g. the offset of a resumed part.
func (m *Meter) SetDone(done int64) {
	m.mu.Lock()
	m.done = done
	m.samples = append(m.samples[:0], sample{at: m.now(), bytes: done})
	m.mu.Unlock()
	m.report(true)
}

func (m *Meter) Add(n int64) {
	m.mu.Lock()
	m.done += n
	now := m.now()
	m.samples = append(m.samples, sample{at: now, bytes: m.done})
	cutoff := now.Add(-speedWindow)
	drop := 0
	for drop < len(m.samples)-1 && m.samples[drop].at.Before(cutoff) {
		drop++
	}
	m.samples = m.samples[drop:]
	m.mu.Unlock()
	m.report(false)
}

// Write counts p and fails once the transfer is aborted.
func (m *Meter) Write(p []byte) (int, error) {
	if m.Aborted() {
		return 0, ErrAborted
	}
	m.Add(int64(len(p)))
	return len(p), nil
}

func (m *Meter) Done() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Meter) Size() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Speed is bytes per second over the sample window.
func (m *Meter) Speed() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.samples) < 2 {
		return 0
	}
	first, last := m.samples[0], m.samples[len(m.samples)-1]
	elapsed := last.at.Sub(first.at).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return int64(float64(last.bytes-first.bytes) / elapsed)
}

func (m *Meter) BytesLeft() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.total <= 0 {
		return 0
	}
	return max(0, m.total-m.done)
}

// ETA is the estimated remaining seconds, 0 when unknown.
func (m *Meter) ETA() int64 {
	speed := m.Speed()
	left := m.BytesLeft()
	if speed <= 0 || left <= 0 {
		return 0
	}
	return left / speed
}

func (m *Meter) SetAbort(abort bool) {
	m.abort.Store(abort)
}

func (m *Meter) Aborted() bool {
	return m.abort.Load()
}

// report pushes progress to the tracker when the percentage moves or the
// report interval elapsed.
func (m *Meter) report(force bool) {
	if m.tracker == nil {
		return
	}
	m.mu.Lock()
	done, total := m.done, m.total
	now := m.now()
	pct := -1
	if total > 0 {
		pct = int(done * 100 / total)
	}
	if !force && pct == m.lastPct && now.Sub(m.lastReport) < reportInterval {
		m.mu.Unlock()
		return
	}
	m.lastPct = pct
	m.lastReport = now
	m.mu.Unlock()
	m.tracker.SetBytes(done, total)
}
