package progress

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTrackerClampsValue(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetValue(150)
	assert.Equal(t, 100, tr.Percent())
	tr.SetValue(-3)
	assert.Equal(t, 0, tr.Percent())
	tr.SetValue(42)
	assert.Equal(t, 42, tr.Percent())
}

func TestTrackerNotifiesOnEveryMutation(t *testing.T) {
	calls := 0
	tr := NewTracker(func() { calls++ })
	tr.SetValue(10)
	tr.SetValue(10)
	tr.SetBytes(50, 100)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 50, tr.Percent())

	tr.SetSilent(100)
	assert.Equal(t, 3, calls)
	assert.Equal(t, 100, tr.Percent())
}

func TestTrackerSetBytesUnknownTotal(t *testing.T) {
	tr := NewTracker(nil)
	tr.SetValue(30)
	tr.SetBytes(1024, 0)
	assert.Equal(t, 30, tr.Percent())
	done, total := tr.Bytes()
	assert.Equal(t, int64(1024), done)
	assert.Equal(t, int64(0), total)
}

func TestTrackerNotifyMayReadTracker(t *testing.T) {
	var tr *Tracker
	seen := 0
	tr = NewTracker(func() { seen = tr.Percent() })
	tr.SetValue(77)
	assert.Equal(t, 77, seen)
}

func TestTrackerConcurrentUse(t *testing.T) {
	tr := NewTracker(func() {})
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(v int) {
			defer wg.Done()
			tr.SetBytes(int64(v), 20)
			_ = tr.Percent()
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, tr.Percent(), 100)
}
