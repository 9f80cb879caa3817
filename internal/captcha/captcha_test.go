package captcha

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSolver struct {
	name     string
	handle   bool
	claim    bool
	wait     time.Duration
	onClaim  func(t *Task)
	mu       sync.Mutex
	corrects int
	invalids int
}

func (f *fakeSolver) Name() string           { return f.name }
func (f *fakeSolver) CanHandle(t *Task) bool { return f.handle }

func (f *fakeSolver) Claim(ctx context.Context, t *Task) bool {
	if !f.claim {
		return false
	}
	if f.wait > 0 {
		t.SetWaiting(f.wait)
	}
	if f.onClaim != nil {
		f.onClaim(t)
	}
	return true
}

func (f *fakeSolver) Correct(ctx context.Context, t *Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.corrects++
	return nil
}

func (f *fakeSolver) Invalid(ctx context.Context, t *Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalids++
	return errors.New("backend unreachable")
}

func TestOfferWithoutSolversIsUnclaimed(t *testing.T) {
	c := NewCoordinator(time.Second)
	c.Register(&fakeSolver{name: "off", handle: false, claim: true})
	task := NewTask(1, []byte("img"), "")
	assert.Equal(t, "file", task.Format)

	assert.Equal(t, 0, c.Offer(context.Background(), task))
	assert.Equal(t, StateUnclaimed, task.State())

	_, err := task.Wait(context.Background())
	assert.ErrorIs(t, err, ErrUnclaimed)
}

func TestClaimsAreAdditive(t *testing.T) {
	c := NewCoordinator(time.Second)
	a := &fakeSolver{name: "a", handle: true, claim: true}
	b := &fakeSolver{name: "b", handle: true, claim: true}
	d := &fakeSolver{name: "declines", handle: true, claim: false}
	c.Register(a)
	c.Register(b)
	c.Register(d)

	task := NewTask(1, nil, "url-png")
	assert.Equal(t, 2, c.Offer(context.Background(), task))
	assert.Equal(t, StateClaimed, task.State())
	assert.Len(t, task.Handlers(), 2)
	assert.False(t, task.Deadline().IsZero())
}

func TestWaitReturnsResult(t *testing.T) {
	c := NewCoordinator(time.Second)
	c.Register(&fakeSolver{name: "a", handle: true, claim: true, wait: 5 * time.Second})
	task := NewTask(3, nil, "")
	c.Offer(context.Background(), task)

	go func() {
		time.Sleep(20 * time.Millisecond)
		assert.NoError(t, c.Answer(task.ID, "x7k2"))
	}()
	result, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x7k2", result)
	assert.Equal(t, StateAnswered, task.State())

	assert.Error(t, c.Answer(task.ID, "again"))
	got, _ := task.Result()
	assert.Equal(t, "x7k2", got)
}

func TestAnswerUnknownTask(t *testing.T) {
	c := NewCoordinator(time.Second)
	assert.ErrorIs(t, c.Answer("missing", "abc"), ErrTaskNotFound)
}

func TestAbandonedTaskTimesOut(t *testing.T) {
	c := NewCoordinator(time.Second)
	failing := &fakeSolver{name: "remote", handle: true, claim: true, wait: 50 * time.Millisecond,
		onClaim: func(t *Task) { t.SetError("upload failed") }}
	c.Register(failing)
	task := NewTask(4, []byte("img"), "")
	c.Offer(context.Background(), task)

	start := time.Now()
	_, err := task.Wait(context.Background())
	assert.ErrorIs(t, err, ErrCaptchaTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Equal(t, StateTimedOut, task.State())
	assert.Equal(t, "upload failed", task.Error())
	_, ok := task.Result()
	assert.False(t, ok)
	assert.Equal(t, 0, failing.corrects)
	assert.Equal(t, 0, failing.invalids)
}

func TestSetWaitingOnlyExtends(t *testing.T) {
	task := NewTask(1, nil, "")
	task.SetWaiting(time.Minute)
	first := task.Deadline()
	task.SetWaiting(time.Second)
	assert.Equal(t, first, task.Deadline())
	task.SetWaiting(2 * time.Minute)
	assert.True(t, task.Deadline().After(first))
}

func TestWaitHonorsContext(t *testing.T) {
	c := NewCoordinator(time.Second)
	c.Register(&fakeSolver{name: "a", handle: true, claim: true, wait: time.Minute})
	task := NewTask(1, nil, "")
	c.Offer(context.Background(), task)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := task.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestVerdictFansOutToHandlers(t *testing.T) {
	c := NewCoordinator(time.Second)
	a := &fakeSolver{name: "a", handle: true, claim: true}
	b := &fakeSolver{name: "b", handle: true, claim: true}
	c.Register(a)
	c.Register(b)
	task := NewTask(1, nil, "")
	c.Offer(context.Background(), task)

	task.Correct(context.Background())
	task.Invalid(context.Background())
	assert.Equal(t, 1, a.corrects)
	assert.Equal(t, 1, b.corrects)
	assert.Equal(t, 1, a.invalids)
	assert.Equal(t, 1, b.invalids)
}

func TestInteractiveClaimsWhenClientConnected(t *testing.T) {
	c := NewCoordinator(time.Second)
	connected := false
	c.SetClientCheck(func() bool { return connected })
	c.Register(NewInteractive(c, time.Minute))

	task := NewTask(1, nil, "")
	assert.Equal(t, 0, c.Offer(context.Background(), task))

	connected = true
	task = NewTask(2, nil, "")
	assert.Equal(t, 1, c.Offer(context.Background(), task))
	pending := c.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, task.ID, pending[0].ID)

	require.NoError(t, c.Answer(task.ID, "abcd"))
	assert.Empty(t, c.Pending())
	c.Remove(task.ID)
	_, ok := c.Get(task.ID)
	assert.False(t, ok)
}
