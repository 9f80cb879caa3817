package captcha

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrCaptchaTimeout = errors.New("captcha wait deadline elapsed")
	ErrUnclaimed      = errors.New("no captcha solver claimed the task")
	ErrTaskNotFound   = errors.New("captcha task not found")
)

type State string

const (
	StateCreated   State = "created"
	StateOffered   State = "offered"
	StateClaimed   State = "claimed"
	StateSubmitted State = "submitted"
	StateAnswered  State = "answered"
	StateTimedOut  State = "timed-out"
	StateUnclaimed State = "unclaimed"
)

// Task is one challenge a download is blocked on.
type Task struct {
	ID     string
	FileID int
	File   []byte
	Format string

	mu       sync.Mutex
	handlers []Solver
	data     map[string]string
	result   string
	answered bool
	err      string
	state    State
	deadline time.Time
	done     chan struct{}
	now      func() time.Time
}

func NewTask(fileID int, artifact []byte, format string) *Task {
	if format == "" {
		format = "file"
	}
	return &Task{
		ID:     uuid.NewString(),
		FileID: fileID,
		File:   artifact,
		Format: format,
		data:   make(map[string]string),
		state:  StateCreated,
		done:   make(chan struct{}),
		now:    time.Now,
	}
}

func (t *Task) addHandler(s Solver) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !slices.Contains(t.handlers, s) {
		t.handlers = append(t.handlers, s)
	}
	if t.state == StateOffered {
		t.state = StateClaimed
	}
}

func (t *Task) Handlers() []Solver {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Clone(t.handlers)
}

func (t *Task) SetData(key, value string) {
	t.mu.Lock()
	t.data[key] = value
	t.mu.Unlock()
}

func (t *Task) Data(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.data[key]
	return v, ok
}

// SetWaiting extends the wait deadline to now+d; it never shortens it.
func (t *Task) SetWaiting(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deadline := t.now().Add(d)
	if deadline.After(t.deadline) {
		t.deadline = deadline
	}
}

func (t *Task) Deadline() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline
}

// IsWaiting reports whether the task is unanswered and within its deadline.
func (t *Task) IsWaiting() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.answered && t.now().Before(t.deadline)
}

func (t *Task) MarkSubmitted() {
	t.mu.Lock()
	if !t.answered {
		t.state = StateSubmitted
	}
	t.mu.Unlock()
}

// SetResult stores the first answer and wakes the waiting download.
func (t *Task) SetResult(result string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.answered {
		return false
	}
	t.result = result
	t.answered = true
	t.state = StateAnswered
	close(t.done)
	return true
}

func (t *Task) Result() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result, t.answered
}

func (t *Task) SetError(msg string) {
	t.mu.Lock()
	t.err = msg
	t.mu.Unlock()
}

func (t *Task) Error() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// Wait blocks until a result is set or the deadline passes. Solvers may push
// the deadline out while the download waits.
func (t *Task) Wait(ctx context.Context) (string, error) {
	if len(t.Handlers()) == 0 {
		t.setState(StateUnclaimed)
		return "", ErrUnclaimed
	}
	for {
		remaining := time.Until(t.Deadline())
		if remaining <= 0 {
			if result, ok := t.Result(); ok {
				return result, nil
			}
			t.setState(StateTimedOut)
			return "", ErrCaptchaTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-t.done:
			timer.Stop()
			result, _ := t.Result()
			return result, nil
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
	}
}

// Correct reports an accepted answer to every solver that handled the task.
func (t *Task) Correct(ctx context.Context) {
	for _, h := range t.Handlers() {
		if err := h.Correct(ctx, t); err != nil {
			log.Warn().Str("op", "captcha/task").Str("solver", h.Name()).Err(err).Msg("Failed to report correct captcha")
		}
	}
}

// Invalid reports a rejected answer to every solver that handled the task.
func (t *Task) Invalid(ctx context.Context) {
	for _, h := range t.Handlers() {
		if err := h.Invalid(ctx, t); err != nil {
			log.Warn().Str("op", "captcha/task").Str("solver", h.Name()).Err(err).Msg("Failed to report invalid captcha")
		}
	}
}
