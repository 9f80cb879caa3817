package captcha

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Solver is a captcha backend. Each solver decides admission on its own;
// claims are additive, so several solvers may work on the same task.
type Solver interface {
	Name() string
	CanHandle(t *Task) bool
	// Claim must not block on the solver's external round trip.
	Claim(ctx context.Context, t *Task) bool
	Correct(ctx context.Context, t *Task) error
	Invalid(ctx context.Context, t *Task) error
}

type Coordinator struct {
	mu              sync.RWMutex
	solvers         []Solver
	tasks           map[string]*Task
	clientConnected func() bool
	defaultTimeout  time.Duration
}

func NewCoordinator(defaultTimeout time.Duration) *Coordinator {
	if defaultTimeout <= 0 {
		defaultTimeout = 60 * time.Second
	}
	return &Coordinator{
		tasks:          make(map[string]*Task),
		defaultTimeout: defaultTimeout,
	}
}

func (c *Coordinator) Register(s Solver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.solvers = append(c.solvers, s)
	log.Debug().Str("op", "captcha/coordinator").Msgf("Registered captcha solver %s", s.Name())
}

func (c *Coordinator) Solvers() []Solver {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Solver(nil), c.solvers...)
}

// SetClientCheck installs the check used to tell whether an interactive
// front-end is connected.
func (c *Coordinator) SetClientCheck(fn func() bool) {
	c.mu.Lock()
	c.clientConnected = fn
	c.mu.Unlock()
}

func (c *Coordinator) ClientConnected() bool {
	c.mu.RLock()
	fn := c.clientConnected
	c.mu.RUnlock()
	return fn != nil && fn()
}

// Offer presents the task to every registered solver and returns how many
// claimed it.
func (c *Coordinator) Offer(ctx context.Context, t *Task) int {
	t.setState(StateOffered)
	c.mu.Lock()
	c.tasks[t.ID] = t
	c.mu.Unlock()

	claimed := 0
	for _, s := range c.Solvers() {
		if !s.CanHandle(t) {
			continue
		}
		if s.Claim(ctx, t) {
			t.addHandler(s)
			claimed++
			log.Debug().Str("op", "captcha/coordinator").Str("task", t.ID).Msgf("Task claimed by %s", s.Name())
		}
	}
	if claimed == 0 {
		t.setState(StateUnclaimed)
		log.Info().Str("op", "captcha/coordinator").Int("file", t.FileID).Msg("No captcha solver available")
		return 0
	}
	if t.Deadline().IsZero() {
		t.SetWaiting(c.defaultTimeout)
	}
	return claimed
}

func (c *Coordinator) Get(id string) (*Task, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.tasks[id]
	return t, ok
}

// Pending lists tasks that still wait for an answer, oldest deadline first.
func (c *Coordinator) Pending() []*Task {
	c.mu.RLock()
	var out []*Task
	for _, t := range c.tasks {
		if t.IsWaiting() {
			out = append(out, t)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline().Before(out[j].Deadline()) })
	return out
}

// Answer sets the result of a task from an interactive client.
func (c *Coordinator) Answer(id, result string) error {
	t, ok := c.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if !t.SetResult(result) {
		return fmt.Errorf("captcha task %s already answered", id)
	}
	return nil
}

func (c *Coordinator) Remove(id string) {
	c.mu.Lock()
	delete(c.tasks, id)
	c.mu.Unlock()
}

// Interactive claims tasks whenever a front-end client is connected; the
// answer arrives through Coordinator.Answer.
type Interactive struct {
	coord   *Coordinator
	timeout time.Duration
}

func NewInteractive(coord *Coordinator, timeout time.Duration) *Interactive {
	return &Interactive{coord: coord, timeout: timeout}
}

func (i *Interactive) Name() string { return "interactive" }

func (i *Interactive) CanHandle(t *Task) bool {
	return i.coord.ClientConnected()
}

func (i *Interactive) Claim(ctx context.Context, t *Task) bool {
	t.SetWaiting(i.timeout)
	return true
}

func (i *Interactive) Correct(ctx context.Context, t *Task) error { return nil }

func (i *Interactive) Invalid(ctx context.Context, t *Task) error { return nil }
