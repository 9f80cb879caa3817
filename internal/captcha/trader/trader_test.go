package trader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanq16/danzod/internal/captcha"
	"github.com/tanq16/danzod/internal/utils"
)

type backend struct {
	mu        sync.Mutex
	credits   string
	submit    string
	responses []string
	submits   int
	upload    []byte
	format    string
}

func (b *backend) server(t *testing.T) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/credits/", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		fmt.Fprint(w, b.credits)
	})
	mux.HandleFunc("/submit", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		f, _, err := r.FormFile("value")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(f)
		b.mu.Lock()
		b.upload = data
		b.submits++
		b.format = r.FormValue("type")
		reply := b.submit
		b.mu.Unlock()
		fmt.Fprint(w, reply)
	})
	mux.HandleFunc("/respond", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		b.mu.Lock()
		b.responses = append(b.responses, r.FormValue("ticket")+"="+r.FormValue("is_correct"))
		b.mu.Unlock()
		fmt.Fprint(w, `[0, "ok"]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func (b *backend) setCredits(reply string) {
	b.mu.Lock()
	b.credits = reply
	b.mu.Unlock()
}

func (b *backend) got() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.responses...)
}

func newClient(srv *httptest.Server, apiKey string) *Client {
	return NewClient(Config{
		Username:          "user",
		Passkey:           "pass",
		APIKey:            apiKey,
		SubmitURL:         srv.URL + "/submit",
		RespondURL:        srv.URL + "/respond",
		CreditsURL:        srv.URL + "/credits/%s/%s/",
		RequestsPerSecond: 1000,
	}, utils.HTTPClientConfig{})
}

type presence bool

func (p presence) ClientConnected() bool { return bool(p) }

func TestClientCredits(t *testing.T) {
	b := &backend{credits: `[0, 25]`}
	c := newClient(b.server(t), "key")
	credits, err := c.Credits(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 25, credits)

	b.setCredits(`[-1, "invalid user"]`)
	_, err = c.Credits(context.Background())
	var backendErr *Error
	require.True(t, errors.As(err, &backendErr))
	assert.Equal(t, "invalid user", backendErr.Code)
}

func TestClientSubmit(t *testing.T) {
	b := &backend{submit: `[1234, "x7k2"]`}
	c := newClient(b.server(t), "key")
	ticket, result, err := c.Submit(context.Background(), []byte("png-bytes"), "file")
	require.NoError(t, err)
	assert.Equal(t, "1234", ticket)
	assert.Equal(t, "x7k2", result)
	b.mu.Lock()
	assert.Equal(t, []byte("png-bytes"), b.upload)
	assert.Equal(t, "file", b.format)
	b.mu.Unlock()

	_, _, err = c.Submit(context.Background(), nil, "gif")
	assert.Error(t, err)
}

func TestClientSubmitWithoutAPIKey(t *testing.T) {
	b := &backend{}
	c := newClient(b.server(t), "")
	_, _, err := c.Submit(context.Background(), nil, "file")
	var backendErr *Error
	assert.True(t, errors.As(err, &backendErr))
}

func TestClientMalformedResponse(t *testing.T) {
	b := &backend{credits: `oops`}
	c := newClient(b.server(t), "key")
	_, err := c.Credits(context.Background())
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "malformed"))
}

func TestSolverAdmission(t *testing.T) {
	b := &backend{credits: `[0, 50]`}
	srv := b.server(t)

	noCreds := NewSolver(NewClient(Config{}, utils.HTTPClientConfig{}), presence(false), false)
	assert.False(t, noCreds.CanHandle(captcha.NewTask(1, nil, "")))

	busy := NewSolver(newClient(srv, "key"), presence(true), false)
	assert.False(t, busy.CanHandle(captcha.NewTask(1, nil, "")))

	forced := NewSolver(newClient(srv, "key"), presence(true), true)
	assert.True(t, forced.CanHandle(captcha.NewTask(1, nil, "")))

	idle := NewSolver(newClient(srv, "key"), presence(false), false)
	assert.True(t, idle.CanHandle(captcha.NewTask(1, nil, "")))

}

func TestSolverLowCreditsFailTaskWithoutSubmit(t *testing.T) {
	b := &backend{credits: `[0, 10]`, submit: `[77, "abcd"]`}
	s := NewSolver(newClient(b.server(t), "key"), presence(false), false)

	task := captcha.NewTask(1, []byte("img"), "")
	require.True(t, s.Claim(context.Background(), task))
	assert.Eventually(t, func() bool { return task.Error() != "" }, time.Second, 5*time.Millisecond)
	assert.Contains(t, task.Error(), "not enough captcha credits")
	b.mu.Lock()
	assert.Zero(t, b.submits)
	b.mu.Unlock()
}

func TestSolverRoundTrip(t *testing.T) {
	b := &backend{credits: `[0, 50]`, submit: `[77, "abcd"]`}
	coord := captcha.NewCoordinator(time.Second)
	coord.Register(NewSolver(newClient(b.server(t), "key"), coord, false))

	task := captcha.NewTask(5, []byte("img"), "")
	require.Equal(t, 1, coord.Offer(context.Background(), task))
	result, err := task.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcd", result)
	ticket, ok := task.Data("ticket")
	require.True(t, ok)
	assert.Equal(t, "77", ticket)

	task.Correct(context.Background())
	task.Invalid(context.Background())
	assert.Equal(t, []string{"77=1", "77=1"}, b.got())
}

func TestSolverSubmitFailureLeavesNoTicket(t *testing.T) {
	b := &backend{credits: `[0, 50]`, submit: `[-3, "no workers"]`}
	client := newClient(b.server(t), "key")
	s := NewSolver(client, presence(false), false)

	task := captcha.NewTask(6, []byte("img"), "")
	require.True(t, s.Claim(context.Background(), task))
	assert.Eventually(t, func() bool { return task.Error() != "" }, time.Second, 5*time.Millisecond)
	assert.Contains(t, task.Error(), "no workers")
	_, ok := task.Data("ticket")
	assert.False(t, ok)
	_, answered := task.Result()
	assert.False(t, answered)

	require.NoError(t, s.Correct(context.Background(), task))
	require.NoError(t, s.Invalid(context.Background(), task))
	assert.Empty(t, b.got())
}
