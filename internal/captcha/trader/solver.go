package trader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/captcha"
)

const (
	claimWait  = 40 * time.Second
	minCredits = 10
)

type clientPresence interface {
	ClientConnected() bool
}

// Solver hands captchas to the remote backend when no interactive client
// is available, or always when Force is set.
type Solver struct {
	client  *Client
	clients clientPresence
	force   bool
}

func NewSolver(client *Client, clients clientPresence, force bool) *Solver {
	return &Solver{client: client, clients: clients, force: force}
}

func (s *Solver) Name() string { return "captchatrader" }

func (s *Solver) CanHandle(t *captcha.Task) bool {
	if !s.client.HasCredentials() {
		return false
	}
	if s.clients != nil && s.clients.ClientConnected() && !s.force {
		return false
	}
	return true
}

// Claim stays off the network so that Offer never stalls on the backend.
// The credit check runs with the submit.
func (s *Solver) Claim(ctx context.Context, t *captcha.Task) bool {
	t.SetWaiting(claimWait)
	go s.process(t)
	return true
}

func (s *Solver) process(t *captcha.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), claimWait)
	defer cancel()
	credits, err := s.client.Credits(ctx)
	if err != nil {
		log.Warn().Str("op", "trader/solver").Int("file", t.FileID).Err(err).Msg("Could not fetch credits")
		t.SetError(fmt.Sprintf("could not fetch captcha credits: %v", err))
		return
	}
	if credits <= minCredits {
		log.Info().Str("op", "trader/solver").Int("file", t.FileID).Msg("Your CaptchaTrader account has not enough credits")
		t.SetError(fmt.Sprintf("not enough captcha credits (%d)", credits))
		return
	}
	t.MarkSubmitted()
	ticket, result, err := s.client.Submit(ctx, t.File, t.Format)
	if err != nil {
		log.Error().Str("op", "trader/solver").Int("file", t.FileID).Err(err).Msg("Captcha submit failed")
		t.SetError(err.Error())
		return
	}
	t.SetData("ticket", ticket)
	t.SetResult(result)
}

func (s *Solver) Correct(ctx context.Context, t *captcha.Task) error {
	ticket, ok := t.Data("ticket")
	if !ok {
		return nil
	}
	return s.client.Respond(ctx, ticket, true)
}

// Invalid reports the ticket the same way Correct does; the backend's
// refund path is not used.
func (s *Solver) Invalid(ctx context.Context, t *captcha.Task) error {
	ticket, ok := t.Data("ticket")
	if !ok {
		return nil
	}
	return s.client.Respond(ctx, ticket, true)
}
