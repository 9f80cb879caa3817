package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/captcha"
	"github.com/tanq16/danzod/internal/events"
)

type eventsResponse struct {
	UUID   string         `json:"uuid"`
	Events []events.Event `json:"events"`
}

type statusResponse struct {
	Workers    int   `json:"workers"`
	Active     int   `json:"active"`
	Processing []int `json:"processing"`
}

type workersRequest struct {
	Workers int `json:"workers"`
}

type captchaResponse struct {
	ID       string    `json:"id"`
	File     int       `json:"file"`
	Format   string    `json:"format"`
	Data     []byte    `json:"data"`
	Deadline time.Time `json:"deadline"`
}

type answerRequest struct {
	Result string `json:"result"`
}

func fileID(c *fiber.Ctx) (int, error) {
	id, err := c.ParamsInt("id")
	if err != nil {
		return 0, fiber.NewError(fiber.StatusBadRequest, "invalid file id")
	}
	return id, nil
}

func (s *Server) listFiles(c *fiber.Ctx) error {
	return c.JSON(s.mgr.Records())
}

func (s *Server) getFile(c *fiber.Ctx) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	rec, err := s.mgr.Record(id)
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// abortFile returns right away; the abort waits for the worker on its own
// goroutine.
func (s *Server) abortFile(c *fiber.Ctx) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	f, err := s.mgr.GetFile(id)
	if err != nil {
		return err
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.AbortTimeout)
		defer cancel()
		if err := f.AbortDownload(ctx); err != nil {
			log.Error().Str("op", "api/handlers").Int("file", id).Msgf("abort failed: %v", err)
		}
	}()
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id})
}

func (s *Server) deleteFile(c *fiber.Ctx) error {
	id, err := fileID(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), s.opts.AbortTimeout)
	defer cancel()
	if err := s.mgr.Delete(ctx, id); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// pullEvents drains the caller's queue. Unknown or missing ids get a fresh
// subscription whose id is returned for the next pull.
func (s *Server) pullEvents(c *fiber.Ctx) error {
	s.bus.Prune(s.opts.ClientTimeout)
	id := c.Query("uuid")
	evs, ok := s.bus.Pull(id)
	if !ok {
		id = s.bus.Subscribe().ID
		evs, _ = s.bus.Pull(id)
	}
	if evs == nil {
		evs = []events.Event{}
	}
	return c.JSON(eventsResponse{UUID: id, Events: evs})
}

func (s *Server) status(c *fiber.Ctx) error {
	processing := s.pool.ProcessingIDs()
	if processing == nil {
		processing = []int{}
	}
	return c.JSON(statusResponse{
		Workers:    s.pool.Workers(),
		Active:     s.pool.Active(),
		Processing: processing,
	})
}

func (s *Server) resizeWorkers(c *fiber.Ctx) error {
	var req workersRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	if err := s.pool.Resize(req.Workers); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	s.pool.Wake()
	return s.status(c)
}

func (s *Server) listCaptcha(c *fiber.Ctx) error {
	tasks := s.coord.Pending()
	out := make([]captchaResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, captchaResponse{
			ID:       t.ID,
			File:     t.FileID,
			Format:   t.Format,
			Data:     t.File,
			Deadline: t.Deadline(),
		})
	}
	return c.JSON(out)
}

func (s *Server) answerCaptcha(c *fiber.Ctx) error {
	var req answerRequest
	if err := c.BodyParser(&req); err != nil || req.Result == "" {
		return fiber.NewError(fiber.StatusBadRequest, "missing result")
	}
	if err := s.coord.Answer(c.Params("id"), req.Result); err != nil {
		if errors.Is(err, captcha.ErrTaskNotFound) {
			return err
		}
		return fiber.NewError(fiber.StatusConflict, err.Error())
	}
	return c.SendStatus(fiber.StatusNoContent)
}
