package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/captcha"
	"github.com/tanq16/danzod/internal/store"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// handleError maps domain errors onto status codes.
func handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		status = fe.Code
		code = "request_error"
	case errors.Is(err, store.ErrNotFound), errors.Is(err, captcha.ErrTaskNotFound):
		status = fiber.StatusNotFound
		code = "not_found"
	}
	if status >= fiber.StatusInternalServerError {
		log.Error().Str("op", "api/errors").Msgf("%s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(errorResponse{Error: code, Message: err.Error()})
}
