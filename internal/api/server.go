package api

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog/log"

	"github.com/tanq16/danzod/internal/captcha"
	"github.com/tanq16/danzod/internal/events"
	"github.com/tanq16/danzod/internal/manager"
	"github.com/tanq16/danzod/internal/worker"
)

type Options struct {
	// ClientTimeout is how long a pull client may stay silent before its
	// subscription is dropped.
	ClientTimeout time.Duration
	AbortTimeout  time.Duration
}

// Server exposes the manager, the worker pool and pending captchas over HTTP.
type Server struct {
	app   *fiber.App
	mgr   *manager.Manager
	pool  *worker.Pool
	coord *captcha.Coordinator
	bus   *events.Bus
	opts  Options
}

func NewServer(mgr *manager.Manager, pool *worker.Pool, coord *captcha.Coordinator, opts Options) *Server {
	if opts.ClientTimeout <= 0 {
		opts.ClientTimeout = 30 * time.Second
	}
	if opts.AbortTimeout <= 0 {
		opts.AbortTimeout = time.Minute
	}
	s := &Server{
		app: fiber.New(fiber.Config{
			AppName:               "danzod",
			DisableStartupMessage: true,
			ErrorHandler:          handleError,
		}),
		mgr:   mgr,
		pool:  pool,
		coord: coord,
		bus:   mgr.Bus(),
		opts:  opts,
	}
	s.app.Use(recover.New())
	s.app.Use(cors.New())
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.app.Group("/api")
	api.Get("/files", s.listFiles)
	api.Get("/files/:id", s.getFile)
	api.Post("/files/:id/abort", s.abortFile)
	api.Delete("/files/:id", s.deleteFile)
	api.Get("/events", s.pullEvents)
	api.Get("/status", s.status)
	api.Put("/workers", s.resizeWorkers)
	api.Get("/captcha", s.listCaptcha)
	api.Post("/captcha/:id", s.answerCaptcha)
}

func (s *Server) App() *fiber.App {
	return s.app
}

// ClientConnected reports whether a front-end pulled events recently.
func (s *Server) ClientConnected() bool {
	return s.bus.HasActive(s.opts.ClientTimeout)
}

func (s *Server) Listen(addr string) error {
	log.Info().Str("op", "api/server").Msgf("Listening on %s", addr)
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
