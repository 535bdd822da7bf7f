// Package web serves the framescribe HTTP API and the live frame feed.
package web

import (
	"context"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-framescribe/internal/metrics"
	"github.com/teslashibe/go-framescribe/pkg/frame"
	"github.com/teslashibe/go-framescribe/pkg/hub"
	"github.com/teslashibe/go-framescribe/pkg/pipeline"
	"github.com/teslashibe/go-framescribe/pkg/store"
)

// Config configures the server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// MaxCaptureDuration caps capture runs requested over HTTP, in seconds.
	// Requests must set a duration no larger than this.
	MaxCaptureDuration float64

	// UploadDir receives multipart uploads while they are processed.
	// Defaults to the system temp dir.
	UploadDir string

	// UploadRoot confines JSON file_path uploads. Paths resolving outside
	// it are rejected. Defaults to the working directory.
	UploadRoot string

	// BodyLimit caps request bodies in bytes.
	BodyLimit int
}

// DefaultConfig listens on :8080, caps captures at five minutes and accepts
// uploads up to 512MB.
func DefaultConfig() Config {
	return Config{
		Addr:               ":8080",
		MaxCaptureDuration: 300,
		BodyLimit:          512 << 20,
	}
}

// Event is pushed to /ws/frames subscribers.
type Event struct {
	Type  string           `json:"type"` // frame or run
	RunID string           `json:"run_id"`
	Frame *frame.ImageData `json:"frame,omitempty"`
	Run   *store.Run       `json:"run,omitempty"`
}

// Event types.
const (
	EventFrame = "frame"
	EventRun   = "run"
)

// Server is the HTTP API over a pipeline.Runner.
type Server struct {
	app    *fiber.App
	cfg    Config
	runner *pipeline.Runner
	store  store.Store
	frames *hub.Hub
	logger *slog.Logger

	// ctx bounds runs started by requests; Serve replaces it. A client
	// hanging up does not cancel its run, shutting the server down does.
	ctx context.Context
}

// NewServer builds the server. opts configure the runner; the server adds an
// observer that feeds /ws/frames.
func NewServer(cfg Config, st store.Store, logger *slog.Logger, opts ...pipeline.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = os.TempDir()
	}
	if cfg.UploadRoot == "" {
		cfg.UploadRoot = "."
	}
	if root, err := filepath.Abs(cfg.UploadRoot); err == nil {
		cfg.UploadRoot = root
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultConfig().BodyLimit
	}

	s := &Server{
		cfg:    cfg,
		store:  st,
		frames: hub.New("frames", logger),
		logger: logger.With("component", "web"),
		ctx:    context.Background(),
	}
	s.runner = pipeline.NewRunner(append(opts, pipeline.WithObserver(s.onFrame))...)

	app := fiber.New(fiber.Config{
		AppName:               "framescribe",
		DisableStartupMessage: true,
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           30 * time.Second,
	})
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)
	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))

	api := app.Group("/api")
	api.Post("/runs/capture", s.handleCapture)
	api.Post("/runs/upload", s.handleUpload)
	api.Get("/runs", s.handleListRuns)
	api.Get("/runs/:id", s.handleGetRun)
	api.Delete("/runs/:id", s.handleDeleteRun)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/frames", websocket.New(s.handleFramesWS))

	s.app = app
	return s
}

// App exposes the fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App { return s.app }

// Hub returns the frame feed hub.
func (s *Server) Hub() *hub.Hub { return s.frames }

// Start runs the hub and serves on cfg.Addr until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve runs the hub and serves on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.ctx = ctx
	go s.frames.Run(ctx)

	stop := context.AfterFunc(ctx, func() {
		if err := s.app.ShutdownWithTimeout(10 * time.Second); err != nil {
			s.logger.Warn("shutdown failed", "error", err)
		}
	})
	defer stop()

	s.logger.Info("listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

func (s *Server) onFrame(runID uuid.UUID, d frame.ImageData) {
	if err := s.frames.BroadcastJSON(runID.String(), Event{Type: EventFrame, RunID: runID.String(), Frame: &d}); err != nil {
		s.logger.Warn("broadcast frame failed", "error", err)
	}
}
