package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-framescribe/pkg/hub"
	"github.com/teslashibe/go-framescribe/pkg/pipeline"
	"github.com/teslashibe/go-framescribe/pkg/store"
	"github.com/teslashibe/go-framescribe/pkg/upload"
)

// CaptureRequest is the body of POST /api/runs/capture.
type CaptureRequest struct {
	Capture   *pipeline.CaptureConfig   `json:"capture_config"`
	Processor *pipeline.ProcessorConfig `json:"processor_config"`
}

// UploadRequest is the JSON body of POST /api/runs/upload for a file already
// on the server's disk.
type UploadRequest struct {
	FilePath  string                    `json:"file_path"`
	Processor *pipeline.ProcessorConfig `json:"processor_config"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	RunID string `json:"run_id,omitempty"`
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"runs":    s.store.Count(),
		"clients": s.frames.ClientCount(),
		"dropped": s.frames.Dropped(),
	})
}

// handleCapture runs a bounded capture and returns the stored run.
func (s *Server) handleCapture(c *fiber.Ctx) error {
	var req CaptureRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid body: %v", err))
	}
	if req.Capture == nil || req.Capture.Duration == nil {
		return badRequest(c, "capture_config.duration is required")
	}
	if *req.Capture.Duration > s.cfg.MaxCaptureDuration {
		return badRequest(c, fmt.Sprintf("capture_config.duration exceeds %v seconds", s.cfg.MaxCaptureDuration))
	}

	var (
		rep *pipeline.Report
		err error
	)
	if req.Processor == nil {
		rep, err = s.runner.Capture(s.ctx, req.Capture)
	} else {
		rep, err = s.runner.CaptureAndProcess(s.ctx, req.Capture, *req.Processor)
	}
	return s.finish(c, pipeline.SourceCapture, "", rep, err)
}

// handleUpload processes a multipart "file" or a JSON file_path.
func (s *Server) handleUpload(c *fiber.Ctx) error {
	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		return s.handleMultipartUpload(c)
	}

	var req UploadRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, fmt.Sprintf("invalid body: %v", err))
	}
	if req.FilePath == "" {
		return badRequest(c, "file_path is required")
	}
	pc := pipeline.DefaultProcessorConfig()
	if req.Processor != nil {
		pc = *req.Processor
	}

	path, err := s.resolveUploadPath(req.FilePath)
	if err != nil {
		return s.finish(c, pipeline.SourceUpload, req.FilePath, nil, err)
	}
	rep, err := s.runner.ProcessFileUpload(s.ctx, path, pc)
	if rep != nil {
		rep.Input = req.FilePath
	}
	return s.finish(c, pipeline.SourceUpload, req.FilePath, rep, err)
}

// resolveUploadPath maps a client file_path into cfg.UploadRoot. Relative
// paths are taken from the root; anything that lands outside it is reported
// as missing.
func (s *Server) resolveUploadPath(name string) (string, error) {
	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(s.cfg.UploadRoot, path)
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", &pipeline.Error{Kind: pipeline.KindFileNotFound, Op: "upload", Err: err}
	}
	rel, err := filepath.Rel(s.cfg.UploadRoot, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &pipeline.Error{
			Kind: pipeline.KindFileNotFound,
			Op:   "upload",
			Err:  fmt.Errorf("%w: %s is outside the upload root", upload.ErrFileNotFound, name),
		}
	}
	return path, nil
}

func (s *Server) handleMultipartUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "multipart field \"file\" is required")
	}

	pc := pipeline.DefaultProcessorConfig()
	if raw := c.FormValue("processor_config"); raw != "" {
		pc = pipeline.ProcessorConfig{}
		if err := json.Unmarshal([]byte(raw), &pc); err != nil {
			return badRequest(c, fmt.Sprintf("invalid processor_config: %v", err))
		}
	}

	// The extension picks the decoder, so keep it.
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if _, err := upload.Classify(fh.Filename); err != nil {
		return s.finish(c, pipeline.SourceUpload, fh.Filename, nil,
			&pipeline.Error{Kind: pipeline.KindUnsupportedFormat, Op: "upload", Err: err})
	}
	path := filepath.Join(s.cfg.UploadDir, "framescribe-"+uuid.NewString()+ext)
	if err := c.SaveFile(fh, path); err != nil {
		s.logger.Error("save upload failed", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "could not store upload"})
	}
	defer os.Remove(path)

	rep, err := s.runner.ProcessFileUpload(s.ctx, path, pc)
	if rep != nil {
		rep.Input = fh.Filename
	}
	return s.finish(c, pipeline.SourceUpload, fh.Filename, rep, err)
}

// finish stores the run, announces it and writes the response.
func (s *Server) finish(c *fiber.Ctx, source, input string, rep *pipeline.Report, err error) error {
	run := store.NewRun(source, input, rep, err)
	if serr := s.store.Save(run); serr != nil {
		s.logger.Error("save run failed", "run", run.ID, "error", serr)
	}
	if berr := s.frames.BroadcastJSON(run.ID, Event{Type: EventRun, RunID: run.ID, Run: run}); berr != nil {
		s.logger.Warn("broadcast run failed", "error", berr)
	}

	if err != nil {
		return c.Status(statusFor(err)).JSON(ErrorResponse{
			Error: err.Error(),
			Kind:  run.ErrorKind,
			RunID: run.ID,
		})
	}
	return c.JSON(run)
}

func (s *Server) handleListRuns(c *fiber.Ctx) error {
	var (
		runs []*store.Run
		err  error
	)
	if q := c.Query("q"); q != "" {
		runs, err = s.store.Search(q)
	} else {
		runs, err = s.store.List()
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return c.JSON(runs)
}

func (s *Server) handleGetRun(c *fiber.Ctx) error {
	run, err := s.store.Get(c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.JSON(run)
}

func (s *Server) handleDeleteRun(c *fiber.Ctx) error {
	err := s.store.Delete(c.Params("id"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: err.Error()})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// handleFramesWS streams Events to one subscriber. ?run=<id> follows a
// single run.
func (s *Server) handleFramesWS(c *websocket.Conn) {
	hub.NewClient(s.frames, c, c.Query("run")).Run()
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg, Kind: pipeline.KindInvalidConfig.String()})
}

func statusFor(err error) int {
	switch pipeline.KindOf(err) {
	case pipeline.KindInvalidConfig:
		return fiber.StatusBadRequest
	case pipeline.KindFileNotFound:
		return fiber.StatusNotFound
	case pipeline.KindUnsupportedFormat:
		return fiber.StatusUnsupportedMediaType
	case pipeline.KindDecodeError:
		return fiber.StatusUnprocessableEntity
	case pipeline.KindProcessingError:
		return fiber.StatusBadGateway
	case pipeline.KindCaptureError, pipeline.KindCanceled:
		return fiber.StatusServiceUnavailable
	}
	return fiber.StatusInternalServerError
}
