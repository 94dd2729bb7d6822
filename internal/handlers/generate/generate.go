// Package generate implements the image-to-3D generation endpoints.
package generate

import (
	"context"
	"io"
	"net/http"

	"trellis-api/internal/metrics"
	"trellis-api/internal/pipeline"
	"trellis-api/internal/setup"
	"trellis-api/internal/shared"
	"trellis-api/internal/stream"
	"trellis-api/internal/workspace"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Model is what the handlers need from the TRELLIS client: the stage
// collaborators plus readiness from the startup probe.
type Model interface {
	pipeline.Model
	Ready() bool
}

type Handler struct {
	model      Model
	workspaces *workspace.Manager
	log        *zap.SugaredLogger
}

func NewHandler(model Model, workspaces *workspace.Manager, log *zap.SugaredLogger) *Handler {
	return &Handler{model: model, workspaces: workspaces, log: log}
}

// Generate streams progress updates and produced files over one continuous
// multipart response. Failures before the stream commits are plain HTTP
// errors; once streaming has begun every failure is reported in-band.
func (h *Handler) Generate(cc echo.Context) error {
	c := cc.(*setup.Context)

	if !h.model.Ready() {
		return h.errorResponse(c, shared.ErrModelUnavailable)
	}
	img, err := h.readUpload(c)
	if err != nil {
		return h.errorResponse(c, err)
	}

	ws, err := h.workspaces.Acquire()
	if err != nil {
		c.Log.Errorw("workspace allocation failed", "error", err)
		metrics.ErrorCount.WithLabelValues(c.Path(), "workspace").Inc()
		return h.errorResponse(c, shared.ErrWorkspaceUnavailable)
	}
	defer ws.Release()

	metrics.InflightGenerations.Inc()
	defer metrics.InflightGenerations.Dec()

	enc := stream.NewEncoder(shared.StreamBoundary)
	c.Response().Header().Set(echo.HeaderContentType, enc.ContentType())
	c.Response().WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	job := &pipeline.Job{Image: img, Workspace: ws, Seed: shared.DefaultSeed}
	events := pipeline.New(h.model, c.Log).Run(ctx, job)

	transport := stream.NewTransport(enc, c.Response(), func() { c.Response().Flush() }, c.Log)
	if err := transport.Stream(ctx, cancel, events); err != nil {
		// The channel to the client is presumed gone; nothing left to send.
		c.Log.Warnw("stream aborted", "error", err)
		metrics.ErrorCount.WithLabelValues(c.Path(), "transport").Inc()
	}
	return nil
}

// readUpload validates the multipart upload and reads the image into memory
// before streaming starts, so the request body cannot be closed out from
// under a running pipeline.
func (h *Handler) readUpload(c *setup.Context) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil || fh.Filename == "" {
		return nil, shared.ErrNoUpload
	}
	f, err := fh.Open()
	if err != nil {
		return nil, shared.ErrNoUpload
	}
	defer func() {
		_ = f.Close()
	}()
	img, err := io.ReadAll(f)
	if err != nil {
		c.Log.Errorw("failed to read upload", "error", err)
		return nil, shared.ErrInternalServerError
	}
	c.Log.Infow("received file upload", "filename", fh.Filename, "bytes", len(img))
	return img, nil
}

func (h *Handler) errorResponse(c *setup.Context, err error) error {
	reqErr, ok := err.(*shared.RequestError)
	if !ok {
		reqErr = shared.ErrInternalServerError
	}
	return c.JSON(reqErr.StatusCode, shared.StatusUpdate{
		Status:  shared.StatusError,
		Step:    shared.StepInitialization,
		Message: reqErr.Err.Error(),
	})
}
