package generate

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"trellis-api/internal/metrics"
	"trellis-api/internal/pipeline"
	"trellis-api/internal/setup"
	"trellis-api/internal/shared"
	"trellis-api/internal/stream"

	"github.com/labstack/echo/v4"
)

// GenerateZip runs the same pipeline synchronously and bundles whatever it
// produced into one downloadable archive. Non-fatal stage failures only
// shrink the archive; a fatal failure is an error response before any archive
// bytes are written.
func (h *Handler) GenerateZip(cc echo.Context) error {
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

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	job := &pipeline.Job{Image: img, Workspace: ws, Seed: shared.DefaultSeed}

	// Collect the whole run: keep artifacts, remember the last error in case
	// the fatal stages never reach Complete.
	var artifacts []stream.Artifact
	var lastErr stream.Error
	completed := false
	for ev := range pipeline.New(h.model, c.Log).Run(ctx, job) {
		switch v := ev.(type) {
		case stream.File:
			artifacts = append(artifacts, v.Artifact)
		case stream.Error:
			lastErr = v
		case stream.Complete:
			completed = true
		}
	}

	if !completed {
		metrics.ErrorCount.WithLabelValues(c.Path(), "pipeline").Inc()
		return c.JSON(http.StatusInternalServerError, shared.StatusUpdate{
			Status:  shared.StatusError,
			Step:    lastErr.Step,
			Message: lastErr.Message,
		})
	}

	c.Response().Header().Set(echo.HeaderContentType, "application/zip")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", shared.ArchiveFilename))
	c.Response().WriteHeader(http.StatusOK)

	zw := zip.NewWriter(c.Response())
	for _, a := range artifacts {
		if err := addArchiveEntry(zw, a); err != nil {
			c.Log.Errorw("failed to write archive entry", "filename", a.Filename, "error", err)
			metrics.ErrorCount.WithLabelValues(c.Path(), "archive").Inc()
			return err
		}
	}
	return zw.Close()
}

func addArchiveEntry(zw *zip.Writer, a stream.Artifact) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	entry, err := zw.Create(a.Filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(entry, f)
	return err
}
