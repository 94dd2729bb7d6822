package generate

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"trellis-api/internal/setup"
	"trellis-api/internal/shared"
	"trellis-api/internal/trellis"
	"trellis-api/internal/workspace"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeModel struct {
	notReady  bool
	inferErr  error
	renderErr error
}

func (m *fakeModel) Ready() bool { return !m.notReady }

func (m *fakeModel) Segment(_ context.Context, img []byte) ([]byte, error) { return img, nil }

func (m *fakeModel) Infer(context.Context, []byte, int) (*trellis.Scene, error) {
	if m.inferErr != nil {
		return nil, m.inferErr
	}
	return &trellis.Scene{ID: "scene-1", Gaussian: "g-1", Mesh: "m-1"}, nil
}

func (m *fakeModel) RenderVideo(_ context.Context, _ *trellis.Scene, _ int, path string) error {
	if m.renderErr != nil {
		return m.renderErr
	}
	return os.WriteFile(path, []byte("mp4 bytes"), 0o644)
}

func (m *fakeModel) ExportMesh(_ context.Context, _ *trellis.Scene, _ trellis.MeshOptions, path string) error {
	return os.WriteFile(path, []byte("glb bytes"), 0o644)
}

func (m *fakeModel) ExportPointCloud(_ context.Context, _ *trellis.Scene, path string) error {
	return os.WriteFile(path, []byte("ply bytes"), 0o644)
}

func uploadRequest(t *testing.T, target string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "input.png")
	require.NoError(t, err)
	require.NoError(t, png.Encode(fw, image.NewNRGBA(image.Rect(0, 0, 4, 4))))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	return req
}

func invoke(t *testing.T, h *Handler, req *http.Request, route func(*Handler) echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	cc := &setup.Context{Context: c, Log: zap.NewNop().Sugar(), Reqid: "test"}
	require.NoError(t, route(h)(cc))
	return rec
}

func newHandler(t *testing.T, model Model) (*Handler, string) {
	t.Helper()
	root := t.TempDir()
	return NewHandler(model, workspace.NewManager(root, zap.NewNop().Sugar()), zap.NewNop().Sugar()), root
}

func decodeStream(t *testing.T, rec *httptest.ResponseRecorder) []shared.StatusUpdate {
	t.Helper()
	_, params, err := mime.ParseMediaType(rec.Header().Get(echo.HeaderContentType))
	require.NoError(t, err)

	var updates []shared.StatusUpdate
	r := multipart.NewReader(rec.Body, params["boundary"])
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		if part.FileName() != "" {
			updates = append(updates, shared.StatusUpdate{Status: "file", Message: part.FileName()})
			_, _ = io.Copy(io.Discard, part)
			continue
		}
		var update shared.StatusUpdate
		require.NoError(t, json.NewDecoder(part).Decode(&update))
		updates = append(updates, update)
	}
	return updates
}

func TestGenerateRejectsMissingUpload(t *testing.T) {
	h, root := newHandler(t, &fakeModel{})

	req := httptest.NewRequest(http.MethodPost, "/generate", nil)
	rec := invoke(t, h, req, func(h *Handler) echo.HandlerFunc { return h.Generate })

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body shared.StatusUpdate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "Initialization", body.Step)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "no workspace may be created for a rejected upload")
}

func TestGenerateRejectsWhenModelNotReady(t *testing.T) {
	h, root := newHandler(t, &fakeModel{notReady: true})

	rec := invoke(t, h, uploadRequest(t, "/generate"), func(h *Handler) echo.HandlerFunc { return h.Generate })

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateStreamsFullRun(t *testing.T) {
	h, root := newHandler(t, &fakeModel{})

	rec := invoke(t, h, uploadRequest(t, "/generate"), func(h *Handler) echo.HandlerFunc { return h.Generate })

	assert.Equal(t, http.StatusOK, rec.Code)
	ct, params, err := mime.ParseMediaType(rec.Header().Get(echo.HeaderContentType))
	require.NoError(t, err)
	assert.Equal(t, "multipart/x-mixed-replace", ct)
	assert.Equal(t, "frame", params["boundary"])

	updates := decodeStream(t, rec)
	require.NotEmpty(t, updates)

	assert.Equal(t, "progress", updates[0].Status, "stream opens with a progress update")

	var files []string
	completes := 0
	for _, u := range updates {
		switch u.Status {
		case "file":
			files = append(files, u.Message)
		case "complete":
			completes++
		case "error":
			t.Fatalf("unexpected error event: %+v", u)
		}
	}
	assert.Equal(t, []string{"preview.mp4", "output.glb", "points.ply"}, files)
	assert.Equal(t, 1, completes)
	assert.Equal(t, "complete", updates[len(updates)-1].Status)

	// Terminator closed the multipart stream (decodeStream hit clean EOF) and
	// the workspace is gone.
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "workspace must not outlive the response stream")
}

func TestGenerateIsolatesRenderFailure(t *testing.T) {
	h, root := newHandler(t, &fakeModel{renderErr: errors.New("ffmpeg exploded")})

	rec := invoke(t, h, uploadRequest(t, "/generate"), func(h *Handler) echo.HandlerFunc { return h.Generate })
	updates := decodeStream(t, rec)

	var sawRenderError, sawComplete bool
	var files []string
	for _, u := range updates {
		switch {
		case u.Status == "error" && u.Step == "Rendering Video":
			sawRenderError = true
		case u.Status == "complete":
			sawComplete = true
		case u.Status == "file":
			files = append(files, u.Message)
		}
	}
	assert.True(t, sawRenderError)
	assert.True(t, sawComplete, "non-fatal failure must still reach complete")
	assert.Equal(t, []string{"output.glb", "points.ply"}, files)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateFatalFailureEndsStreamWithoutComplete(t *testing.T) {
	h, root := newHandler(t, &fakeModel{inferErr: errors.New("CUDA out of memory")})

	rec := invoke(t, h, uploadRequest(t, "/generate"), func(h *Handler) echo.HandlerFunc { return h.Generate })
	assert.Equal(t, http.StatusOK, rec.Code, "status line is already committed")

	updates := decodeStream(t, rec)
	last := updates[len(updates)-1]
	assert.Equal(t, "error", last.Status)
	assert.Equal(t, "Generation", last.Step)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries, "cleanup runs on the fatal path too")
}

func TestGenerateZipBundlesArtifacts(t *testing.T) {
	h, root := newHandler(t, &fakeModel{renderErr: errors.New("ffmpeg exploded")})

	rec := invoke(t, h, uploadRequest(t, "/generate_zip"), func(h *Handler) echo.HandlerFunc { return h.GenerateZip })

	assert.Equal(t, http.StatusOK, rec.Code, "non-fatal failure still yields an archive")
	assert.Equal(t, "application/zip", rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "trellis_output.zip")

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, []string{"output.glb", "points.ply"}, names)
	assert.NotContains(t, names, "preview.mp4", "failed export is simply absent")

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateZipFatalFailureIsErrorResponse(t *testing.T) {
	h, root := newHandler(t, &fakeModel{inferErr: errors.New("CUDA out of memory")})

	rec := invoke(t, h, uploadRequest(t, "/generate_zip"), func(h *Handler) echo.HandlerFunc { return h.GenerateZip })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body shared.StatusUpdate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "error", body.Status)
	assert.Equal(t, "Generation", body.Step)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerateZipRejectsMissingUpload(t *testing.T) {
	h, _ := newHandler(t, &fakeModel{})

	req := httptest.NewRequest(http.MethodPost, "/generate_zip", nil)
	rec := invoke(t, h, req, func(h *Handler) echo.HandlerFunc { return h.GenerateZip })

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
