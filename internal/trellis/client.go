package trellis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"trellis-api/internal/metrics"
	"trellis-api/internal/shared"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// Client talks to the TRELLIS sidecar. Inference holds the accelerator for
// the whole call, so inference access is serialized process-wide through a
// weight-1 semaphore; concurrent requests queue on it in arrival order and a
// canceled waiter leaves the queue through its context.
type Client struct {
	endpoint string
	http     *http.Client
	slot     *semaphore.Weighted
	log      *zap.SugaredLogger
	ready    atomic.Bool
}

func NewClient(endpoint string, log *zap.SugaredLogger) *Client {
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		http:     &http.Client{Timeout: shared.DefaultHTTPTimeout},
		slot:     semaphore.NewWeighted(1),
		log:      log,
	}
}

// Init probes the sidecar once at startup. A failed probe is recorded, not
// fatal to the process: generation routes reject with 503 until restart, the
// rest of the API keeps serving.
func (c *Client) Init(ctx context.Context) error {
	r, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return errors.Join(shared.ErrModelUnavailable, err)
	}
	res, err := c.http.Do(r)
	if err != nil {
		return errors.Join(shared.ErrModelUnavailable, shared.ErrFailedModelReq, err)
	}
	defer func() {
		_ = res.Body.Close()
	}()
	if res.StatusCode != http.StatusOK {
		return errors.Join(shared.ErrModelUnavailable, shared.ErrFailedModelReqFromCode, fmt.Errorf("health returned %d", res.StatusCode))
	}
	c.ready.Store(true)
	c.log.Infow("model ready", "endpoint", c.endpoint)
	return nil
}

// Ready reports whether the startup probe succeeded.
func (c *Client) Ready() bool {
	return c.ready.Load()
}

// Segment removes the background and adds an alpha channel. Called only when
// the uploaded image lacks one.
func (c *Client) Segment(ctx context.Context, image []byte) ([]byte, error) {
	res, err := c.post(ctx, "/segment", "application/octet-stream", bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	out, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errors.Join(shared.ErrFailedReadingResponse, err)
	}
	return out, nil
}

// Infer runs the model on the prepared image. At most one inference is in
// flight per process for the lifetime of the service.
func (c *Client) Infer(ctx context.Context, image []byte, seed int) (*Scene, error) {
	waitStart := time.Now()
	if err := c.slot.Acquire(ctx, 1); err != nil {
		return nil, errors.Join(shared.ErrModelContext, err)
	}
	defer c.slot.Release(1)
	metrics.ModelQueueWait.Observe(time.Since(waitStart).Seconds())

	res, err := c.post(ctx, "/infer?seed="+strconv.Itoa(seed), "application/octet-stream", bytes.NewReader(image))
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = res.Body.Close()
	}()
	var scene Scene
	if err := json.NewDecoder(res.Body).Decode(&scene); err != nil {
		return nil, errors.Join(shared.ErrFailedReadingResponse, err)
	}
	return &scene, nil
}

// RenderVideo renders a turntable video of the scene and saves it to path.
func (c *Client) RenderVideo(ctx context.Context, scene *Scene, fps int, path string) error {
	body := struct {
		Scene *Scene `json:"scene"`
		FPS   int    `json:"fps"`
	}{Scene: scene, FPS: fps}
	return c.postToFile(ctx, "/render", body, path)
}

// ExportMesh bakes the scene into a GLB mesh and saves it to path.
func (c *Client) ExportMesh(ctx context.Context, scene *Scene, opts MeshOptions, path string) error {
	body := struct {
		Scene   *Scene      `json:"scene"`
		Options MeshOptions `json:"options"`
	}{Scene: scene, Options: opts}
	return c.postToFile(ctx, "/export/glb", body, path)
}

// ExportPointCloud saves the scene's point cloud to path.
func (c *Client) ExportPointCloud(ctx context.Context, scene *Scene, path string) error {
	body := struct {
		Scene *Scene `json:"scene"`
	}{Scene: scene}
	return c.postToFile(ctx, "/export/ply", body, path)
}

func (c *Client) post(ctx context.Context, route, contentType string, body io.Reader) (*http.Response, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+route, body)
	if err != nil {
		return nil, errors.Join(shared.ErrBadRequest, err)
	}
	r.Header.Set("Content-Type", contentType)
	r.Header.Set("Connection", "keep-alive")

	res, err := c.http.Do(r)
	if err != nil {
		return nil, errors.Join(shared.ErrInternalServerError, shared.ErrFailedModelReq, err)
	}
	if res.StatusCode != http.StatusOK {
		defer func() {
			_ = res.Body.Close()
		}()
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, errors.Join(
			shared.ErrFailedModelReqFromCode,
			fmt.Errorf("model responded %d: %s", res.StatusCode, strings.TrimSpace(string(msg))),
		)
	}
	return res, nil
}

func (c *Client) postToFile(ctx context.Context, route string, body any, path string) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Join(shared.ErrBadRequest, err)
	}
	res, err := c.post(ctx, route, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer func() {
		_ = res.Body.Close()
	}()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	_, err = io.Copy(f, res.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Join(shared.ErrFailedReadingResponse, err)
	}
	return nil
}
