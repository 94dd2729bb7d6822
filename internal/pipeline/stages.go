package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"

	_ "image/jpeg"
	_ "image/png"

	"trellis-api/internal/shared"
	"trellis-api/internal/stream"
	"trellis-api/internal/trellis"
)

// preprocess saves the upload into the workspace and segments the background
// when the image has no alpha channel.
func (p *Pipeline) preprocess(ctx context.Context, job *Job) ([]stream.Artifact, error) {
	if err := os.WriteFile(job.Workspace.Path(shared.InputImageName), job.Image, 0o644); err != nil {
		return nil, fmt.Errorf("failed to save uploaded image: %w", err)
	}

	if !hasAlphaChannel(job.Image) {
		segmented, err := p.model.Segment(ctx, job.Image)
		if err != nil {
			return nil, fmt.Errorf("failed to remove image background: %w", err)
		}
		job.Image = segmented
	}
	return nil, nil
}

func (p *Pipeline) generate(ctx context.Context, job *Job) ([]stream.Artifact, error) {
	scene, err := p.model.Infer(ctx, job.Image, job.Seed)
	if err != nil {
		return nil, fmt.Errorf("failed to generate 3D model: %w", err)
	}
	job.scene = scene
	return nil, nil
}

func (p *Pipeline) renderVideo(ctx context.Context, job *Job) ([]stream.Artifact, error) {
	path := job.Workspace.Path(shared.VideoFilename)
	if err := p.model.RenderVideo(ctx, job.scene, shared.VideoFPS, path); err != nil {
		return nil, fmt.Errorf("failed to render turntable video: %w", err)
	}
	return artifactFor(path, shared.VideoMIME, shared.VideoFilename)
}

func (p *Pipeline) exportMesh(ctx context.Context, job *Job) ([]stream.Artifact, error) {
	path := job.Workspace.Path(shared.MeshFilename)
	opts := trellis.MeshOptions{Simplify: shared.MeshSimplifyRatio, TextureSize: shared.MeshTextureSize}
	if err := p.model.ExportMesh(ctx, job.scene, opts, path); err != nil {
		return nil, fmt.Errorf("failed to generate GLB mesh: %w", err)
	}
	return artifactFor(path, shared.MeshMIME, shared.MeshFilename)
}

func (p *Pipeline) exportPointCloud(ctx context.Context, job *Job) ([]stream.Artifact, error) {
	path := job.Workspace.Path(shared.PointCloudFilename)
	if err := p.model.ExportPointCloud(ctx, job.scene, path); err != nil {
		return nil, fmt.Errorf("failed to export point cloud: %w", err)
	}
	return artifactFor(path, shared.PointCloudMIME, shared.PointCloudFilename)
}

// artifactFor stats a freshly written file; the byte length is only known
// after the write.
func artifactFor(path, mime, filename string) ([]stream.Artifact, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("artifact %s missing after export: %w", filename, err)
	}
	return []stream.Artifact{{Path: path, MIME: mime, Filename: filename, Size: info.Size()}}, nil
}

// hasAlphaChannel reports whether the encoded image carries an alpha channel.
// PNGs with an alpha channel decode to a non-premultiplied model; JPEGs never
// have one. Undecodable input reports false and lets the segmenter decide.
func hasAlphaChannel(data []byte) bool {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return false
	}
	switch cfg.ColorModel {
	case color.NRGBAModel, color.NRGBA64Model:
		return true
	}
	return false
}
