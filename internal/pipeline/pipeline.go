// Package pipeline sequences the generation stages and pushes their events
// lazily over a channel. Stages run strictly in declaration order; fatal
// stage failures stop the run without a Complete event, non-fatal failures
// are reported in-band and the run continues, so artifacts that were already
// produced still reach the client.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"trellis-api/internal/metrics"
	"trellis-api/internal/shared"
	"trellis-api/internal/stream"
	"trellis-api/internal/trellis"
	"trellis-api/internal/workspace"

	"go.uber.org/zap"
)

// Model is the contract the pipeline needs from the TRELLIS collaborators.
type Model interface {
	Segment(ctx context.Context, image []byte) ([]byte, error)
	Infer(ctx context.Context, image []byte, seed int) (*trellis.Scene, error)
	RenderVideo(ctx context.Context, scene *trellis.Scene, fps int, path string) error
	ExportMesh(ctx context.Context, scene *trellis.Scene, opts trellis.MeshOptions, path string) error
	ExportPointCloud(ctx context.Context, scene *trellis.Scene, path string) error
}

// Job carries one request's state through the stages. Owned by a single run,
// never shared.
type Job struct {
	Image     []byte
	Workspace *workspace.Workspace
	Seed      int

	scene *trellis.Scene
}

// StageError names the stage whose work failed.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

type stage struct {
	name     string
	fatal    bool
	starting string
	done     string
	run      func(ctx context.Context, job *Job) ([]stream.Artifact, error)
}

type Pipeline struct {
	model  Model
	log    *zap.SugaredLogger
	stages []stage
}

func New(model Model, log *zap.SugaredLogger) *Pipeline {
	p := &Pipeline{model: model, log: log}
	p.stages = []stage{
		{
			name:     shared.StagePreprocess,
			fatal:    true,
			starting: "Receiving and preparing image...",
			done:     "Image preprocessing complete.",
			run:      p.preprocess,
		},
		{
			name:     shared.StageGeneration,
			fatal:    true,
			starting: "Starting 3D model generation...",
			done:     "3D model generation complete. Processing outputs...",
			run:      p.generate,
		},
		{
			name:     shared.StageRenderVideo,
			fatal:    false,
			starting: "Rendering turntable video...",
			done:     "Turntable video complete.",
			run:      p.renderVideo,
		},
		{
			name:     shared.StageExportMesh,
			fatal:    false,
			starting: "Generating GLB mesh...",
			done:     "GLB mesh complete.",
			run:      p.exportMesh,
		},
		{
			name:     shared.StageExportPointCloud,
			fatal:    false,
			starting: "Exporting point cloud...",
			done:     "Point cloud complete.",
			run:      p.exportPointCloud,
		},
	}
	return p
}

// Run executes the stages against the job, pushing events as they happen.
// The channel is unbuffered: the producer suspends after each event until the
// consumer is ready, and exits early when ctx is canceled. The channel closes
// after the terminal event (Complete, or the Error of a fatal stage); nothing
// is ever emitted after it.
func (p *Pipeline) Run(ctx context.Context, job *Job) <-chan stream.Event {
	events := make(chan stream.Event)
	go func() {
		defer close(events)
		emit := func(ev stream.Event) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		defer func() {
			if r := recover(); r != nil {
				p.log.Errorw("pipeline panic", "panic", r)
				emit(stream.Error{Step: shared.StepStreaming, Message: fmt.Sprintf("Unhandled exception during generation: %v", r)})
			}
		}()

		for _, st := range p.stages {
			if !emit(stream.Progress{Step: st.name, Message: st.starting}) {
				return
			}

			start := time.Now()
			artifacts, err := p.runStage(ctx, st, job)
			metrics.StageDuration.WithLabelValues(st.name).Observe(time.Since(start).Seconds())

			if err != nil {
				metrics.StageFailures.WithLabelValues(st.name, strconv.FormatBool(st.fatal)).Inc()
				p.log.Errorw("stage failed", "stage", st.name, "fatal", st.fatal, "error", err)
				if !emit(stream.Error{Step: st.name, Message: stageMessage(err)}) {
					return
				}
				if st.fatal {
					return
				}
				continue
			}

			for _, a := range artifacts {
				metrics.ArtifactBytes.WithLabelValues(a.Filename).Add(float64(a.Size))
				p.log.Infow("artifact produced", "stage", st.name, "filename", a.Filename, "bytes", a.Size)
				if !emit(stream.File{Artifact: a}) {
					return
				}
			}
			if !emit(stream.Progress{Step: st.name, Message: st.done}) {
				return
			}
		}

		emit(stream.Complete{Message: "All files generated."})
	}()
	return events
}

// runStage isolates a stage: any error or panic becomes a StageError so one
// misbehaving stage cannot take down the run (or, for non-fatal stages, the
// stages after it).
func (p *Pipeline) runStage(ctx context.Context, st stage, job *Job) (artifacts []stream.Artifact, err error) {
	defer func() {
		if r := recover(); r != nil {
			artifacts = nil
			err = &StageError{Stage: st.name, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	artifacts, err = st.run(ctx, job)
	if err != nil {
		if _, ok := err.(*StageError); !ok {
			err = &StageError{Stage: st.name, Err: err}
		}
	}
	return artifacts, err
}

func stageMessage(err error) string {
	if se, ok := err.(*StageError); ok {
		return se.Err.Error()
	}
	return err.Error()
}
