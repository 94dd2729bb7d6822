package shared

import "time"

// HTTP Client Configuration
const (
	DefaultHTTPTimeout     = 180 * time.Second
	DefaultInitTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Minute
)

// Stream framing
const (
	StreamBoundary = "frame"
)

// Generation defaults
const (
	DefaultSeed       = 0
	VideoFPS          = 30
	MeshSimplifyRatio = 0.95
	MeshTextureSize   = 1024
)

// Stage and step names as reported to the client
const (
	StepInitialization    = "Initialization"
	StepStreaming         = "Streaming"
	StagePreprocess       = "Preprocessing"
	StageGeneration       = "Generation"
	StageRenderVideo      = "Rendering Video"
	StageExportMesh       = "Generating GLB"
	StageExportPointCloud = "Exporting Point Cloud"
)

// Workspace and artifact names
const (
	WorkspacePrefix    = "trellis_"
	InputImageName     = "input_image.png"
	VideoFilename      = "preview.mp4"
	MeshFilename       = "output.glb"
	PointCloudFilename = "points.ply"
	ArchiveFilename    = "trellis_output.zip"
)

// Artifact MIME types
const (
	VideoMIME      = "video/mp4"
	MeshMIME       = "application/octet-stream"
	PointCloudMIME = "application/octet-stream"
)
