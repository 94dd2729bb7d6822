// Package trellis is the client for the TRELLIS sidecar that hosts the
// image-to-3D model. The API never inspects scenes, it only hands them back
// to the sidecar for rendering and export.
package trellis

// Scene is the opaque structured output of one inference call. Gaussian and
// Mesh are view tokens minted by the sidecar; the renderer consumes the
// gaussian view, the GLB exporter consumes both.
type Scene struct {
	ID       string `json:"id"`
	Gaussian string `json:"gaussian"`
	Mesh     string `json:"mesh"`
}

// MeshOptions tune the GLB export.
type MeshOptions struct {
	Simplify    float64 `json:"simplify"`
	TextureSize int     `json:"texture_size"`
}
