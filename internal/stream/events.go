// Package stream defines the event vocabulary pushed to generation clients
// and the multipart framing that carries it over one long-lived response.
package stream

// Artifact is a file produced by a stage, eligible for delivery. Immutable
// once created; its lifetime is bounded by the request workspace.
type Artifact struct {
	Path     string
	MIME     string
	Filename string
	Size     int64
}

// Event is one unit of the progress/error/file/complete vocabulary. The set
// is closed; the encoder rejects anything else.
type Event interface {
	event()
}

type Progress struct {
	Step    string
	Message string
}

type Error struct {
	Step    string
	Message string
}

type File struct {
	Artifact Artifact
}

type Complete struct {
	Message string
}

func (Progress) event() {}
func (Error) event()    {}
func (File) event()     {}
func (Complete) event() {}
