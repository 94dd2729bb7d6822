package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"trellis-api/internal/shared"
)

// Encoder turns events into self-delimited multipart frames. The boundary is
// fixed for the lifetime of one stream; all boundary and terminator handling
// lives here so the framing invariants are enforced in a single place.
//
// File payloads are raw bytes; a payload that happens to contain the boundary
// sequence would confuse a boundary-scanning parser, so file frames also carry
// Content-Length for readers that can take advantage of it.
type Encoder struct {
	boundary string
}

func NewEncoder(boundary string) *Encoder {
	return &Encoder{boundary: boundary}
}

func (e *Encoder) Boundary() string {
	return e.boundary
}

// ContentType is the response Content-Type announcing the stream framing.
func (e *Encoder) ContentType() string {
	return fmt.Sprintf("multipart/x-mixed-replace; boundary=%s", e.boundary)
}

// Encode produces one complete frame for the event. File events read the
// artifact from disk; one frame at a time is the only buffering the stream
// layer does.
func (e *Encoder) Encode(ev Event) ([]byte, error) {
	switch v := ev.(type) {
	case Progress:
		return e.statusFrame(shared.StatusProgress, v.Step, v.Message)
	case Error:
		return e.statusFrame(shared.StatusError, v.Step, v.Message)
	case Complete:
		return e.statusFrame(shared.StatusComplete, "", v.Message)
	case File:
		return e.fileFrame(v.Artifact)
	default:
		return nil, fmt.Errorf("unknown event type %T", ev)
	}
}

// Terminator is the end-of-stream frame, emitted exactly once after the
// terminal event.
func (e *Encoder) Terminator() []byte {
	return fmt.Appendf(nil, "--%s--\r\n", e.boundary)
}

func (e *Encoder) statusFrame(status, step, message string) ([]byte, error) {
	payload, err := json.Marshal(shared.StatusUpdate{Status: status, Step: step, Message: message})
	if err != nil {
		return nil, err
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "--%s\r\nContent-Type: application/json\r\n\r\n", e.boundary)
	b.Write(payload)
	b.WriteString("\r\n")
	return b.Bytes(), nil
}

func (e *Encoder) fileFrame(a Artifact) ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", a.Filename, err)
	}
	var b bytes.Buffer
	fmt.Fprintf(&b, "--%s\r\n", e.boundary)
	fmt.Fprintf(&b, "Content-Type: %s\r\n", a.MIME)
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n", a.Filename)
	fmt.Fprintf(&b, "Content-Length: %d\r\n\r\n", len(data))
	b.Write(data)
	b.WriteString("\r\n")
	return b.Bytes(), nil
}
