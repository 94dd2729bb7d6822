package shared

// StatusUpdate is the JSON payload carried by progress, error and complete
// frames, and by pre-stream HTTP error responses. Step is omitted for
// complete updates.
type StatusUpdate struct {
	Status  string `json:"status"`
	Step    string `json:"step,omitempty"`
	Message string `json:"message"`
}

const (
	StatusProgress = "progress"
	StatusError    = "error"
	StatusComplete = "complete"
)
