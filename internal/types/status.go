package types

// StatusData represents the inner payload
type StatusData struct {
	ID       string            `json:"id"`
	UserID   string            `json:"userId"`
	Status   string            `json:"status"`
	URLs     map[string]string `json:"urls,omitempty"`
	Errors   []string          `json:"errors,omitempty"`
	ErrorMsg string            `json:"errorMsg"`
}

// StatusMessage represents the full message envelope
type StatusMessage struct {
	Pattern string     `json:"pattern"`
	Data    StatusData `json:"data"`
}

const PROCESSED = "PROCESSED"
const PARTIAL = "PARTIAL"
const FAILED = "FAILED"
const PROCESSING = "PROCESSING"
