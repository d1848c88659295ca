package restore

import "time"

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusError
}

// canTransition encodes queued -> processing -> {completed|error}.
func canTransition(from, to Status) bool {
	switch from {
	case StatusQueued:
		return to == StatusProcessing
	case StatusProcessing:
		return to == StatusCompleted || to == StatusError
	default:
		return false
	}
}

// RestoreResult is what a completed request reports back to the client.
type RestoreResult struct {
	Uid               string `json:"uid"`
	ProductIdentifier string `json:"product_identifier"`
}

// ClientRequest is one submitted username and its lifecycle.
type ClientRequest struct {
	ID          string         `json:"id"`
	Username    string         `json:"username"`
	IP          string         `json:"ip,omitempty"`
	Status      Status         `json:"status"`
	Result      *RestoreResult `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	AddedAt     time.Time      `json:"added_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (r ClientRequest) clone() ClientRequest {
	out := r
	if r.Result != nil {
		res := *r.Result
		out.Result = &res
	}
	if r.StartedAt != nil {
		t := *r.StartedAt
		out.StartedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
