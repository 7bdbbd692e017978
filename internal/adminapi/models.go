package adminapi

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Queue QueueStatus   `json:"queue"`
	Jobs  map[string]int `json:"jobs_by_status"`
}

// QueueStatus mirrors queue.Status for the wire.
type QueueStatus struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobResponse is the body of GET /jobs/:id.
type JobResponse struct {
	ID          string `json:"id"`
	Channel     string `json:"channel"`
	ThreadTS    string `json:"thread_ts"`
	UserID      string `json:"user_id"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   int64  `json:"started_at,omitempty"`
	CompletedAt int64  `json:"completed_at,omitempty"`
	FailedAt    int64  `json:"failed_at,omitempty"`
}
