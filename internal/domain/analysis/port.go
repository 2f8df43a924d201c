package analysis

import "context"

// Job: unit of work handed from the submission path to the dispatcher pool.
type Job struct {
	DocumentID string `json:"document_id"`
	RequestID  string `json:"request_id"`
}

// Request: outbound payload for the external analyzer. The analyzer treats
// RequestID as its idempotency key and returns it verbatim in the callback.
type Request struct {
	RequestID   string `json:"request_id"`
	DocumentID  string `json:"document_id"`
	FileURL     string `json:"file_url"`
	CallbackURL string `json:"callback_url"`
}

// Client port (interface untuk NLP analyzer eksternal).
// Send returns nil on any 2xx ack; the actual result arrives later via callback.
type Client interface {
	Send(ctx context.Context, req Request) error
}

// Queue port (durable hand-off antara submission dan dispatcher workers)
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	// Dequeue blocks until a job is available or ctx is done.
	Dequeue(ctx context.Context) (Job, error)
}
