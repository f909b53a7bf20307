// Package queue runs fingerprinting as a RabbitMQ worker: hash requests are
// consumed from a queue, results are published back, and requests that can
// never succeed are parked on a dead-letter queue.
package queue

import "github.com/google/uuid"

const (
	RequestRoutingKey = "hash.request"
	ResultRoutingKey  = "hash.result"

	// AttemptHeader carries the delivery attempt across requeues.
	AttemptHeader = "x-attempt"
	// ReasonHeader explains why a message was dead-lettered.
	ReasonHeader = "x-dlq-reason"
)

type Status string

const (
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// HashRequest is the inbound message. Video is an s3://bucket/key URI or a
// key in the configured default bucket.
type HashRequest struct {
	JobID uuid.UUID `json:"job_id"`
	Video string    `json:"video"`
}

// HashResult is published for every request that reaches a final outcome,
// and for every failed attempt that will be retried.
type HashResult struct {
	JobID        uuid.UUID `json:"job_id"`
	Video        string    `json:"video"`
	Status       Status    `json:"status"`
	Fingerprint  string    `json:"fingerprint,omitempty"`
	Width        int       `json:"width,omitempty"`
	Signature    string    `json:"signature,omitempty"`
	Duration     float64   `json:"duration_seconds,omitempty"`
	FrameCount   int       `json:"frame_count,omitempty"`
	Replaced     int       `json:"replaced_frames,omitempty"`
	Matches      []Match   `json:"matches,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Attempt      int       `json:"attempt"`
	MaxAttempts  int       `json:"max_attempts"`
}

// Match is a stored fingerprint close to the computed one.
type Match struct {
	Video       string  `json:"video"`
	Fingerprint string  `json:"fingerprint"`
	Distance    int     `json:"distance"`
	Similarity  float64 `json:"similarity"`
}
