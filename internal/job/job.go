package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Built-in job types.
const (
	TypeLog     = "log"
	TypeWebhook = "webhook"
)

// ErrInvalidJob is returned when a job is missing its type or has data that
// is not valid JSON.
var ErrInvalidJob = errors.New("invalid job")

// Job is one unit of background work.
type Job struct {
	// ID identifies the job across retries and restarts
	ID uuid.UUID `json:"id"`

	// Type selects the handler
	Type string `json:"type"`

	// Data is the handler-specific payload
	Data json.RawMessage `json:"data,omitempty"`

	// CreatedAt is when the job was submitted
	CreatedAt time.Time `json:"created_at"`
}

// New creates a job of the given type with data encoded as JSON.
func New(jobType string, data interface{}) (Job, error) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return Job{}, fmt.Errorf("%w: data cannot be encoded: %v", ErrInvalidJob, err)
		}
		raw = encoded
	}

	j := Job{
		ID:        uuid.New(),
		Type:      strings.TrimSpace(jobType),
		Data:      raw,
		CreatedAt: time.Now().UTC(),
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// Validate checks the job has a type and well-formed data.
func (j Job) Validate() error {
	if strings.TrimSpace(j.Type) == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidJob)
	}
	if len(j.Data) > 0 && !json.Valid(j.Data) {
		return fmt.Errorf("%w: data is not valid JSON", ErrInvalidJob)
	}
	return nil
}

// UnmarshalData decodes the job data into v.
func (j Job) UnmarshalData(v interface{}) error {
	if len(j.Data) == 0 {
		return fmt.Errorf("%w: %s job has no data", ErrInvalidJob, j.Type)
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("%w: %s job data: %v", ErrInvalidJob, j.Type, err)
	}
	return nil
}
