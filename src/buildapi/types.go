package buildapi

import (
	"encoding/json"
	"fmt"
)

// Self-serve cannot report the whole granularity of states for a job that
// has not finished; Pending/Running/Unknown are derived client-side from
// which fields are present on the record.
const (
	StatusPending = -3
	StatusRunning = -2
	StatusUnknown = -1

	StatusSuccess   = 0
	StatusWarning   = 1
	StatusFailure   = 2
	StatusSkipped   = 3
	StatusException = 4
	StatusRetry     = 5
	StatusCancelled = 6
)

// ResultNames maps terminal status codes to their self-serve names.
var ResultNames = []string{
	"success", "warnings", "failure", "skipped", "exception", "retry", "cancelled",
}

// JobRequest is one scheduling request attached to a job record. The
// (CompleteAt, RequestID) pair keys the detailed status lookup.
type JobRequest struct {
	CompleteAt int64 `json:"complete_at"`
	RequestID  int64 `json:"request_id"`
}

// JobRecord is one scheduled or completed job as reported by self-serve.
// Records are read-only snapshots; triggering is the only way state changes.
type JobRecord struct {
	BuilderName string       `json:"buildername"`
	Requests    []JobRequest `json:"requests"`
	EndTime     string       `json:"endtime"`

	// Status distinguishes three cases the wire format conflates:
	// key absent (not yet assigned), key null (in flight), and a numeric
	// terminal code.
	Status    int  `json:"-"`
	HasStatus bool `json:"-"`
	StatusSet bool `json:"-"`
}

// UnmarshalJSON keeps the absent / null / numeric distinction for the status
// field; everything else decodes normally.
func (j *JobRecord) UnmarshalJSON(data []byte) error {
	type alias JobRecord
	aux := struct {
		*alias
		Status json.RawMessage `json:"status"`
	}{alias: (*alias)(j)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	j.HasStatus = aux.Status != nil
	if !j.HasStatus {
		return nil
	}
	if string(aux.Status) == "null" {
		return nil
	}
	if err := json.Unmarshal(aux.Status, &j.Status); err != nil {
		return fmt.Errorf("decoding job status: %w", err)
	}
	j.StatusSet = true
	return nil
}

// InFlight reports whether the record should be treated as still running for
// the purposes of the trigger decision: either the status key is missing or
// it is present but null.
func (j *JobRecord) InFlight() bool {
	return !j.StatusSet
}

// Succeeded reports whether the record carries a terminal success status.
func (j *JobRecord) Succeeded() bool {
	return j.StatusSet && j.Status == StatusSuccess
}

// State classifies a record into the full scheduling-state space, splitting
// the in-flight case into pending (never assigned), running (null status
// with an end time) and unknown.
func (j *JobRecord) State() (int, error) {
	if !j.HasStatus {
		return StatusPending, nil
	}
	if !j.StatusSet {
		if j.EndTime != "" {
			return StatusRunning, nil
		}
		return StatusUnknown, nil
	}
	switch j.Status {
	case StatusSuccess, StatusWarning, StatusFailure, StatusSkipped,
		StatusException, StatusRetry, StatusCancelled:
		return j.Status, nil
	}
	return 0, fmt.Errorf("%w: %d", ErrUnexpectedStatus, j.Status)
}

// JobStatus is the detailed status document for a completed request,
// fetched separately from the job list. Properties carries opaque build
// metadata of mixed types, including the artifact URLs once they have been
// uploaded.
type JobStatus struct {
	Properties map[string]interface{} `json:"properties"`
}

// Property returns a string-valued property, reporting whether it was
// present and a string.
func (s *JobStatus) Property(key string) (string, bool) {
	value, ok := s.Properties[key]
	if !ok {
		return "", false
	}
	str, ok := value.(string)
	return str, ok
}

// Repository describes one entry of the repository catalog.
type Repository struct {
	Repo          string   `json:"repo"`
	RepoType      string   `json:"repo_type"`
	GraphBranches []string `json:"graph_branches"`
}

// TriggerResponse is the raw outcome of one trigger POST. A good response
// is a 202 whose body contains the created request id.
type TriggerResponse struct {
	StatusCode int
	Body       string
}

// Accepted reports whether self-serve accepted the trigger request.
func (r *TriggerResponse) Accepted() bool {
	return r.StatusCode == 202
}
