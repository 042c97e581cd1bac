package dto

import "time"

type IngestRequest struct {
	AccountID    string
	Folder       string
	UIDValidity  uint32
	CandidateIDs []uint32
	// Lookback is the retention horizon; zero disables the cutoff.
	Lookback time.Duration
}

type MessageError struct {
	UID   uint32 `json:"uid"`
	Stage string `json:"stage"`
	Error string `json:"error"`
	// Retryable marks failures that should be attempted again on the next run.
	Retryable bool `json:"retryable"`
}

type IngestResult struct {
	ProcessedCount int            `json:"processedCount"`
	NewCount       int            `json:"newCount"`
	DuplicateCount int            `json:"duplicateCount"`
	DroppedCount   int            `json:"droppedCount"`
	FailedCount    int            `json:"failedCount"`
	Errors         []MessageError `json:"errors"`
	// Unprocessed lists candidates never fetched because the run was cancelled.
	Unprocessed []uint32  `json:"-"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

// RetryFloor returns the lowest candidate that must be seen again, or zero.
func (r *IngestResult) RetryFloor() uint32 {
	var floor uint32
	consider := func(uid uint32) {
		if floor == 0 || uid < floor {
			floor = uid
		}
	}
	for _, e := range r.Errors {
		if e.Retryable {
			consider(e.UID)
		}
	}
	for _, uid := range r.Unprocessed {
		consider(uid)
	}
	return floor
}

// HasRetryableError reports whether uid failed in a way worth another run.
func (r *IngestResult) HasRetryableError(uid uint32) bool {
	for _, e := range r.Errors {
		if e.UID == uid && e.Retryable {
			return true
		}
	}
	return false
}

// GiveUp records the failures of uid as final.
func (r *IngestResult) GiveUp(uid uint32) {
	for i := range r.Errors {
		if r.Errors[i].UID == uid {
			r.Errors[i].Retryable = false
		}
	}
}
