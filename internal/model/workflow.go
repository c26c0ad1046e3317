package model

import "time"

// WorkflowType distinguishes the two pipeline entry points.
type WorkflowType string

const (
	WorkflowCollection WorkflowType = "collection"
	WorkflowDataEntry  WorkflowType = "data_entry"
)

// WorkflowStatus is the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowError     WorkflowStatus = "error"
)

// Terminal reports whether no further transitions are possible.
func (s WorkflowStatus) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowError
}

// Workflow is one bounded execution of the pipeline over a document set.
type Workflow struct {
	ID        string         `json:"id"`
	Type      WorkflowType   `json:"type"`
	Status    WorkflowStatus `json:"status"`
	Progress  int            `json:"progress"`
	StartTime time.Time      `json:"startTime"`
	EndTime   *time.Time     `json:"endTime,omitempty"`
	Documents []Document     `json:"documents"`
	Results   *Results       `json:"results,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// DocumentError records why a document did not produce a voucher.
type DocumentError struct {
	DocumentID string   `json:"documentId"`
	FileName   string   `json:"fileName,omitempty"`
	Reason     string   `json:"reason"`
	Issues     []string `json:"issues,omitempty"`
}

// Results aggregates a data-entry run.
type Results struct {
	Total      int             `json:"total"`
	Processed  int             `json:"processed"`
	Successful int             `json:"successful"`
	Failed     int             `json:"failed"`
	Accuracy   float64         `json:"accuracy"`
	MappedData []LedgerVoucher `json:"mappedData"`
	Errors     []DocumentError `json:"errors"`
	Synced     int             `json:"synced"` // sent successfully during the run
	Queued     int             `json:"queued"` // handed to the reconciliation queue
	Duration   time.Duration   `json:"duration"`
}
