package job

import (
	"time"

	"alttext/internal/core/report"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ScanJob is the externally visible lifecycle record of one scan.
// Counters are monotonically non-decreasing while the job runs.
type ScanJob struct {
	JobID           string                   `json:"job_id"`
	TargetURL       string                   `json:"target_url"`
	Depth           int                      `json:"depth"`
	Status          Status                   `json:"status"`
	PagesScanned    int                      `json:"pages_scanned"`
	ImagesFound     int                      `json:"images_found"`
	ImagesMissing   int                      `json:"images_missing_alt"`
	ErrorMessage    *string                  `json:"error_message,omitempty"`
	CreatedAt       time.Time                `json:"created_at"`
	CompletedAt     *time.Time               `json:"completed_at,omitempty"`
	Report          *report.ComplianceReport `json:"report,omitempty"`
	Account         string                   `json:"account,omitempty"`
	Language        string                   `json:"language,omitempty"`
	Tone            string                   `json:"tone,omitempty"`
	WCAGLevel       string                   `json:"wcag_level,omitempty"`
	GenerateForAlts bool                     `json:"generate_alt_text,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}
