package models

import "time"

// SubmissionOutcome records how a submission attempt ended.
type SubmissionOutcome string

const (
	SubmissionSubmitted SubmissionOutcome = "submitted"
	SubmissionDenied    SubmissionOutcome = "denied"
	SubmissionFailed    SubmissionOutcome = "failed"
)

// Submission is one pass through the submission pipeline.
type Submission struct {
	ID         string
	RepoName   string
	CourseCode string
	UserID     string
	Scope      string
	Outcome    SubmissionOutcome
	Reason     string
	PRRef      string
	Created    bool
	Revision   string
	CreatedAt  time.Time
}

// TrackedPR is the local ledger entry for an open pull request. There is at
// most one per repository key.
type TrackedPR struct {
	ID         string
	RepoKey    string
	CourseCode string
	CourseName string
	RepoType   string
	Document   string
	Revision   string
	PRRef      string
	Updates    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
