package models

import "strings"

// RepoIdentity names the course repository a document belongs to. It is the
// idempotency key for PR submission.
type RepoIdentity struct {
	RepoName   string `json:"repo_name"`
	CourseCode string `json:"course_code"`
	CourseName string `json:"course_name"`
	RepoType   string `json:"repo_type"`
}

// Key returns the value used to address the repository remotely: the repo
// name when known, otherwise the course code.
func (r RepoIdentity) Key() string {
	if r.RepoName != "" {
		return r.RepoName
	}
	return strings.ToUpper(r.CourseCode)
}

// Verdict is the outcome of a compliance review.
type Verdict struct {
	Allow  bool     `json:"allow"`
	Reason string   `json:"reason,omitempty"`
	Flags  []string `json:"flags,omitempty"`
}

// EnsureResult is returned by a PR service after a create-or-update call.
type EnsureResult struct {
	PRRef   string `json:"pr_ref"`
	Created bool   `json:"created"`
	Status  string `json:"status,omitempty"`
}
