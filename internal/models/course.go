package models

import "time"

// Course is one entry of the local course catalog. Sub-courses of a
// multi-project repository carry the parent's code in ParentCode and share
// its RepoName.
type Course struct {
	ID         string
	RepoName   string
	CourseCode string
	CourseName string
	RepoType   string
	ParentCode string
	Path       string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Identity returns the repository identity that documents for this course
// are fetched and submitted under.
func (c *Course) Identity() RepoIdentity {
	code := c.CourseCode
	if c.ParentCode != "" {
		code = c.ParentCode
	}
	return RepoIdentity{
		RepoName:   c.RepoName,
		CourseCode: code,
		CourseName: c.CourseName,
		RepoType:   c.RepoType,
	}
}

// Nickname maps an informal course name to a course code.
type Nickname struct {
	Nick       string
	CourseCode string
	CreatedAt  time.Time
}
