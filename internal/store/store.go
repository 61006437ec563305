package store

import (
	"context"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// SubmissionListFilter specifies filters for listing submission attempts.
type SubmissionListFilter struct {
	RepoName string
	UserID   string
	Outcome  models.SubmissionOutcome
	Limit    int
}

// Store defines the persistence interface for hoa-pr. Sessions are never
// persisted; the store only backs the catalog, the submission log and the
// local PR ledger.
type Store interface {
	// Courses
	UpsertCourse(ctx context.Context, c *models.Course) error
	GetCourseByCode(ctx context.Context, code string) (*models.Course, error)
	FindCoursesByName(ctx context.Context, name string) ([]*models.Course, error)
	ListCourses(ctx context.Context) ([]*models.Course, error)

	// Nicknames
	SetNickname(ctx context.Context, nick, courseCode string) error
	GetNickname(ctx context.Context, nick string) (*models.Nickname, error)
	ListNicknames(ctx context.Context) ([]*models.Nickname, error)
	DeleteNickname(ctx context.Context, nick string) error

	// Submissions
	CreateSubmission(ctx context.Context, s *models.Submission) error
	ListSubmissions(ctx context.Context, filter SubmissionListFilter) ([]*models.Submission, error)

	// Tracked PRs
	EnsureTrackedPR(ctx context.Context, pr *models.TrackedPR) (bool, error)
	GetTrackedPR(ctx context.Context, repoKey string) (*models.TrackedPR, error)
	ListTrackedPRs(ctx context.Context) ([]*models.TrackedPR, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
