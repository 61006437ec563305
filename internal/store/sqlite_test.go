package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)

	err = s.Migrate(context.Background())
	require.NoError(t, err)

	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(filepath.Join(dir, "subdir"))
	assert.NoError(t, err, "should create parent directory")
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Running migrate again should be a no-op
	err := s.Migrate(ctx)
	assert.NoError(t, err)
}

// --- Courses ---

func TestCourseUpsertAndLookup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c := &models.Course{RepoName: "AUTO2001", CourseCode: "AUTO2001", CourseName: "自动化专业导论"}
	require.NoError(t, s.UpsertCourse(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "normal", c.RepoType)
	assert.False(t, c.CreatedAt.IsZero())

	// Case-insensitive code lookup
	got, err := s.GetCourseByCode(ctx, "auto2001")
	require.NoError(t, err)
	assert.Equal(t, c.ID, got.ID)
	assert.Equal(t, "自动化专业导论", got.CourseName)

	// Upsert keeps the row and updates fields
	again := &models.Course{RepoName: "AUTO2001", CourseCode: "AUTO2001", CourseName: "新名字", Path: "/x"}
	require.NoError(t, s.UpsertCourse(ctx, again))
	assert.Equal(t, c.ID, again.ID)
	assert.Equal(t, "新名字", again.CourseName)

	byName, err := s.FindCoursesByName(ctx, "新名字")
	require.NoError(t, err)
	assert.Len(t, byName, 1)

	all, err := s.ListCourses(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = s.GetCourseByCode(ctx, "NOPE")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

// --- Nicknames ---

func TestNicknames(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetNickname(ctx, "自导", "AUTO2001"))
	require.NoError(t, s.SetNickname(ctx, "自导", "AUTO2002"))

	n, err := s.GetNickname(ctx, "自导")
	require.NoError(t, err)
	assert.Equal(t, "AUTO2002", n.CourseCode)

	list, err := s.ListNicknames(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteNickname(ctx, "自导"))
	_, err = s.GetNickname(ctx, "自导")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, s.DeleteNickname(ctx, "自导"), models.ErrNotFound)
}

// --- Submissions ---

func TestSubmissions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateSubmission(ctx, &models.Submission{
		RepoName: "AUTO2001", UserID: "u1", Outcome: models.SubmissionDenied, Reason: "含有手机号",
	}))
	ok := &models.Submission{
		RepoName: "AUTO2001", UserID: "u1", Outcome: models.SubmissionSubmitted, PRRef: "https://example/pr/1", Created: true,
	}
	require.NoError(t, s.CreateSubmission(ctx, ok))
	require.NoError(t, s.CreateSubmission(ctx, &models.Submission{
		RepoName: "OTHER", UserID: "u2", Outcome: models.SubmissionFailed,
	}))

	all, err := s.ListSubmissions(ctx, SubmissionListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	repo, err := s.ListSubmissions(ctx, SubmissionListFilter{RepoName: "AUTO2001"})
	require.NoError(t, err)
	assert.Len(t, repo, 2)

	submitted, err := s.ListSubmissions(ctx, SubmissionListFilter{Outcome: models.SubmissionSubmitted})
	require.NoError(t, err)
	require.Len(t, submitted, 1)
	assert.Equal(t, ok.ID, submitted[0].ID)
	assert.True(t, submitted[0].Created)
	assert.Equal(t, "https://example/pr/1", submitted[0].PRRef)

	limited, err := s.ListSubmissions(ctx, SubmissionListFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

// --- Tracked PRs ---

func TestEnsureTrackedPR_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first := &models.TrackedPR{RepoKey: "AUTO2001", CourseCode: "AUTO2001", Document: "a", Revision: "r1"}
	created, err := s.EnsureTrackedPR(ctx, first)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, first.PRRef)

	second := &models.TrackedPR{RepoKey: "AUTO2001", CourseCode: "AUTO2001", Document: "b", Revision: "r2"}
	created, err = s.EnsureTrackedPR(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.PRRef, second.PRRef)
	assert.Equal(t, 1, second.Updates)

	got, err := s.GetTrackedPR(ctx, "AUTO2001")
	require.NoError(t, err)
	assert.Equal(t, "b", got.Document)
	assert.Equal(t, "r2", got.Revision)

	list, err := s.ListTrackedPRs(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	_, err = s.GetTrackedPR(ctx, "NOPE")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestEnsureTrackedPR_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	createdCount := 0
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := s.EnsureTrackedPR(ctx, &models.TrackedPR{RepoKey: "K", Document: "d"})
			assert.NoError(t, err)
			if created {
				mu.Lock()
				createdCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, createdCount)
	list, err := s.ListTrackedPRs(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, 7, list[0].Updates)
}
