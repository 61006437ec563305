package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hitsz-openauto/hoa-pr/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Chat turns from many sessions record submissions concurrently; a single
	// connection keeps SQLite from reporting "database is locked".
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func notFound(kind, key string) error {
	return fmt.Errorf("%s %q: %w", kind, key, models.ErrNotFound)
}

// --- Courses ---

const courseColumns = `id, repo_name, course_code, course_name, repo_type, parent_code, path, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCourse(row rowScanner) (*models.Course, error) {
	c := &models.Course{}
	err := row.Scan(&c.ID, &c.RepoName, &c.CourseCode, &c.CourseName, &c.RepoType, &c.ParentCode, &c.Path, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

// UpsertCourse inserts a course or updates the existing row with the same
// course code. c.ID and timestamps are filled from the stored row.
func (s *SQLiteStore) UpsertCourse(ctx context.Context, c *models.Course) error {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = newULID()
	}
	if c.RepoType == "" {
		c.RepoType = "normal"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO courses (`+courseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(course_code) DO UPDATE SET
			repo_name=excluded.repo_name, course_name=excluded.course_name, repo_type=excluded.repo_type,
			parent_code=excluded.parent_code, path=excluded.path, updated_at=excluded.updated_at`,
		c.ID, c.RepoName, c.CourseCode, c.CourseName, c.RepoType, c.ParentCode, c.Path, now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert course: %w", err)
	}

	stored, err := s.GetCourseByCode(ctx, c.CourseCode)
	if err != nil {
		return err
	}
	*c = *stored
	return nil
}

// GetCourseByCode looks a course up by its code, ignoring case.
func (s *SQLiteStore) GetCourseByCode(ctx context.Context, code string) (*models.Course, error) {
	c, err := scanCourse(s.db.QueryRowContext(ctx,
		`SELECT `+courseColumns+` FROM courses WHERE course_code = ? COLLATE NOCASE`, code))
	if err == sql.ErrNoRows {
		return nil, notFound("course", code)
	}
	if err != nil {
		return nil, fmt.Errorf("get course: %w", err)
	}
	return c, nil
}

// FindCoursesByName returns every course whose name matches exactly.
func (s *SQLiteStore) FindCoursesByName(ctx context.Context, name string) ([]*models.Course, error) {
	return s.queryCourses(ctx, `SELECT `+courseColumns+` FROM courses WHERE course_name = ? ORDER BY course_code`, name)
}

func (s *SQLiteStore) ListCourses(ctx context.Context) ([]*models.Course, error) {
	return s.queryCourses(ctx, `SELECT `+courseColumns+` FROM courses ORDER BY course_code`)
}

func (s *SQLiteStore) queryCourses(ctx context.Context, query string, args ...any) ([]*models.Course, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list courses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var courses []*models.Course
	for rows.Next() {
		c, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		courses = append(courses, c)
	}
	return courses, rows.Err()
}

// --- Nicknames ---

func (s *SQLiteStore) SetNickname(ctx context.Context, nick, courseCode string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO nicknames (nick, course_code, created_at) VALUES (?, ?, ?)
		ON CONFLICT(nick) DO UPDATE SET course_code=excluded.course_code`,
		nick, courseCode, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set nickname: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetNickname(ctx context.Context, nick string) (*models.Nickname, error) {
	n := &models.Nickname{}
	err := s.db.QueryRowContext(ctx,
		`SELECT nick, course_code, created_at FROM nicknames WHERE nick = ?`, nick,
	).Scan(&n.Nick, &n.CourseCode, &n.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, notFound("nickname", nick)
	}
	if err != nil {
		return nil, fmt.Errorf("get nickname: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListNicknames(ctx context.Context) ([]*models.Nickname, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT nick, course_code, created_at FROM nicknames ORDER BY nick`)
	if err != nil {
		return nil, fmt.Errorf("list nicknames: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Nickname
	for rows.Next() {
		n := &models.Nickname{}
		if err := rows.Scan(&n.Nick, &n.CourseCode, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan nickname: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteNickname(ctx context.Context, nick string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM nicknames WHERE nick = ?", nick)
	if err != nil {
		return fmt.Errorf("delete nickname: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return notFound("nickname", nick)
	}
	return nil
}

// --- Submissions ---

func (s *SQLiteStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	if sub.ID == "" {
		sub.ID = newULID()
	}
	sub.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO submissions (id, repo_name, course_code, user_id, scope, outcome, reason, pr_ref, created, revision, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.RepoName, sub.CourseCode, sub.UserID, sub.Scope, string(sub.Outcome),
		sub.Reason, sub.PRRef, boolToInt(sub.Created), sub.Revision, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

// ListSubmissions returns attempts newest first.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, filter SubmissionListFilter) ([]*models.Submission, error) {
	query := `SELECT id, repo_name, course_code, user_id, scope, outcome, reason, pr_ref, created, revision, created_at
		FROM submissions WHERE 1=1`
	var args []any

	if filter.RepoName != "" {
		query += " AND repo_name = ?"
		args = append(args, filter.RepoName)
	}
	if filter.UserID != "" {
		query += " AND user_id = ?"
		args = append(args, filter.UserID)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(filter.Outcome))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.Submission
	for rows.Next() {
		sub := &models.Submission{}
		var outcome string
		if err := rows.Scan(&sub.ID, &sub.RepoName, &sub.CourseCode, &sub.UserID, &sub.Scope, &outcome,
			&sub.Reason, &sub.PRRef, &sub.Created, &sub.Revision, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Outcome = models.SubmissionOutcome(outcome)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// --- Tracked PRs ---

const trackedPRColumns = `id, repo_key, course_code, course_name, repo_type, document, revision, pr_ref, updates, created_at, updated_at`

func scanTrackedPR(row rowScanner) (*models.TrackedPR, error) {
	pr := &models.TrackedPR{}
	err := row.Scan(&pr.ID, &pr.RepoKey, &pr.CourseCode, &pr.CourseName, &pr.RepoType, &pr.Document,
		&pr.Revision, &pr.PRRef, &pr.Updates, &pr.CreatedAt, &pr.UpdatedAt)
	return pr, err
}

// EnsureTrackedPR records pr under its repo key. When a PR is already
// tracked for that key its document is replaced, its update counter bumped,
// and pr is filled from the stored row; the returned bool is false. A new
// row reports true.
func (s *SQLiteStore) EnsureTrackedPR(ctx context.Context, pr *models.TrackedPR) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	existing, err := scanTrackedPR(tx.QueryRowContext(ctx,
		`SELECT `+trackedPRColumns+` FROM tracked_prs WHERE repo_key = ?`, pr.RepoKey))
	switch {
	case err == sql.ErrNoRows:
		if pr.ID == "" {
			pr.ID = newULID()
		}
		if pr.PRRef == "" {
			pr.PRRef = "local/" + pr.ID
		}
		pr.Updates = 0
		pr.CreatedAt = now
		pr.UpdatedAt = now
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tracked_prs (`+trackedPRColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			pr.ID, pr.RepoKey, pr.CourseCode, pr.CourseName, pr.RepoType, pr.Document,
			pr.Revision, pr.PRRef, pr.Updates, pr.CreatedAt, pr.UpdatedAt,
		); err != nil {
			return false, fmt.Errorf("insert tracked pr: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("commit transaction: %w", err)
		}
		return true, nil
	case err != nil:
		return false, fmt.Errorf("get tracked pr: %w", err)
	}

	existing.Document = pr.Document
	existing.Revision = pr.Revision
	existing.Updates++
	existing.UpdatedAt = now
	if pr.CourseName != "" {
		existing.CourseName = pr.CourseName
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE tracked_prs SET document=?, revision=?, course_name=?, updates=?, updated_at=? WHERE id=?`,
		existing.Document, existing.Revision, existing.CourseName, existing.Updates, existing.UpdatedAt, existing.ID,
	); err != nil {
		return false, fmt.Errorf("update tracked pr: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	*pr = *existing
	return false, nil
}

func (s *SQLiteStore) GetTrackedPR(ctx context.Context, repoKey string) (*models.TrackedPR, error) {
	pr, err := scanTrackedPR(s.db.QueryRowContext(ctx,
		`SELECT `+trackedPRColumns+` FROM tracked_prs WHERE repo_key = ?`, repoKey))
	if err == sql.ErrNoRows {
		return nil, notFound("tracked pr", repoKey)
	}
	if err != nil {
		return nil, fmt.Errorf("get tracked pr: %w", err)
	}
	return pr, nil
}

func (s *SQLiteStore) ListTrackedPRs(ctx context.Context) ([]*models.TrackedPR, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+trackedPRColumns+` FROM tracked_prs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tracked prs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*models.TrackedPR
	for rows.Next() {
		pr, err := scanTrackedPR(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tracked pr: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}
