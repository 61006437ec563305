// Package catalog maps the course references users type in chat to
// repository identities, and loads the local course index from a tree of
// readme.toml files.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

// CourseStore is the subset of the store the catalog needs.
type CourseStore interface {
	UpsertCourse(ctx context.Context, c *models.Course) error
	GetCourseByCode(ctx context.Context, code string) (*models.Course, error)
	FindCoursesByName(ctx context.Context, name string) ([]*models.Course, error)
	ListCourses(ctx context.Context) ([]*models.Course, error)
	SetNickname(ctx context.Context, nick, courseCode string) error
	GetNickname(ctx context.Context, nick string) (*models.Nickname, error)
}

// Resolver resolves course references against the sqlite catalog.
type Resolver struct {
	store CourseStore
}

func NewResolver(s CourseStore) *Resolver {
	return &Resolver{store: s}
}

// Resolve looks ref up, in order, as: the leading code of a pasted
// "CODE name" line, a course code, a nickname, an exact course name, and an
// exact sub-course name. A sub-course resolves to its parent repository.
func (r *Resolver) Resolve(ctx context.Context, ref string) (models.RepoIdentity, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return models.RepoIdentity{}, fmt.Errorf("empty course reference: %w", models.ErrNotFound)
	}

	if first, _, ok := strings.Cut(ref, " "); ok {
		c, err := r.byCode(ctx, first)
		if err == nil {
			return r.identity(ctx, c)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.RepoIdentity{}, err
		}
	}

	c, err := r.byCode(ctx, ref)
	if err == nil {
		return r.identity(ctx, c)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return models.RepoIdentity{}, err
	}

	nick, err := r.store.GetNickname(ctx, ref)
	switch {
	case err == nil:
		c, err := r.byCode(ctx, nick.CourseCode)
		if err == nil {
			return r.identity(ctx, c)
		}
		if !errors.Is(err, models.ErrNotFound) {
			return models.RepoIdentity{}, err
		}
	case !errors.Is(err, models.ErrNotFound):
		return models.RepoIdentity{}, err
	}

	matches, err := r.store.FindCoursesByName(ctx, ref)
	if err != nil {
		return models.RepoIdentity{}, err
	}
	// top-level courses before sub-courses
	for _, c := range matches {
		if c.ParentCode == "" {
			return r.identity(ctx, c)
		}
	}
	if len(matches) > 0 {
		return r.identity(ctx, matches[0])
	}

	return models.RepoIdentity{}, fmt.Errorf("course %q: %w", ref, models.ErrNotFound)
}

func (r *Resolver) byCode(ctx context.Context, code string) (*models.Course, error) {
	return r.store.GetCourseByCode(ctx, strings.ToUpper(strings.TrimSpace(code)))
}

// identity returns the repository identity for c. Sub-courses are edited
// through their parent's document.
func (r *Resolver) identity(ctx context.Context, c *models.Course) (models.RepoIdentity, error) {
	if c.ParentCode == "" {
		return c.Identity(), nil
	}
	parent, err := r.store.GetCourseByCode(ctx, c.ParentCode)
	if errors.Is(err, models.ErrNotFound) {
		return c.Identity(), nil
	}
	if err != nil {
		return models.RepoIdentity{}, err
	}
	return parent.Identity(), nil
}

// AddNickname maps nick to an existing course code.
func (r *Resolver) AddNickname(ctx context.Context, nick, code string) error {
	nick = strings.TrimSpace(nick)
	if nick == "" {
		return fmt.Errorf("nickname must not be empty")
	}
	c, err := r.byCode(ctx, code)
	if err != nil {
		return fmt.Errorf("add nickname %q: %w", nick, err)
	}
	return r.store.SetNickname(ctx, nick, c.CourseCode)
}

// ListCourses returns every catalog row ordered by course code.
func (r *Resolver) ListCourses(ctx context.Context) ([]*models.Course, error) {
	return r.store.ListCourses(ctx)
}
