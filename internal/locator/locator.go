// Package locator finds the text leaves of a document that best match a
// user-supplied paragraph.
package locator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/hitsz-openauto/hoa-pr/internal/document"
	"github.com/hitsz-openauto/hoa-pr/internal/models"
)

const (
	DefaultThreshold     = 0.8
	DefaultMaxCandidates = 8
	PreviewRunes         = 60
)

// Candidate is one ranked match.
type Candidate struct {
	Location  document.Location `json:"location"`
	RegionTag document.Region   `json:"region_tag"`
	Preview   string            `json:"preview"`
	Score     float64           `json:"score"`
	// Context is the section title or lecturer name enclosing the leaf.
	Context string `json:"context,omitempty"`
	Course  string `json:"course,omitempty"`
}

// Label renders a one-line description of the candidate for selection menus.
func (c Candidate) Label() string {
	p := c.Location.Path
	switch c.RegionTag {
	case document.RegionDescription:
		return "[description] " + c.Preview
	case document.RegionSectionItem:
		return fmt.Sprintf("[sections] 《%s》#%d %s", c.Context, p.Item+1, c.Preview)
	case document.RegionLecturerReview:
		return fmt.Sprintf("[lecturers] 《%s》评价#%d %s", c.Context, p.Review+1, c.Preview)
	case document.RegionCourseSectionItem:
		return fmt.Sprintf("[courses.sections] 《%s》/《%s》#%d %s", c.Course, c.Context, p.Item+1, c.Preview)
	case document.RegionCourseTeacherReview:
		return fmt.Sprintf("[courses.teachers] 《%s》/《%s》评价#%d %s", c.Course, c.Context, p.Review+1, c.Preview)
	default:
		return c.Preview
	}
}

// Result holds the presented candidates and the total number of matches
// before the presentation cap was applied.
type Result struct {
	Candidates []Candidate `json:"candidates"`
	Total      int         `json:"total"`
}

// Truncated reports whether matches were dropped by the cap.
func (r Result) Truncated() bool { return r.Total > len(r.Candidates) }

// Locator scores document leaves against a query.
type Locator struct {
	Threshold     float64
	MaxCandidates int
}

// New returns a Locator with the default threshold and cap.
func New() *Locator {
	return &Locator{Threshold: DefaultThreshold, MaxCandidates: DefaultMaxCandidates}
}

// Locate ranks every addressable leaf of doc against query. It returns
// models.ErrNotFound when no leaf reaches the threshold. Only leaf text is
// searched, never titles, names or codes.
func (l *Locator) Locate(doc document.Document, query string) (Result, error) {
	q := Normalize(query)
	if q == "" {
		return Result{}, fmt.Errorf("empty query: %w", models.ErrNotFound)
	}

	threshold := l.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	var all []Candidate
	for _, leaf := range document.Leaves(doc) {
		text := Normalize(leaf.Text)
		if text == "" {
			continue
		}
		score := Score(q, text)
		if score < threshold {
			continue
		}
		all = append(all, Candidate{
			Location:  leaf.Location,
			RegionTag: leaf.Location.Region,
			Preview:   Preview(text, PreviewRunes),
			Score:     score,
			Context:   leaf.Context,
			Course:    leaf.Course,
		})
	}
	if len(all) == 0 {
		return Result{}, fmt.Errorf("no paragraph matches %q: %w", Preview(q, PreviewRunes), models.ErrNotFound)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	res := Result{Candidates: all, Total: len(all)}
	limit := l.MaxCandidates
	if limit <= 0 {
		limit = DefaultMaxCandidates
	}
	if len(all) > limit {
		res.Candidates = all[:limit]
	}
	return res, nil
}

// Normalize trims surrounding whitespace and folds CRLF line endings.
func Normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}

// Score returns the similarity of query to text in [0,1]. Containment scores
// 1. Otherwise the best similarity between the query and any equally long
// window of the text, or any single line of it, is used.
func Score(query, text string) float64 {
	if strings.Contains(text, query) {
		return 1
	}
	q := []rune(query)
	t := []rune(text)

	best := 0.0
	if len(t) <= len(q) {
		best = similarity(q, t)
	} else {
		step := max(len(q)/4, 1)
		for start := 0; ; start += step {
			end := start + len(q)
			if end > len(t) {
				end = len(t)
				start = end - len(q)
			}
			if s := similarity(q, t[start:end]); s > best {
				best = s
			}
			if end == len(t) || best == 1 {
				break
			}
		}
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if s := similarity(q, []rune(line)); s > best {
			best = s
		}
	}
	return best
}

func similarity(a, b []rune) float64 {
	longest := max(len(a), len(b))
	if longest == 0 {
		return 1
	}
	d := levenshtein.ComputeDistance(string(a), string(b))
	return 1 - float64(d)/float64(longest)
}

// Preview returns the first line of s truncated to limit runes with an
// ellipsis.
func Preview(s string, limit int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	line = strings.TrimSpace(line)
	r := []rune(line)
	if limit <= 0 || len(r) <= limit {
		return line
	}
	return string(r[:limit-1]) + "…"
}
